package model

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	deep "github.com/patrikeh/go-deep"
	"github.com/patrikeh/go-deep/training"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/pkg/persistence"
)

type stubSource struct {
	outcomes []domain.SpinOutcome
}

func (s *stubSource) SnapshotAll() []domain.SpinOutcome {
	return s.outcomes
}

func testHyperparams() Hyperparams {
	return Hyperparams{
		SequenceLength: 3,
		HiddenLayers:   []int{4},
		Epochs:         1,
		BatchSize:      4,
	}
}

// testDump 不经训练直接生成权重快照，让 manager 测试不依赖训练耗时
func testDump(inputs int) *deep.Dump {
	nn := deep.NewNeural(&deep.Config{
		Inputs:     inputs,
		Layout:     []int{4, domain.WheelSize},
		Activation: deep.ActivationSigmoid,
		Mode:       deep.ModeMultiClass,
		Weight:     deep.NewNormal(1.0, 0.0),
		Bias:       true,
	})
	return nn.Dump()
}

func stubTrainFn(calls *atomic.Int32) func(context.Context, Hyperparams, training.Examples) *deep.Dump {
	return func(_ context.Context, hp Hyperparams, _ training.Examples) *deep.Dump {
		if calls != nil {
			calls.Add(1)
		}
		return testDump(hp.SequenceLength)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func TestPredictBeforeFirstTraining(t *testing.T) {
	m := NewManager(testHyperparams(), &stubSource{outcomes: makeOutcomes(40)}, nil)
	_, _, err := m.Predict(makeOutcomes(3))
	if !errors.Is(err, ErrModelNotReady) {
		t.Errorf("期望 ErrModelNotReady, got %v", err)
	}
}

func TestTrainOnceInsufficientData(t *testing.T) {
	m := NewManager(testHyperparams(), &stubSource{outcomes: makeOutcomes(3)}, nil)
	m.trainFn = stubTrainFn(nil)

	err := m.TrainOnce(context.Background())
	if !errors.Is(err, ErrTrainingDataInsufficient) {
		t.Errorf("期望 ErrTrainingDataInsufficient, got %v", err)
	}
	if m.CurrentVersion() != nil {
		t.Error("数据不足时不应产生模型版本")
	}
}

func TestTrainOnceSwapsVersion(t *testing.T) {
	m := NewManager(testHyperparams(), &stubSource{outcomes: makeOutcomes(40)}, nil)
	m.trainFn = stubTrainFn(nil)

	if err := m.TrainOnce(context.Background()); err != nil {
		t.Fatalf("训练失败: %v", err)
	}
	v1 := m.CurrentVersion()
	if v1 == nil || v1.ID != 1 {
		t.Fatalf("首次训练后版本应为 v1, got %+v", v1)
	}

	window := makeOutcomes(3)
	probs1, _, err := m.Predict(window)
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}

	if err := m.TrainOnce(context.Background()); err != nil {
		t.Fatalf("第二次训练失败: %v", err)
	}
	if got := m.CurrentVersion().ID; got != 2 {
		t.Errorf("版本号应递增到 2, got %d", got)
	}

	// 旧版本的引用仍可用，且结果与切换前一致（同版本确定性）
	probsOld, err := v1.Predict(window)
	if err != nil {
		t.Fatalf("旧版本预测失败: %v", err)
	}
	for i := range probs1 {
		if probs1[i] != probsOld[i] {
			t.Fatalf("同版本同窗口输出应逐位一致, i=%d: %v != %v", i, probs1[i], probsOld[i])
		}
	}
}

func TestRetrainCoalescing(t *testing.T) {
	m := NewManager(testHyperparams(), &stubSource{outcomes: makeOutcomes(40)}, nil)

	var calls atomic.Int32
	gate := make(chan struct{})
	m.trainFn = func(_ context.Context, hp Hyperparams, _ training.Examples) *deep.Dump {
		calls.Add(1)
		<-gate
		return testDump(hp.SequenceLength)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.RequestRetrain()
	waitFor(t, func() bool { return calls.Load() == 1 })
	if !m.IsTraining() {
		t.Error("训练进行中 IsTraining 应为 true")
	}

	// 第一轮未结束时的多次请求只应合并成一次待处理
	for i := 0; i < 5; i++ {
		m.RequestRetrain()
	}

	gate <- struct{}{}
	waitFor(t, func() bool { return calls.Load() == 2 })
	gate <- struct{}{}

	waitFor(t, func() bool {
		v := m.CurrentVersion()
		return v != nil && v.ID == 2
	})

	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Errorf("合并后总训练次数 = %d, want 2", got)
	}
}

func TestTrainTimeoutDiscardsResult(t *testing.T) {
	hp := testHyperparams()
	hp.TrainTimeout = 10 * time.Millisecond
	m := NewManager(hp, &stubSource{outcomes: makeOutcomes(40)}, nil)
	m.trainFn = func(_ context.Context, h Hyperparams, _ training.Examples) *deep.Dump {
		time.Sleep(60 * time.Millisecond)
		return testDump(h.SequenceLength)
	}

	err := m.TrainOnce(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("期望 DeadlineExceeded, got %v", err)
	}
	if m.CurrentVersion() != nil {
		t.Error("超时的训练结果不应被采用")
	}
}

func TestTrainAbortKeepsOldVersion(t *testing.T) {
	m := NewManager(testHyperparams(), &stubSource{outcomes: makeOutcomes(40)}, nil)
	m.trainFn = stubTrainFn(nil)
	if err := m.TrainOnce(context.Background()); err != nil {
		t.Fatalf("训练失败: %v", err)
	}
	v1 := m.CurrentVersion()

	// 关停场景：训练中途 ctx 被取消，trainFn 在 epoch 边界返回 nil
	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.trainFn = func(tctx context.Context, _ Hyperparams, _ training.Examples) *deep.Dump {
		close(started)
		<-tctx.Done()
		return nil
	}

	errC := make(chan error, 1)
	go func() { errC <- m.TrainOnce(ctx) }()
	<-started
	cancel()

	if err := <-errC; !errors.Is(err, context.Canceled) {
		t.Errorf("期望 context.Canceled, got %v", err)
	}
	if got := m.CurrentVersion(); got != v1 {
		t.Errorf("中止的训练不应替换当前版本: got v%d, want v%d", got.ID, v1.ID)
	}
}

func TestTrainOnceWhileTraining(t *testing.T) {
	m := NewManager(testHyperparams(), &stubSource{outcomes: makeOutcomes(40)}, nil)

	gate := make(chan struct{})
	m.trainFn = func(_ context.Context, h Hyperparams, _ training.Examples) *deep.Dump {
		<-gate
		return testDump(h.SequenceLength)
	}

	errC := make(chan error, 1)
	go func() { errC <- m.TrainOnce(context.Background()) }()
	waitFor(t, m.IsTraining)

	if err := m.TrainOnce(context.Background()); !errors.Is(err, ErrTrainingInProgress) {
		t.Errorf("期望 ErrTrainingInProgress, got %v", err)
	}

	close(gate)
	if err := <-errC; err != nil {
		t.Fatalf("第一次训练失败: %v", err)
	}
}

func TestSaveAndLoadPersisted(t *testing.T) {
	service := persistence.NewJSONFileService(t.TempDir())
	store := service.NewStore("model", "test-table", "current")

	m := NewManager(testHyperparams(), &stubSource{outcomes: makeOutcomes(40)}, store)
	m.trainFn = stubTrainFn(nil)
	if err := m.TrainOnce(context.Background()); err != nil {
		t.Fatalf("训练失败: %v", err)
	}

	window := makeOutcomes(3)
	probs1, ver1, err := m.Predict(window)
	if err != nil {
		t.Fatalf("预测失败: %v", err)
	}

	// 新 manager 从同一个 store 恢复
	m2 := NewManager(testHyperparams(), &stubSource{}, store)
	if err := m2.LoadPersisted(); err != nil {
		t.Fatalf("恢复失败: %v", err)
	}

	probs2, ver2, err := m2.Predict(window)
	if err != nil {
		t.Fatalf("恢复后预测失败: %v", err)
	}
	if ver1 != ver2 {
		t.Errorf("恢复后版本号 = %d, want %d", ver2, ver1)
	}
	for i := range probs1 {
		if probs1[i] != probs2[i] {
			t.Fatalf("权重经落盘往返后输出应逐位一致, i=%d: %v != %v", i, probs1[i], probs2[i])
		}
	}

	// 恢复后继续训练，版本号接着递增
	m2.trainFn = stubTrainFn(nil)
	stub := &stubSource{outcomes: makeOutcomes(40)}
	m2.source = stub
	if err := m2.TrainOnce(context.Background()); err != nil {
		t.Fatalf("恢复后训练失败: %v", err)
	}
	if got := m2.CurrentVersion().ID; got != ver1+1 {
		t.Errorf("恢复后新版本号 = %d, want %d", got, ver1+1)
	}
}

func TestLoadPersistedNotFound(t *testing.T) {
	service := persistence.NewJSONFileService(t.TempDir())
	store := service.NewStore("model", "empty", "current")

	m := NewManager(testHyperparams(), &stubSource{}, store)
	if err := m.LoadPersisted(); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("期望 ErrModelNotFound, got %v", err)
	}
}
