package model

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	deep "github.com/patrikeh/go-deep"
	"github.com/patrikeh/go-deep/training"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/internal/metrics"
	"github.com/betbot/goroulette/pkg/persistence"
	"github.com/betbot/goroulette/pkg/sigchan"
)

var log = logrus.WithField("component", "model")

var (
	// ErrTrainingDataInsufficient 历史数据不足以构成训练集
	ErrTrainingDataInsufficient = errors.New("training data insufficient")
	// ErrModelNotReady 尚无任何已训练的模型版本
	ErrModelNotReady = errors.New("model not ready")
	// ErrModelNotFound 持久化存储中没有模型
	ErrModelNotFound = errors.New("model not found")
	// ErrTrainingInProgress 已有训练任务在执行
	ErrTrainingInProgress = errors.New("training already in progress")
)

// HistorySource 训练样本来源
type HistorySource interface {
	SnapshotAll() []domain.SpinOutcome
}

// Manager 管理模型的训练与版本切换。
//
// 任意时刻最多一个训练任务在跑；训练期间到达的重训请求
// 在信号槽里合并成一个待处理信号，由后台 worker 逐个消费。
// 版本切换通过 atomic.Pointer 完成，预测方永远读到完整版本。
type Manager struct {
	hp     Hyperparams
	source HistorySource
	store  persistence.Store // 可为 nil：不落盘

	current  atomic.Pointer[Version]
	nextID   atomic.Int64
	training atomic.Bool

	retrainC *sigchan.Chan
	done     chan struct{}

	// trainFn 测试时可替换
	trainFn func(ctx context.Context, hp Hyperparams, examples training.Examples) *deep.Dump
}

// NewManager 创建模型管理器。store 为 nil 时跳过持久化。
func NewManager(hp Hyperparams, source HistorySource, store persistence.Store) *Manager {
	m := &Manager{
		hp:       hp.sanitized(),
		source:   source,
		store:    store,
		retrainC: sigchan.New(1),
		done:     make(chan struct{}),
		trainFn:  trainNetwork,
	}
	return m
}

// SequenceLength 模型的输入窗口长度
func (m *Manager) SequenceLength() int {
	return m.hp.SequenceLength
}

// Start 启动后台训练 worker，ctx 取消后退出。
func (m *Manager) Start(ctx context.Context) {
	go m.trainLoop(ctx)
}

// Done 在后台 worker 退出（含正在执行的训练结束）后关闭。
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) trainLoop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.retrainC.C():
			if err := m.TrainOnce(ctx); err != nil {
				switch {
				case errors.Is(err, ErrTrainingDataInsufficient):
					log.Debugf("跳过重训: %v", err)
				case ctx.Err() != nil:
					// 关停路径，交给上层收尾
				default:
					log.Warnf("⚠️ 模型重训失败: %v", err)
				}
			}
		}
	}
}

// RequestRetrain 请求一次重训。训练进行中重复调用只留下一个待处理信号。
func (m *Manager) RequestRetrain() {
	m.retrainC.Emit()
}

// TrainOnce 同步执行一次完整训练并原子切换当前版本。
// 样本在进入训练前快照，训练期间新到的号码不参与本次训练。
func (m *Manager) TrainOnce(ctx context.Context) error {
	if !m.training.CompareAndSwap(false, true) {
		return ErrTrainingInProgress
	}
	defer m.training.Store(false)

	outcomes := m.source.SnapshotAll()
	need := m.hp.SequenceLength + 1
	if len(outcomes) < need {
		return fmt.Errorf("%w: 需要至少 %d 条历史, 当前 %d 条",
			ErrTrainingDataInsufficient, need, len(outcomes))
	}

	tctx := ctx
	if m.hp.TrainTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, m.hp.TrainTimeout)
		defer cancel()
	}

	examples := buildExamples(outcomes, m.hp.SequenceLength)
	start := time.Now()
	log.Infof("🧠 开始训练模型: samples=%d epochs=%d layout=%v",
		len(examples), m.hp.Epochs, m.hp.HiddenLayers)

	dump := m.trainFn(tctx, m.hp, examples)

	// 超时或取消后不采用训练结果，当前版本保持不变
	if err := tctx.Err(); err != nil {
		metrics.RetrainFailures.Add(1)
		log.Warnf("⚠️ 训练中止，丢弃本次结果: %v", err)
		return err
	}
	if dump == nil {
		metrics.RetrainFailures.Add(1)
		return fmt.Errorf("训练未产生可用的权重快照")
	}

	v := newVersion(m.nextID.Add(1), time.Now(), len(examples), dump)
	m.current.Store(v)
	metrics.Retrains.Add(1)
	metrics.ModelVersion.Set(v.ID)
	log.Infof("✅ 模型已切换到 v%d: samples=%d 耗时=%v",
		v.ID, v.SampleCount, time.Since(start).Round(time.Millisecond))

	if m.store != nil {
		if err := m.saveVersion(v); err != nil {
			log.Warnf("⚠️ 模型落盘失败: %v", err)
		}
	}
	return nil
}

// Predict 用当前版本对窗口打分，返回 37 维概率分布和版本号。
func (m *Manager) Predict(window []domain.SpinOutcome) ([]float64, int64, error) {
	v := m.current.Load()
	if v == nil {
		return nil, 0, ErrModelNotReady
	}
	probs, err := v.Predict(window)
	if err != nil {
		return nil, 0, err
	}
	return probs, v.ID, nil
}

// CurrentVersion 返回当前模型版本，可能为 nil。
func (m *Manager) CurrentVersion() *Version {
	return m.current.Load()
}

// IsTraining 是否有训练任务在执行
func (m *Manager) IsTraining() bool {
	return m.training.Load()
}
