package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/internal/history"
	"github.com/betbot/goroulette/internal/journal"
	"github.com/betbot/goroulette/internal/model"
	"github.com/betbot/goroulette/internal/risk"
	"github.com/betbot/goroulette/internal/simulator"
	"github.com/betbot/goroulette/internal/strategies/top1"
)

type fixture struct {
	ctrl    *Controller
	buffer  *history.SequenceBuffer
	mgr     *model.Manager
	sim     *simulator.Simulator
	journal *journal.Journal
}

func testHyperparams() model.Hyperparams {
	return model.Hyperparams{
		SequenceLength: 3,
		HiddenLayers:   []int{4},
		Epochs:         1,
		BatchSize:      4,
	}
}

func newFixture(t *testing.T, balance, stake string, opts Options) *fixture {
	t.Helper()

	buffer := history.NewSequenceBuffer(1000)
	mgr := model.NewManager(testHyperparams(), buffer, nil)

	sim, err := simulator.New(decimal.RequireFromString(balance), decimal.RequireFromString(stake))
	if err != nil {
		t.Fatalf("创建模拟器失败: %v", err)
	}

	jnl, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("打开流水库失败: %v", err)
	}
	t.Cleanup(func() { _ = jnl.Close() })

	guard := risk.NewGuard(risk.Config{}, decimal.RequireFromString(balance))

	if opts.Strategy == nil {
		opts.Strategy = &top1.Strategy{}
	}
	ctrl := NewController(buffer, mgr, sim, guard, jnl, opts)
	return &fixture{ctrl: ctrl, buffer: buffer, mgr: mgr, sim: sim, journal: jnl}
}

func spin(value int) domain.SpinOutcome {
	return domain.SpinOutcome{Value: value, Time: time.Now()}
}

// feed 离线喂入历史（不触发下注），再同步训练出首个模型版本
func (f *fixture) trainReady(t *testing.T, ctx context.Context) {
	t.Helper()
	for i := 0; i < 8; i++ {
		if err := f.ctrl.OnOutcome(ctx, spin(i%domain.WheelSize)); err != nil {
			t.Fatalf("喂入开奖失败: %v", err)
		}
	}
	if err := f.mgr.TrainOnce(ctx); err != nil {
		t.Fatalf("训练失败: %v", err)
	}
}

func TestOutcomeIngestAndRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100", "1", Options{Source: SourceSimulated})
	if err := f.ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin 失败: %v", err)
	}

	for _, v := range []int{0, 16, 32} {
		if err := f.ctrl.OnOutcome(ctx, spin(v)); err != nil {
			t.Fatalf("OnOutcome 失败: %v", err)
		}
	}

	if f.buffer.Len() != 3 {
		t.Errorf("缓冲长度期望 3, got %d", f.buffer.Len())
	}
	n, err := f.journal.SpinCount(ctx, f.ctrl.SessionID())
	if err != nil {
		t.Fatalf("查询开奖数失败: %v", err)
	}
	if n != 3 {
		t.Errorf("流水库开奖数期望 3, got %d", n)
	}
	if f.ctrl.LastPrediction() != nil {
		t.Error("模型未训练时不应产生预测")
	}
}

func TestBetPlacedAndSettled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100", "1", Options{Source: SourceSimulated})
	if err := f.ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin 失败: %v", err)
	}

	f.trainReady(t, ctx)
	f.ctrl.OnConnected(ctx)

	// 模型就绪且在线：这一局开奖后应当对下一局下注
	if err := f.ctrl.OnOutcome(ctx, spin(10)); err != nil {
		t.Fatalf("OnOutcome 失败: %v", err)
	}
	pred := f.ctrl.LastPrediction()
	if pred == nil {
		t.Fatal("期望已下注并留下预测")
	}
	if len(pred.Candidates) != 1 {
		t.Fatalf("top1 候选数期望 1, got %d", len(pred.Candidates))
	}
	if got := f.sim.State().Balance; !got.Equal(decimal.RequireFromString("99")) {
		t.Errorf("扣注后余额期望 99, got %s", got)
	}

	// 下一局开奖触发结算
	miss := (pred.Candidates[0] + 1) % domain.WheelSize
	if err := f.ctrl.OnOutcome(ctx, spin(miss)); err != nil {
		t.Fatalf("OnOutcome 失败: %v", err)
	}
	if got := f.sim.State().TotalSpins; got != 1 {
		t.Errorf("结算局数期望 1, got %d", got)
	}

	bets, err := f.journal.RecentBets(ctx, f.ctrl.SessionID(), 10)
	if err != nil {
		t.Fatalf("查询投注记录失败: %v", err)
	}
	if len(bets) != 1 {
		t.Fatalf("投注记录数期望 1, got %d", len(bets))
	}
	if bets[0].Hit {
		t.Error("故意避开候选的开奖不应命中")
	}
	if bets[0].SpinValue != miss {
		t.Errorf("记录的开奖号码期望 %d, got %d", miss, bets[0].SpinValue)
	}
}

func TestNoBetWhileDisconnected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100", "1", Options{Source: SourceSimulated})
	if err := f.ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin 失败: %v", err)
	}

	f.trainReady(t, ctx)

	// 从未上线：即便模型就绪也不下注
	if err := f.ctrl.OnOutcome(ctx, spin(5)); err != nil {
		t.Fatalf("OnOutcome 失败: %v", err)
	}
	if f.ctrl.LastPrediction() != nil {
		t.Fatal("离线状态不应下注")
	}

	f.ctrl.OnConnected(ctx)
	if !f.ctrl.IsConnected() {
		t.Fatal("OnConnected 后应为在线")
	}
	if err := f.ctrl.OnOutcome(ctx, spin(6)); err != nil {
		t.Fatalf("OnOutcome 失败: %v", err)
	}
	if f.ctrl.LastPrediction() == nil {
		t.Fatal("恢复在线后应当下注")
	}

	f.ctrl.OnDisconnected(ctx, context.Canceled)
	if f.ctrl.IsConnected() {
		t.Fatal("OnDisconnected 后应为离线")
	}
}

func TestBankruptcySignalAndSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "1", "1", Options{Source: SourceSimulated})
	if err := f.ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin 失败: %v", err)
	}

	f.trainReady(t, ctx)
	f.ctrl.OnConnected(ctx)

	// 第一局下注后余额归零
	if err := f.ctrl.OnOutcome(ctx, spin(20)); err != nil {
		t.Fatalf("OnOutcome 失败: %v", err)
	}
	pred := f.ctrl.LastPrediction()
	if pred == nil {
		t.Fatal("期望已下注")
	}

	// 故意未中：结算后余额 0，付不起下一注，触发破产
	miss := (pred.Candidates[0] + 1) % domain.WheelSize
	if err := f.ctrl.OnOutcome(ctx, spin(miss)); err != nil {
		t.Fatalf("OnOutcome 失败: %v", err)
	}

	select {
	case <-f.ctrl.BankruptC():
	default:
		t.Fatal("期望破产信号已关闭")
	}
	if got := f.sim.Status(); got != domain.SessionBankrupt {
		t.Fatalf("会话状态期望 bankrupt, got %s", got)
	}

	// 破产会话依然产出完整汇总
	summary := f.ctrl.Finish(ctx)
	if summary.TotalSpins != 1 {
		t.Errorf("汇总局数期望 1, got %d", summary.TotalSpins)
	}
	if !summary.FinalBalance.Equal(decimal.Zero) {
		t.Errorf("最终余额期望 0, got %s", summary.FinalBalance)
	}

	rec, err := f.journal.Session(ctx, f.ctrl.SessionID())
	if err != nil {
		t.Fatalf("查询会话失败: %v", err)
	}
	if rec.State != string(domain.SessionBankrupt) {
		t.Errorf("流水库会话状态期望 bankrupt, got %s", rec.State)
	}
}

func TestFinishVoidsPendingBet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100", "1", Options{Source: SourceSimulated})
	if err := f.ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin 失败: %v", err)
	}

	f.trainReady(t, ctx)
	f.ctrl.OnConnected(ctx)

	if err := f.ctrl.OnOutcome(ctx, spin(7)); err != nil {
		t.Fatalf("OnOutcome 失败: %v", err)
	}
	if got := f.sim.State().Balance; !got.Equal(decimal.RequireFromString("99")) {
		t.Fatalf("扣注后余额期望 99, got %s", got)
	}

	// 悬注在收尾时按退款作废，不计输赢
	summary := f.ctrl.Finish(ctx)
	if !summary.FinalBalance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("退款后余额期望 100, got %s", summary.FinalBalance)
	}
	if summary.TotalSpins != 0 {
		t.Errorf("作废回合不应计入局数, got %d", summary.TotalSpins)
	}
}

func TestBootstrapSeedsWithoutBetting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "100", "1", Options{Source: SourceLive})
	if err := f.ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin 失败: %v", err)
	}

	outcomes := make([]domain.SpinOutcome, 0, 12)
	for i := 0; i < 12; i++ {
		outcomes = append(outcomes, spin(i*3%domain.WheelSize))
	}
	f.ctrl.Bootstrap(ctx, outcomes)

	if f.buffer.Len() != 12 {
		t.Errorf("预热后缓冲长度期望 12, got %d", f.buffer.Len())
	}
	if f.ctrl.LastPrediction() != nil {
		t.Error("预热不应下注")
	}
	n, err := f.journal.SpinCount(ctx, f.ctrl.SessionID())
	if err != nil {
		t.Fatalf("查询开奖数失败: %v", err)
	}
	if n != 12 {
		t.Errorf("预热开奖落盘数期望 12, got %d", n)
	}
}

func TestAutoTrainProducesVersion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, "100", "1", Options{Source: SourceSimulated, AutoTrain: true})
	if err := f.ctrl.Begin(ctx); err != nil {
		t.Fatalf("Begin 失败: %v", err)
	}
	f.mgr.Start(ctx)

	for i := 0; i < 10; i++ {
		if err := f.ctrl.OnOutcome(ctx, spin(i%domain.WheelSize)); err != nil {
			t.Fatalf("OnOutcome 失败: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f.mgr.CurrentVersion() != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("自动训练超时: 未产出模型版本")
}
