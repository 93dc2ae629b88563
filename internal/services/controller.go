// Package services 的会话控制器把整条流水线串成一个回合循环：
// 上一轮结算 → 开奖入历史 → 触发重训 → 推理排序 → 下一轮下注。
// 所有状态推进都由开奖事件驱动，事件之间严格串行。
package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/internal/history"
	"github.com/betbot/goroulette/internal/journal"
	"github.com/betbot/goroulette/internal/metrics"
	"github.com/betbot/goroulette/internal/model"
	"github.com/betbot/goroulette/internal/risk"
	"github.com/betbot/goroulette/internal/simulator"
	"github.com/betbot/goroulette/internal/strategies"
)

var log = logrus.WithField("component", "session")

// SourceLive / SourceSimulated / SourceBootstrap 开奖来源标签（流水库 spins.source）
const (
	SourceLive      = "live"
	SourceSimulated = "simulated"
	SourceBootstrap = "bootstrap"
)

// Options 会话控制器配置
type Options struct {
	Strategy strategies.Strategy

	// AutoTrain 开启后每局开奖都会评估是否发出重训信号
	AutoTrain bool
	// MinTrainInterval 两次重训信号之间的最短间隔；0 表示不限
	MinTrainInterval time.Duration

	// Source 实时开奖的来源标签
	Source string
	// SummaryPath 会话汇总 jsonl 路径；空则不追加
	SummaryPath string
}

// Controller 会话控制器。
// 实现 stream.OutcomeHandler 与 stream.StateHandler，
// 由数据流驱动；Web/TUI 只通过读方法观察。
type Controller struct {
	opts      Options
	sessionID string

	buffer  *history.SequenceBuffer
	model   *model.Manager
	sim     *simulator.Simulator
	guard   *risk.Guard
	journal *journal.Journal // 可为 nil：不落盘

	mu           sync.Mutex
	lastPred     *domain.PredictionResult
	betOpen      bool
	lastTrainReq time.Time
	startedAt    time.Time

	connected     atomic.Bool
	everConnected atomic.Bool

	bankruptOnce sync.Once
	bankruptC    chan struct{}
}

// NewController 创建会话控制器并分配会话 ID
func NewController(buffer *history.SequenceBuffer, mgr *model.Manager, sim *simulator.Simulator,
	guard *risk.Guard, jnl *journal.Journal, opts Options) *Controller {
	if opts.Source == "" {
		opts.Source = SourceSimulated
	}
	return &Controller{
		opts:      opts,
		sessionID: uuid.NewString(),
		buffer:    buffer,
		model:     mgr,
		sim:       sim,
		guard:     guard,
		journal:   jnl,
		bankruptC: make(chan struct{}),
	}
}

// SessionID 本次会话的唯一标识
func (c *Controller) SessionID() string {
	return c.sessionID
}

// LastPrediction 最近一次下注使用的预测（尚未下注时为 nil）
func (c *Controller) LastPrediction() *domain.PredictionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPred
}

// IsConnected 数据流当前是否在线
func (c *Controller) IsConnected() bool {
	return c.connected.Load()
}

// BankruptC 会话破产时关闭，供主循环触发关停
func (c *Controller) BankruptC() <-chan struct{} {
	return c.bankruptC
}

// Begin 记录会话开始
func (c *Controller) Begin(ctx context.Context) error {
	c.mu.Lock()
	c.startedAt = time.Now()
	started := c.startedAt
	c.mu.Unlock()

	state := c.sim.State()
	log.Infof("🚀 会话开始: id=%s 策略=%s 余额=%s 注金=%s",
		c.sessionID, c.opts.Strategy.ID(), state.Balance, state.StakePerRound)
	metrics.Balance.Set(state.Balance.String())

	if c.journal == nil {
		return nil
	}
	return c.journal.StartSession(ctx, c.sessionID, c.opts.Strategy.ID(), state.Balance, started)
}

// Bootstrap 用历史接口拉到的结果预热序列缓冲（不下注），
// 数据充足时立即请求一次训练。
func (c *Controller) Bootstrap(ctx context.Context, outcomes []domain.SpinOutcome) {
	if len(outcomes) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, o := range outcomes {
		c.buffer.Append(o)
		if c.journal != nil {
			if err := c.journal.RecordSpin(ctx, c.sessionID, o, SourceBootstrap); err != nil {
				log.Warnf("⚠️ 预热结果落盘失败: %v", err)
			}
		}
	}
	log.Infof("📦 序列缓冲已预热: %d 局历史", len(outcomes))

	if c.opts.AutoTrain && c.buffer.Len() >= c.model.SequenceLength()+1 {
		c.lastTrainReq = time.Now()
		c.model.RequestRetrain()
	}
}

// OnOutcome 开奖事件入口：结算 → 摄入 → 重训信号 → 下一轮下注。
func (c *Controller) OnOutcome(ctx context.Context, outcome domain.SpinOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.betOpen {
		c.settle(ctx, outcome)
	}

	c.buffer.Append(outcome)
	metrics.SpinsIngested.Add(1)
	if c.journal != nil {
		if err := c.journal.RecordSpin(ctx, c.sessionID, outcome, c.opts.Source); err != nil {
			log.Warnf("⚠️ 开奖记录落盘失败: %v", err)
		}
	}

	c.maybeRequestTrain()
	c.tryPlaceBet()
	return nil
}

// settle 用本局开奖结算上一轮的悬注
func (c *Controller) settle(ctx context.Context, outcome domain.SpinOutcome) {
	rec, err := c.sim.ObserveOutcome(outcome)
	c.betOpen = false
	if err != nil {
		log.Errorf("结算失败: %v", err)
		return
	}

	if rec.Hit {
		metrics.BetsWon.Add(1)
		log.Infof("✅ 命中! 开奖 %d(%s) 在候选 %v 中, 派彩 +%s, 余额 %s",
			rec.Actual.Value, rec.Actual.Color(), rec.Prediction.Candidates, rec.Payout, rec.BalanceAfter)
	} else {
		log.Infof("❌ 未中. 开奖 %d(%s), 候选 %v, 余额 %s",
			rec.Actual.Value, rec.Actual.Color(), rec.Prediction.Candidates, rec.BalanceAfter)
	}
	metrics.Balance.Set(rec.BalanceAfter.String())

	c.guard.OnSettled(rec.Hit, rec.BalanceAfter)

	if c.journal != nil {
		if err := c.journal.RecordBet(ctx, c.sessionID, *rec); err != nil {
			log.Warnf("⚠️ 投注记录落盘失败: %v", err)
		}
	}
}

// maybeRequestTrain 数据足够且距上次信号超过最短间隔时发出重训信号
func (c *Controller) maybeRequestTrain() {
	if !c.opts.AutoTrain {
		return
	}
	if c.buffer.Len() < c.model.SequenceLength()+1 {
		return
	}
	if c.opts.MinTrainInterval > 0 && time.Since(c.lastTrainReq) < c.opts.MinTrainInterval {
		return
	}
	c.lastTrainReq = time.Now()
	c.model.RequestRetrain()
}

// tryPlaceBet 对下一局开奖下注；模型未就绪、历史不足、
// 风控暂停、断线或已破产时本轮空过。
func (c *Controller) tryPlaceBet() {
	if c.sim.Status() == domain.SessionBankrupt {
		return
	}
	if !c.connected.Load() {
		log.Debugf("数据流离线, 暂停下注")
		return
	}
	if err := c.guard.AllowBetting(); err != nil {
		log.Debugf("风控暂停下注: %v", err)
		return
	}

	window, err := c.buffer.Snapshot(c.model.SequenceLength())
	if err != nil {
		log.Debugf("历史不足, 暂不下注: %v", err)
		return
	}
	probs, versionID, err := c.model.Predict(window)
	if err != nil {
		if errors.Is(err, model.ErrModelNotReady) {
			log.Debugf("模型未就绪, 暂不下注")
		} else {
			log.Warnf("⚠️ 推理失败: %v", err)
		}
		return
	}

	candidates, err := strategies.RankFor(probs, c.opts.Strategy)
	if err != nil {
		log.Errorf("❌ 策略排序失败: %v", err)
		return
	}

	pred := &domain.PredictionResult{
		Strategy:      c.opts.Strategy.ID(),
		Candidates:    candidates,
		Probabilities: pickProbs(probs, candidates),
		ModelVersion:  versionID,
		PredictedAt:   time.Now(),
	}

	if err := c.sim.PlaceBet(pred); err != nil {
		switch {
		case errors.Is(err, simulator.ErrInsufficientBalance):
			log.Warnf("🛑 会话破产: %v", err)
			c.signalBankrupt()
		case errors.Is(err, simulator.ErrSessionTerminated):
			// 破产终态，静默跳过
		default:
			log.Errorf("下注失败: %v", err)
		}
		return
	}

	c.betOpen = true
	c.lastPred = pred
	metrics.BetsPlaced.Add(1)
	metrics.Balance.Set(c.sim.State().Balance.String())
	log.Infof("🎯 已下注: 候选=%v 模型=v%d", pred.Candidates, versionID)
}

func (c *Controller) signalBankrupt() {
	c.bankruptOnce.Do(func() {
		close(c.bankruptC)
	})
}

// OnConnected 数据流上线回调
func (c *Controller) OnConnected(_ context.Context) {
	if c.everConnected.Swap(true) {
		metrics.Reconnects.Add(1)
		log.Infof("📡 数据流已恢复, 继续投注")
	} else {
		log.Infof("📡 数据流已连接")
	}
	c.connected.Store(true)
}

// OnDisconnected 数据流断开回调：暂停下注直到恢复
func (c *Controller) OnDisconnected(_ context.Context, reason error) {
	c.connected.Store(false)
	log.Warnf("⚠️ 数据流断开, 暂停投注: %v", reason)
}

// Finish 收尾：作废悬注、回填流水库、追加汇总行，返回会话汇总。
// 破产会话同样会产出完整汇总。
func (c *Controller) Finish(ctx context.Context) domain.SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.betOpen {
		if c.sim.VoidOpenRound() {
			c.betOpen = false
		}
	}

	state := c.sim.State()
	summary := c.sim.Summary()
	log.Infof("📊 会话汇总: 状态=%s 局数=%d 胜率=%.2f%% 最终余额=%s",
		state.Status, summary.TotalSpins, summary.WinRate*100, summary.FinalBalance)

	if c.journal != nil {
		if err := c.journal.FinishSession(ctx, c.sessionID, state, time.Now()); err != nil {
			log.Warnf("⚠️ 会话汇总落盘失败: %v", err)
		}
	}
	if c.opts.SummaryPath != "" {
		if err := journal.AppendSummaryLine(c.opts.SummaryPath, summary); err != nil {
			log.Warnf("⚠️ 会话汇总追加失败: %v", err)
		}
	}
	return summary
}

// pickProbs 取出各候选号码对应的概率，与候选顺序一一对应
func pickProbs(probs []float64, candidates []int) []float64 {
	out := make([]float64, len(candidates))
	for i, cand := range candidates {
		out[i] = probs[cand]
	}
	return out
}
