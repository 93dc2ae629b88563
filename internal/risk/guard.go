// Package risk 提供投注熔断：连续未中或回撤超限时暂停下注，
// 开奖摄入与模型训练不受影响。熔断是暂停而非破产，可人工恢复。
package risk

import (
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// ErrBettingPaused 表示风控已暂停投注。
var ErrBettingPaused = fmt.Errorf("betting paused by risk guard")

// balanceScale 余额以百万分之一为单位存入原子变量，避免快路径上用 decimal。
const balanceScale = 6

// Config 风控配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type Config struct {
	// MaxConsecutiveLosses 连续未中上限。
	MaxConsecutiveLosses int64

	// MaxDrawdownPct 相对初始余额的最大回撤百分比（0–100）。
	MaxDrawdownPct float64
}

// Guard 高频快路径使用原子变量，低频配置更新同样落在原子字段上。
type Guard struct {
	halted atomic.Bool

	consecutiveLosses atomic.Int64
	startMicros       atomic.Int64
	currentMicros     atomic.Int64

	maxConsecutiveLosses atomic.Int64
	maxDrawdownBps       atomic.Int64 // 万分比，MaxDrawdownPct*100
}

// NewGuard 创建风控守卫。startingBalance 作为回撤基准。
func NewGuard(cfg Config, startingBalance decimal.Decimal) *Guard {
	g := &Guard{}
	g.SetConfig(cfg)
	micros := toMicros(startingBalance)
	g.startMicros.Store(micros)
	g.currentMicros.Store(micros)
	return g
}

// SetConfig 更新阈值（可在运行中调用）。
func (g *Guard) SetConfig(cfg Config) {
	if g == nil {
		return
	}
	g.maxConsecutiveLosses.Store(cfg.MaxConsecutiveLosses)
	g.maxDrawdownBps.Store(int64(cfg.MaxDrawdownPct * 100))
}

// Pause 手动暂停投注（如人工介入）。
func (g *Guard) Pause() {
	if g == nil {
		return
	}
	g.halted.Store(true)
}

// Resume 手动恢复（会同时清空连续未中计数）。
func (g *Guard) Resume() {
	if g == nil {
		return
	}
	g.halted.Store(false)
	g.consecutiveLosses.Store(0)
}

// IsPaused 当前是否处于暂停状态。
func (g *Guard) IsPaused() bool {
	if g == nil {
		return false
	}
	return g.halted.Load()
}

// AllowBetting 快路径检查是否允许下注。
func (g *Guard) AllowBetting() error {
	if g == nil {
		return nil
	}

	if g.halted.Load() {
		return ErrBettingPaused
	}

	// 连续未中熔断
	maxLosses := g.maxConsecutiveLosses.Load()
	if maxLosses > 0 && g.consecutiveLosses.Load() >= maxLosses {
		g.halted.Store(true)
		return ErrBettingPaused
	}

	// 回撤熔断（若启用）
	limitBps := g.maxDrawdownBps.Load()
	if limitBps > 0 {
		start := g.startMicros.Load()
		current := g.currentMicros.Load()
		if start > 0 && current < start {
			drawdownBps := (start - current) * 10000 / start
			if drawdownBps >= limitBps {
				g.halted.Store(true)
				return ErrBettingPaused
			}
		}
	}

	return nil
}

// OnSettled 在一轮结算后调用：命中清空连续未中计数，未中累计。
func (g *Guard) OnSettled(hit bool, balanceAfter decimal.Decimal) {
	if g == nil {
		return
	}
	if hit {
		g.consecutiveLosses.Store(0)
	} else {
		g.consecutiveLosses.Add(1)
	}
	g.currentMicros.Store(toMicros(balanceAfter))
}

// ConsecutiveLosses 当前连续未中局数（诊断用）。
func (g *Guard) ConsecutiveLosses() int64 {
	if g == nil {
		return 0
	}
	return g.consecutiveLosses.Load()
}

func toMicros(d decimal.Decimal) int64 {
	return d.Shift(balanceScale).IntPart()
}
