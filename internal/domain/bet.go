package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus 投注会话状态。
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionBankrupt SessionStatus = "bankrupt" // 终态：余额不足以支付下一注
)

// BetRecord 一轮投注的完整记录（下注 → 开奖结算）。
// Prediction 是下注时刻捕获的预测，其 ModelVersion 即当轮实际使用的模型版本。
type BetRecord struct {
	Prediction    *PredictionResult
	Actual        SpinOutcome
	Stake         decimal.Decimal
	Payout        decimal.Decimal // 命中为 stake*35，未命中为 0
	Hit           bool
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	SettledAt     time.Time
}

// SessionState 会话状态快照；只由投注模拟器推进。
type SessionState struct {
	Status        SessionStatus
	Balance       decimal.Decimal
	StakePerRound decimal.Decimal
	TotalSpins    int64
	Wins          int64
	ModelVersion  int64
}

// WinRate 胜率；尚未投注时为 0。
func (s SessionState) WinRate() float64 {
	if s.TotalSpins == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalSpins)
}

// SessionSummary 会话结束时输出的汇总记录。
type SessionSummary struct {
	Timestamp    time.Time       `json:"timestamp"`
	TotalSpins   int64           `json:"totalSpins"`
	WinRate      float64         `json:"winRate"`
	FinalBalance decimal.Decimal `json:"finalBalance"`
}
