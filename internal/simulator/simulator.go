package simulator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goroulette/internal/domain"
)

var log = logrus.WithField("component", "simulator")

var (
	// ErrInsufficientBalance 余额不足以支付本轮注金，会话转入破产终态
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrSessionTerminated 会话已破产，不再接受投注
	ErrSessionTerminated = errors.New("session terminated")
)

// payoutMultiplier 单号码命中赔率（欧式轮盘 35:1）
var payoutMultiplier = decimal.NewFromInt(domain.PayoutRatio)

// openRound 已下注、待开奖的回合
type openRound struct {
	prediction    *domain.PredictionResult
	balanceBefore decimal.Decimal
}

// Simulator 虚拟资金盘的投注状态机。
//
// 每轮固定扣一注，候选集中任意号码命中则一次性赔付 stake*35，
// 与候选数量无关。余额付不起下一注时进入破产终态，不可逆。
//
// 状态只由会话控制循环推进（先 PlaceBet 后 ObserveOutcome，
// 两轮之间不交叉）；锁只为 Web/TUI 侧并发读快照而设。
type Simulator struct {
	mu sync.Mutex

	status     domain.SessionStatus
	balance    decimal.Decimal
	stake      decimal.Decimal
	totalSpins int64
	wins       int64

	round *openRound
}

// New 创建投注模拟器。stake 必须为正，balance 不能为负。
func New(balance, stake decimal.Decimal) (*Simulator, error) {
	if stake.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("每轮注金必须为正, got %s", stake)
	}
	if balance.IsNegative() {
		return nil, fmt.Errorf("初始余额不能为负, got %s", balance)
	}
	return &Simulator{
		status:  domain.SessionActive,
		balance: balance,
		stake:   stake,
	}, nil
}

// PlaceBet 扣注开启新一轮。
// 余额付不起一注时返回 ErrInsufficientBalance 并进入破产终态；
// 破产后的调用返回 ErrSessionTerminated。
func (s *Simulator) PlaceBet(pred *domain.PredictionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.SessionBankrupt {
		return ErrSessionTerminated
	}
	if s.round != nil {
		return fmt.Errorf("上一轮尚未开奖结算")
	}
	if pred == nil || len(pred.Candidates) == 0 {
		return fmt.Errorf("预测结果为空")
	}

	if s.balance.LessThan(s.stake) {
		s.status = domain.SessionBankrupt
		log.Warnf("🛑 余额 %s 不足以支付注金 %s, 会话破产", s.balance, s.stake)
		return fmt.Errorf("%w: 余额 %s < 注金 %s", ErrInsufficientBalance, s.balance, s.stake)
	}

	s.round = &openRound{
		prediction:    pred,
		balanceBefore: s.balance,
	}
	s.balance = s.balance.Sub(s.stake)
	return nil
}

// ObserveOutcome 以实际开奖结果结算当前回合并生成投注记录。
// 命中赔付在扣注之外一次性入账；未命中余额保持扣注后的值。
func (s *Simulator) ObserveOutcome(actual domain.SpinOutcome) (*domain.BetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round == nil {
		return nil, fmt.Errorf("没有进行中的回合")
	}

	round := s.round
	s.round = nil

	hit := round.prediction.Contains(actual.Value)
	payout := decimal.Zero
	if hit {
		payout = s.stake.Mul(payoutMultiplier)
		s.balance = s.balance.Add(payout)
		s.wins++
	}
	s.totalSpins++

	rec := &domain.BetRecord{
		Prediction:    round.prediction,
		Actual:        actual,
		Stake:         s.stake,
		Payout:        payout,
		Hit:           hit,
		BalanceBefore: round.balanceBefore,
		BalanceAfter:  s.balance,
		SettledAt:     time.Now(),
	}
	return rec, nil
}

// VoidOpenRound 作废未结算的一轮并退还注金，不计入输赢。
// 用于关停路径：开奖永远不会到来的悬注按退款处理。
// 返回是否确实存在被作废的回合。
func (s *Simulator) VoidOpenRound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round == nil {
		return false
	}
	s.round = nil
	s.balance = s.balance.Add(s.stake)
	log.Infof("已作废未结算回合, 退还注金 %s", s.stake)
	return true
}

// State 返回会话状态的一致快照
func (s *Simulator) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.SessionState{
		Status:        s.status,
		Balance:       s.balance,
		StakePerRound: s.stake,
		TotalSpins:    s.totalSpins,
		Wins:          s.wins,
	}
}

// Status 当前会话状态
func (s *Simulator) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Summary 生成会话汇总记录（破产后依然可用）
func (s *Simulator) Summary() domain.SessionSummary {
	state := s.State()
	return domain.SessionSummary{
		Timestamp:    time.Now(),
		TotalSpins:   state.TotalSpins,
		WinRate:      state.WinRate(),
		FinalBalance: state.Balance,
	}
}
