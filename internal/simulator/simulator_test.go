package simulator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/betbot/goroulette/internal/domain"
)

func makePred(candidates ...int) *domain.PredictionResult {
	return &domain.PredictionResult{
		Strategy:     "top3",
		Candidates:   candidates,
		ModelVersion: 1,
		PredictedAt:  time.Now(),
	}
}

func outcome(v int) domain.SpinOutcome {
	return domain.SpinOutcome{Value: v, Time: time.Now()}
}

func TestPlaceBetDeductsExactlyOneStake(t *testing.T) {
	s, err := New(decimal.NewFromInt(100), decimal.NewFromInt(5))
	require.NoError(t, err)

	require.NoError(t, s.PlaceBet(makePred(7, 8, 9)))
	require.True(t, s.State().Balance.Equal(decimal.NewFromInt(95)),
		"下注后余额应正好少一注, got %s", s.State().Balance)
}

func TestHitCreditsStakeTimes35(t *testing.T) {
	s, err := New(decimal.NewFromInt(100), decimal.NewFromInt(5))
	require.NoError(t, err)

	require.NoError(t, s.PlaceBet(makePred(7, 8, 9)))
	rec, err := s.ObserveOutcome(outcome(7))
	require.NoError(t, err)

	require.True(t, rec.Hit)
	require.True(t, rec.Payout.Equal(decimal.NewFromInt(175)), "payout = %s", rec.Payout)
	require.True(t, rec.BalanceBefore.Equal(decimal.NewFromInt(100)))
	require.True(t, rec.BalanceAfter.Equal(decimal.NewFromInt(270)), "balanceAfter = %s", rec.BalanceAfter)

	state := s.State()
	require.Equal(t, int64(1), state.TotalSpins)
	require.Equal(t, int64(1), state.Wins)
}

func TestMissKeepsOnlyDeduction(t *testing.T) {
	s, err := New(decimal.NewFromInt(100), decimal.NewFromInt(5))
	require.NoError(t, err)

	require.NoError(t, s.PlaceBet(makePred(7, 8, 9)))
	rec, err := s.ObserveOutcome(outcome(12))
	require.NoError(t, err)

	require.False(t, rec.Hit)
	require.True(t, rec.Payout.IsZero())
	require.True(t, s.State().Balance.Equal(decimal.NewFromInt(95)),
		"未命中时余额只少一注, got %s", s.State().Balance)
	require.Equal(t, int64(0), s.State().Wins)
}

// 赔付与候选数量无关：押 1 个和押 18 个号码，命中都只赔一次 stake*35
func TestPayoutIndependentOfCandidateCount(t *testing.T) {
	wide := make([]int, 18)
	for i := range wide {
		wide[i] = i
	}

	for _, candidates := range [][]int{{7}, wide} {
		s, err := New(decimal.NewFromInt(100), decimal.NewFromInt(1))
		require.NoError(t, err)

		winner := candidates[len(candidates)-1]
		require.NoError(t, s.PlaceBet(makePred(candidates...)))
		rec, err := s.ObserveOutcome(outcome(winner))
		require.NoError(t, err)

		require.True(t, rec.Payout.Equal(decimal.NewFromInt(35)),
			"k=%d 时 payout = %s, want 35", len(candidates), rec.Payout)
	}
}

func TestBankruptcyTransition(t *testing.T) {
	s, err := New(decimal.NewFromInt(7), decimal.NewFromInt(5))
	require.NoError(t, err)

	// 第一轮：7 -> 2，未命中
	require.NoError(t, s.PlaceBet(makePred(7)))
	_, err = s.ObserveOutcome(outcome(12))
	require.NoError(t, err)
	require.Equal(t, domain.SessionActive, s.Status())

	// 余额 2 付不起注金 5：首次失败返回 InsufficientBalance 并转入破产
	err = s.PlaceBet(makePred(7))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, domain.SessionBankrupt, s.Status())

	// 破产后的投注一律 SessionTerminated
	err = s.PlaceBet(makePred(7))
	require.ErrorIs(t, err, ErrSessionTerminated)
}

func TestBankruptcyStillEmitsSummary(t *testing.T) {
	s, err := New(decimal.NewFromInt(5), decimal.NewFromInt(5))
	require.NoError(t, err)

	require.NoError(t, s.PlaceBet(makePred(3)))
	_, err = s.ObserveOutcome(outcome(4))
	require.NoError(t, err)

	require.ErrorIs(t, s.PlaceBet(makePred(3)), ErrInsufficientBalance)

	sum := s.Summary()
	require.Equal(t, int64(1), sum.TotalSpins)
	require.Equal(t, float64(0), sum.WinRate)
	require.True(t, sum.FinalBalance.IsZero(), "finalBalance = %s", sum.FinalBalance)
}

func TestRoundOrderingGuards(t *testing.T) {
	s, err := New(decimal.NewFromInt(100), decimal.NewFromInt(5))
	require.NoError(t, err)

	// 未下注先开奖
	_, err = s.ObserveOutcome(outcome(7))
	require.Error(t, err)

	// 重复下注
	require.NoError(t, s.PlaceBet(makePred(7)))
	require.Error(t, s.PlaceBet(makePred(8)))

	// 空预测
	_, err = s.ObserveOutcome(outcome(7))
	require.NoError(t, err)
	require.Error(t, s.PlaceBet(nil))
	require.Error(t, s.PlaceBet(makePred()))
}

func TestWinRate(t *testing.T) {
	s, err := New(decimal.NewFromInt(100), decimal.NewFromInt(1))
	require.NoError(t, err)

	require.NoError(t, s.PlaceBet(makePred(7)))
	_, err = s.ObserveOutcome(outcome(7))
	require.NoError(t, err)

	require.NoError(t, s.PlaceBet(makePred(7)))
	_, err = s.ObserveOutcome(outcome(8))
	require.NoError(t, err)

	require.InDelta(t, 0.5, s.Summary().WinRate, 1e-9)
}

func TestNewValidation(t *testing.T) {
	_, err := New(decimal.NewFromInt(100), decimal.Zero)
	require.Error(t, err, "零注金应被拒绝")

	_, err = New(decimal.NewFromInt(-1), decimal.NewFromInt(1))
	require.Error(t, err, "负余额应被拒绝")
}

func TestVoidOpenRoundRefunds(t *testing.T) {
	s, err := New(decimal.NewFromInt(100), decimal.NewFromInt(5))
	require.NoError(t, err)

	require.False(t, s.VoidOpenRound(), "没有悬注时不应退款")

	require.NoError(t, s.PlaceBet(makePred(7)))
	require.True(t, s.State().Balance.Equal(decimal.NewFromInt(95)))

	require.True(t, s.VoidOpenRound())
	state := s.State()
	require.True(t, state.Balance.Equal(decimal.NewFromInt(100)), "退款后余额应恢复")
	require.EqualValues(t, 0, state.TotalSpins, "作废回合不计局数")

	// 退款后可以正常开始新一轮
	require.NoError(t, s.PlaceBet(makePred(3)))
	rec, err := s.ObserveOutcome(outcome(3))
	require.NoError(t, err)
	require.True(t, rec.Hit)
}
