package custom

import (
	"fmt"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/internal/strategies"
)

const ID = "custom"

// DefaultCount 未配置时的候选数量
const DefaultCount = 5

func init() {
	strategies.Register(New(DefaultCount))
}

// Strategy 候选数量可配置的策略，数量由启动流程按配置注入。
type Strategy struct {
	count int
}

// New 创建指定候选数量的策略实例
func New(count int) *Strategy {
	return &Strategy{count: count}
}

func (s *Strategy) ID() string          { return ID }
func (s *Strategy) CandidateCount() int { return s.count }

// SetCandidateCount 调整候选数量，范围 [1, 37]
func (s *Strategy) SetCandidateCount(n int) error {
	if n < 1 || n > domain.WheelSize {
		return fmt.Errorf("%w: 候选数量 %d 超出 [1, %d]",
			strategies.ErrInvalidStrategyParameter, n, domain.WheelSize)
	}
	s.count = n
	return nil
}
