package top1

import (
	"github.com/betbot/goroulette/internal/strategies"
)

const ID = "top1"

func init() {
	strategies.Register(&Strategy{})
}

// Strategy 只押概率最高的一个号码。
// 命中率最低、单次赔付最高（1 注中 35 倍），波动极大。
type Strategy struct{}

func (s *Strategy) ID() string          { return ID }
func (s *Strategy) CandidateCount() int { return 1 }
