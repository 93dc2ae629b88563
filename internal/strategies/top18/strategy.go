package top18

import (
	"github.com/betbot/goroulette/internal/strategies"
)

const ID = "top18"

func init() {
	strategies.Register(&Strategy{})
}

// Strategy 押概率最高的 18 个号码，覆盖近半个转盘。
// 命中率最高，但每次命中只回收 35 倍单注，扣掉 18 注本金后净收益很薄。
type Strategy struct{}

func (s *Strategy) ID() string          { return ID }
func (s *Strategy) CandidateCount() int { return 18 }
