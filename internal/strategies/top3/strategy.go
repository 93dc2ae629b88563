package top3

import (
	"github.com/betbot/goroulette/internal/strategies"
)

const ID = "top3"

func init() {
	strategies.Register(&Strategy{})
}

// Strategy 押概率最高的三个号码，命中率和赔付之间的折中选择。
type Strategy struct{}

func (s *Strategy) ID() string          { return ID }
func (s *Strategy) CandidateCount() int { return 3 }
