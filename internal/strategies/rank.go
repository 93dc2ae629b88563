package strategies

import (
	"fmt"
	"sort"

	"github.com/betbot/goroulette/internal/domain"
)

// Rank 把 37 维概率分布转为前 count 个候选号码。
// 概率降序排列；概率相同时号码小的在前。纯函数，结果确定。
func Rank(probs []float64, count int) ([]int, error) {
	if len(probs) != domain.WheelSize {
		return nil, fmt.Errorf("%w: 概率维度 %d, 需要 %d",
			ErrInvalidStrategyParameter, len(probs), domain.WheelSize)
	}
	if count < 1 || count > domain.WheelSize {
		return nil, fmt.Errorf("%w: 候选数量 %d 超出 [1, %d]",
			ErrInvalidStrategyParameter, count, domain.WheelSize)
	}

	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		if probs[idx[a]] == probs[idx[b]] {
			return idx[a] < idx[b]
		}
		return probs[idx[a]] > probs[idx[b]]
	})
	return idx[:count], nil
}

// RankFor 按策略声明的候选数量排序
func RankFor(probs []float64, s Strategy) ([]int, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: 策略为空", ErrInvalidStrategyParameter)
	}
	return Rank(probs, s.CandidateCount())
}
