package domain

import "time"

// PredictionResult 一次推理的产出：按策略取出的候选号码及其概率。
// Candidates 按「概率降序、同概率时号码升序」排列，Probabilities 与之一一对应。
// ModelVersion 固定为推理时刻使用的模型版本，事后换版不回溯。
type PredictionResult struct {
	Strategy      string
	Candidates    []int
	Probabilities []float64
	ModelVersion  int64
	PredictedAt   time.Time
}

// Contains 判断号码是否在候选集合内。
func (p *PredictionResult) Contains(value int) bool {
	if p == nil {
		return false
	}
	for _, c := range p.Candidates {
		if c == value {
			return true
		}
	}
	return false
}

// Top 返回概率最高的候选号码；无候选时返回 -1。
func (p *PredictionResult) Top() int {
	if p == nil || len(p.Candidates) == 0 {
		return -1
	}
	return p.Candidates[0]
}
