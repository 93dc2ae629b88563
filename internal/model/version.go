package model

import (
	"fmt"
	"math"
	"sync"
	"time"

	deep "github.com/patrikeh/go-deep"

	"github.com/betbot/goroulette/internal/domain"
)

// Version 一个训练完成的模型版本。权重在创建后不可变，
// 同一版本对同一窗口的输出永远一致。
//
// deep.Neural 实例不是并发安全的，这里不加锁，
// 而是从 sync.Pool 里取权重相同的副本做推理。
type Version struct {
	ID          int64     `json:"version"`
	TrainedAt   time.Time `json:"trainedAt"`
	SampleCount int       `json:"sampleCount"`

	dump *deep.Dump
	pool sync.Pool
}

func newVersion(id int64, trainedAt time.Time, sampleCount int, dump *deep.Dump) *Version {
	v := &Version{
		ID:          id,
		TrainedAt:   trainedAt,
		SampleCount: sampleCount,
		dump:        dump,
	}
	v.pool.New = func() interface{} {
		return deep.FromDump(dump)
	}
	return v
}

// Predict 对给定窗口输出 37 维概率分布，各项非负且总和为 1。
func (v *Version) Predict(window []domain.SpinOutcome) ([]float64, error) {
	if want := v.dump.Config.Inputs; len(window) != want {
		return nil, fmt.Errorf("窗口长度 %d 与模型输入宽度 %d 不匹配", len(window), want)
	}

	nn := v.pool.Get().(*deep.Neural)
	raw := nn.Predict(encodeWindow(window))
	v.pool.Put(nn)

	probs := make([]float64, len(raw))
	copy(probs, raw)
	normalize(probs)
	return probs, nil
}

// Dump 返回权重快照（只读，调用方不得修改）。
func (v *Version) Dump() *deep.Dump {
	return v.dump
}

// normalize 把网络输出收敛为概率分布。
// 输出层是 softmax，正常情况只是消除浮点误差；
// 出现 NaN/Inf/非正和时退回均匀分布。
func normalize(probs []float64) {
	var sum float64
	for _, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			sum = 0
			break
		}
		sum += p
	}
	if sum <= 0 {
		uniform := 1 / float64(len(probs))
		for i := range probs {
			probs[i] = uniform
		}
		return
	}
	for i := range probs {
		probs[i] /= sum
	}
}
