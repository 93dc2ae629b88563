package model

import (
	"context"
	"runtime"
	"time"

	deep "github.com/patrikeh/go-deep"
	"github.com/patrikeh/go-deep/training"

	"github.com/betbot/goroulette/internal/domain"
)

// Adam 优化器参数（固定，不暴露为配置）
const (
	adamLearningRate = 0.001
	adamBeta1        = 0.9
	adamBeta2        = 0.999
	adamEpsilon      = 1e-8
)

// Hyperparams 训练超参数
type Hyperparams struct {
	SequenceLength int           // 输入窗口长度（用最近 N 个号码预测下一个）
	HiddenLayers   []int         // 隐藏层布局
	Epochs         int           // 训练轮数
	BatchSize      int           // 批大小
	TrainTimeout   time.Duration // 单次训练超时，超时后结果作废（0 表示不限制）
}

// DefaultHyperparams 默认超参数
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		SequenceLength: 10,
		HiddenLayers:   []int{64, 32},
		Epochs:         50,
		BatchSize:      32,
		TrainTimeout:   2 * time.Minute,
	}
}

// sanitized 把非法值收敛到默认值
func (hp Hyperparams) sanitized() Hyperparams {
	def := DefaultHyperparams()
	if hp.SequenceLength < 1 {
		hp.SequenceLength = def.SequenceLength
	}
	if len(hp.HiddenLayers) == 0 {
		hp.HiddenLayers = def.HiddenLayers
	}
	if hp.Epochs < 1 {
		hp.Epochs = def.Epochs
	}
	if hp.BatchSize < 1 {
		hp.BatchSize = def.BatchSize
	}
	return hp
}

// encodeWindow 把号码窗口编码为网络输入，归一化到 [0,1]
func encodeWindow(window []domain.SpinOutcome) []float64 {
	vec := make([]float64, len(window))
	for i, o := range window {
		vec[i] = float64(o.Value) / float64(domain.WheelSize-1)
	}
	return vec
}

// oneHot 号码的 37 维 one-hot 编码
func oneHot(value int) []float64 {
	resp := make([]float64, domain.WheelSize)
	if value >= 0 && value < domain.WheelSize {
		resp[value] = 1
	}
	return resp
}

// buildExamples 把历史序列切成滑动窗口样本：
// 窗口内 seqLen 个号码为输入，窗口后第一个号码为标签。
func buildExamples(outcomes []domain.SpinOutcome, seqLen int) training.Examples {
	if len(outcomes) < seqLen+1 {
		return nil
	}
	examples := make(training.Examples, 0, len(outcomes)-seqLen)
	for i := 0; i+seqLen < len(outcomes); i++ {
		examples = append(examples, training.Example{
			Input:    encodeWindow(outcomes[i : i+seqLen]),
			Response: oneHot(outcomes[i+seqLen].Value),
		})
	}
	return examples
}

// trainNetwork 从零训练一个网络并返回其权重快照。逐 epoch 推进，
// epoch 之间检查 ctx，超时或关停在 epoch 边界放弃整轮训练并返回 nil。
// verbosity 固定为 0：训练进度不允许写 stdout（TUI 模式下会破坏界面）。
func trainNetwork(ctx context.Context, hp Hyperparams, examples training.Examples) *deep.Dump {
	layout := make([]int, 0, len(hp.HiddenLayers)+1)
	layout = append(layout, hp.HiddenLayers...)
	layout = append(layout, domain.WheelSize)

	nn := deep.NewNeural(&deep.Config{
		Inputs:     hp.SequenceLength,
		Layout:     layout,
		Activation: deep.ActivationSigmoid,
		Mode:       deep.ModeMultiClass,
		Weight:     deep.NewNormal(1.0, 0.0),
		Bias:       true,
	})

	optimizer := training.NewAdam(adamLearningRate, adamBeta1, adamBeta2, adamEpsilon)
	trainer := training.NewBatchTrainer(optimizer, 0, hp.BatchSize, runtime.GOMAXPROCS(0))
	for epoch := 0; epoch < hp.Epochs; epoch++ {
		if ctx.Err() != nil {
			return nil
		}
		trainer.Train(nn, examples, nil, 1)
	}

	return nn.Dump()
}
