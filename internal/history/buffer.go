package history

import (
	"errors"
	"fmt"
	"sync"

	"github.com/betbot/goroulette/internal/domain"
)

// ErrInsufficientHistory 历史数据不足，无法截取所需窗口。
var ErrInsufficientHistory = errors.New("insufficient history")

// DefaultCapacity 滚动历史默认容量。
const DefaultCapacity = 1000

// SequenceBuffer 固定容量的滚动开奖历史，训练样本与推理上下文的唯一数据源。
// 写入方只有采集端一个；读取方（训练采样、推理）通过快照取得一致的时点副本，
// 不会观察到淘汰进行到一半的状态。
type SequenceBuffer struct {
	mu   sync.RWMutex
	data []domain.SpinOutcome // 环形存储
	head int                  // 最旧元素下标
	size int

	total int64 // 累计写入条数（含已淘汰）
}

// NewSequenceBuffer 创建容量为 capacity 的缓冲区；capacity <= 0 时取默认容量。
func NewSequenceBuffer(capacity int) *SequenceBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SequenceBuffer{data: make([]domain.SpinOutcome, capacity)}
}

// Append 追加一条开奖结果；超出容量时按 FIFO 淘汰最旧一条。
func (b *SequenceBuffer) Append(outcome domain.SpinOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size < len(b.data) {
		b.data[(b.head+b.size)%len(b.data)] = outcome
		b.size++
	} else {
		b.data[b.head] = outcome
		b.head = (b.head + 1) % len(b.data)
	}
	b.total++
}

// Snapshot 返回最近 windowLength 条结果的时点副本（旧 → 新）。
// 现存数据不足时返回 ErrInsufficientHistory。
func (b *SequenceBuffer) Snapshot(windowLength int) ([]domain.SpinOutcome, error) {
	if windowLength <= 0 {
		return nil, fmt.Errorf("窗口长度必须 > 0: %d", windowLength)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size < windowLength {
		return nil, fmt.Errorf("%w: 现有 %d 条, 需要 %d 条", ErrInsufficientHistory, b.size, windowLength)
	}
	out := make([]domain.SpinOutcome, windowLength)
	start := b.size - windowLength
	for i := 0; i < windowLength; i++ {
		out[i] = b.data[(b.head+start+i)%len(b.data)]
	}
	return out, nil
}

// SnapshotAll 返回当前全部内容的时点副本（旧 → 新），供训练采样使用。
func (b *SequenceBuffer) SnapshotAll() []domain.SpinOutcome {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.SpinOutcome, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	return out
}

// Len 当前持有条数。
func (b *SequenceBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity 缓冲区容量。
func (b *SequenceBuffer) Capacity() int {
	return len(b.data)
}

// Total 累计写入条数（含已被淘汰的部分）。
func (b *SequenceBuffer) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
