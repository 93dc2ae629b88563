package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goroulette/internal/domain"
)

var log = logrus.WithField("component", "stream")

// ErrDataSourceDisconnected 数据源断开。上层收到该状态后应暂停投注，
// 不得伪造开奖结果；连接恢复后自动继续。
var ErrDataSourceDisconnected = errors.New("data source disconnected")

// OutcomeHandler 开奖结果处理器接口。
type OutcomeHandler interface {
	OnOutcome(ctx context.Context, outcome domain.SpinOutcome) error
}

// StateHandler 数据流连接状态处理器。
type StateHandler interface {
	OnConnected(ctx context.Context)
	OnDisconnected(ctx context.Context, reason error)
}

// OutcomeStream 开奖数据流接口（真实赌台 WS 或本地模拟源实现）。
type OutcomeStream interface {
	// OnOutcome 注册开奖结果回调
	OnOutcome(handler OutcomeHandler)

	// OnStateChange 注册连接状态回调
	OnStateChange(handler StateHandler)

	// Connect 建立连接并开始推送（非阻塞；内部自行维护重连）
	Connect(ctx context.Context) error

	// Close 关闭数据流
	Close() error
}

// HandlerList 开奖结果处理器列表。
type HandlerList struct {
	handlers []OutcomeHandler
	mu       sync.RWMutex
}

// NewHandlerList 创建处理器列表。
func NewHandlerList() *HandlerList {
	return &HandlerList{handlers: make([]OutcomeHandler, 0)}
}

// Add 添加处理器。
func (h *HandlerList) Add(handler OutcomeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, handler)
}

// Snapshot 返回处理器快照（无锁遍历，避免分发期间长时间持锁）。
func (h *HandlerList) Snapshot() []OutcomeHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]OutcomeHandler, len(h.handlers))
	copy(out, h.handlers)
	return out
}

// Emit 串行触发所有处理器（确定性优先，开奖顺序不可乱序）。
func (h *HandlerList) Emit(ctx context.Context, outcome domain.SpinOutcome) {
	handlers := h.Snapshot()
	if len(handlers) == 0 {
		log.Warnf("⚠️ [Emit] 没有注册任何开奖处理器, 结果被丢弃: %d", outcome.Value)
		return
	}

	for i, handler := range handlers {
		if handler == nil {
			continue
		}
		func(idx int, oh OutcomeHandler) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("开奖处理器 %d panic: %v", idx, r)
				}
			}()
			if err := oh.OnOutcome(ctx, outcome); err != nil {
				log.Errorf("开奖处理器 %d 执行失败: %v", idx, err)
			}
		}(i, handler)
	}
}

// Count 返回处理器数量。
func (h *HandlerList) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// Clear 清空处理器（关闭流程：先阻止新事件分发，再断开连接）。
func (h *HandlerList) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = h.handlers[:0]
}

// StateHandlerList 连接状态处理器列表。
type StateHandlerList struct {
	handlers []StateHandler
	mu       sync.RWMutex
}

// NewStateHandlerList 创建状态处理器列表。
func NewStateHandlerList() *StateHandlerList {
	return &StateHandlerList{handlers: make([]StateHandler, 0)}
}

// Add 添加处理器。
func (h *StateHandlerList) Add(handler StateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, handler)
}

func (h *StateHandlerList) snapshot() []StateHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]StateHandler, len(h.handlers))
	copy(out, h.handlers)
	return out
}

// EmitConnected 通知连接已建立。
func (h *StateHandlerList) EmitConnected(ctx context.Context) {
	for _, handler := range h.snapshot() {
		if handler == nil {
			continue
		}
		func(sh StateHandler) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("状态处理器 panic: %v", r)
				}
			}()
			sh.OnConnected(ctx)
		}(handler)
	}
}

// EmitDisconnected 通知连接断开。
func (h *StateHandlerList) EmitDisconnected(ctx context.Context, reason error) {
	for _, handler := range h.snapshot() {
		if handler == nil {
			continue
		}
		func(sh StateHandler) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("状态处理器 panic: %v", r)
				}
			}()
			sh.OnDisconnected(ctx, reason)
		}(handler)
	}
}
