// Package shutdown 提供按注册逆序执行的优雅关闭管理器。
// 关停顺序与启动顺序相反：先停数据流，再收尾会话，最后关存储。
package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/goroulette/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context)

type step struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	steps []step
	mu    sync.Mutex
	done  bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调；执行时按注册逆序逐个调用。
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, handler: handler})
}

// Shutdown 逆序执行所有关闭回调（阻塞调用，幂等）。
// ctx 应该带超时，避免某个回调卡死整个关停。
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	steps := make([]step, len(m.steps))
	copy(steps, m.steps)
	m.mu.Unlock()

	if len(steps) == 0 {
		return
	}
	logger.Infof("开始优雅关闭, 共 %d 步", len(steps))

	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if ctx.Err() != nil {
			logger.Warnf("关闭超时, 跳过剩余 %d 步: %v", i+1, ctx.Err())
			return
		}

		start := time.Now()
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("关闭步骤 %s panic: %v", s.name, r)
				}
			}()
			s.handler(ctx)
		}()

		select {
		case <-finished:
			logger.Infof("关闭步骤完成: %s (%v)", s.name, time.Since(start).Round(time.Millisecond))
		case <-ctx.Done():
			logger.Warnf("关闭步骤超时: %s", s.name)
		}
	}
	logger.Info("所有关闭步骤已完成")
}
