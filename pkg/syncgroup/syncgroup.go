package syncgroup

import (
	"sync"
)

type groupFunc func()

// SyncGroup 对 sync.WaitGroup 的薄封装：先 Add 一批函数，Run 一次性启动，
// 自动配对 Add/Done。数据流每次重连会走一轮 Add → Run → WaitAndClear，
// 因此上一批 goroutine 未退尽之前拒绝再次启动，避免读/心跳循环出现双份。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []groupFunc
	running int // 仍在运行的 goroutine 数
}

// NewSyncGroup 创建 SyncGroup。
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个待启动函数；上一批尚未退尽时丢弃（需先 WaitAndClear）。
func (w *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running > 0 {
		return
	}
	w.fns = append(w.fns, fn)
}

// Run 启动所有已登记的函数，各占一个 goroutine；启动后清空登记列表。
func (w *SyncGroup) Run() {
	w.mu.Lock()
	if w.running > 0 {
		w.mu.Unlock()
		return
	}
	fns := w.fns
	w.fns = nil
	w.running = len(fns)
	w.mu.Unlock()

	for _, fn := range fns {
		w.wg.Add(1)
		go func(do groupFunc) {
			defer func() {
				w.wg.Done()
				w.mu.Lock()
				w.running--
				w.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// WaitAndClear 等待本批全部退出并复位，之后才能启动下一批。
func (w *SyncGroup) WaitAndClear() {
	w.wg.Wait()

	w.mu.Lock()
	w.fns = nil
	w.running = 0
	w.mu.Unlock()
}

// Wait 等待全部退出（不复位）。
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
