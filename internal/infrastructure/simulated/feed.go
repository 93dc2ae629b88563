// Package simulated 提供本地模拟开奖数据源：按固定间隔产生均匀随机的
// 轮盘号码，接口与真实赌台数据流一致，便于离线验证整条流水线。
package simulated

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/internal/stream"
	"github.com/betbot/goroulette/pkg/syncgroup"
)

var log = logrus.WithField("component", "simulated_feed")

// Feed 模拟开奖数据源，实现 stream.OutcomeStream。
type Feed struct {
	interval time.Duration

	handlers      *stream.HandlerList
	stateHandlers *stream.StateHandlerList

	rng   *rand.Rand
	rngMu sync.Mutex

	closeC    chan struct{}
	closeOnce sync.Once
	sg        *syncgroup.SyncGroup
}

// NewFeed 创建模拟数据源。interval 非正时回退到 5 秒。
func NewFeed(interval time.Duration) *Feed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Feed{
		interval:      interval,
		handlers:      stream.NewHandlerList(),
		stateHandlers: stream.NewStateHandlerList(),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		closeC:        make(chan struct{}),
		sg:            syncgroup.NewSyncGroup(),
	}
}

// OnOutcome 注册开奖结果回调
func (f *Feed) OnOutcome(handler stream.OutcomeHandler) {
	if handler == nil {
		return
	}
	f.handlers.Add(handler)
}

// OnStateChange 注册连接状态回调
func (f *Feed) OnStateChange(handler stream.StateHandler) {
	if handler == nil {
		return
	}
	f.stateHandlers.Add(handler)
}

// Connect 启动模拟开奖循环（非阻塞）
func (f *Feed) Connect(ctx context.Context) error {
	select {
	case <-f.closeC:
		return fmt.Errorf("模拟数据源已关闭")
	default:
	}

	f.sg.Add(func() {
		f.run(ctx)
	})
	f.sg.Run()

	log.Infof("🎲 模拟数据源已启动: 每 %s 产生一次开奖", f.interval)
	f.stateHandlers.EmitConnected(ctx)
	return nil
}

func (f *Feed) run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.closeC:
			return
		case <-ticker.C:
			outcome := domain.SpinOutcome{Value: f.nextValue(), Time: time.Now()}
			log.Infof("🎲 模拟开奖: %d (%s)", outcome.Value, outcome.Color())
			f.handlers.Emit(ctx, outcome)
		}
	}
}

func (f *Feed) nextValue() int {
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return f.rng.Intn(domain.WheelSize)
}

// Close 停止模拟开奖
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		f.handlers.Clear()
		close(f.closeC)
		f.sg.WaitAndClear()
		log.Infof("模拟数据源已停止")
	})
	return nil
}
