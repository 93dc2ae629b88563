package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/internal/stream"
	"github.com/betbot/goroulette/pkg/sigchan"
	"github.com/betbot/goroulette/pkg/syncgroup"
)

var casinoLog = logrus.WithField("component", "casino_stream")

const (
	reconnectCoolDownPeriod = 15 * time.Second
	// 服务端要求的应用层心跳间隔是 5 分钟，留出余量
	appPingInterval = 4 * time.Minute
	readTimeout     = 30 * time.Second
	writeTimeout    = 10 * time.Second

	// 静默超过两个心跳周期说明连接已经僵死，强制重连
	healthCheckInterval = 1 * time.Minute
	maxSilence          = 10 * time.Minute
)

// Options 赌台数据流连接参数
type Options struct {
	URL      string
	CasinoID string
	TableID  string
	Currency string
	ProxyURL string
}

// CasinoStream 真实赌台开奖数据流（Pragmatic Play live casino 协议）。
// 信号驱动重连：读/写出错只发一个重连信号，由常驻 reconnector
// 冷却后重建连接并重新订阅，期间投注侧通过 OnDisconnected 暂停。
type CasinoStream struct {
	opts Options

	// 连接管理
	conn       *websocket.Conn
	connCtx    context.Context
	connCancel context.CancelFunc
	connMu     sync.Mutex

	// 重连管理
	reconnectC *sigchan.Chan // 单槽合并的重连信号
	closeC     chan struct{}

	// 回调处理器
	handlers      *stream.HandlerList
	stateHandlers *stream.StateHandlerList

	// Goroutine 管理
	sg     *syncgroup.SyncGroup // 常驻 goroutine（reconnector）
	connSg *syncgroup.SyncGroup // 每个连接的 goroutine（read、ping）

	// 去重：同一局的快照只允许产生一次开奖事件
	lastGameID string
	gameIDMu   sync.Mutex

	// 诊断：最近一次收到消息的时间
	lastMessageAt time.Time
	lastMsgMu     sync.RWMutex
}

// NewCasinoStream 创建赌台数据流客户端
func NewCasinoStream(opts Options) *CasinoStream {
	return &CasinoStream{
		opts:          opts,
		reconnectC:    sigchan.New(1),
		closeC:        make(chan struct{}),
		handlers:      stream.NewHandlerList(),
		stateHandlers: stream.NewStateHandlerList(),
		sg:            syncgroup.NewSyncGroup(),
		connSg:        syncgroup.NewSyncGroup(),
		lastMessageAt: time.Now(),
	}
}

// OnOutcome 注册开奖结果回调
func (c *CasinoStream) OnOutcome(handler stream.OutcomeHandler) {
	if handler == nil {
		casinoLog.Errorf("❌ OnOutcome 收到 nil handler")
		return
	}
	c.handlers.Add(handler)
}

// OnStateChange 注册连接状态回调
func (c *CasinoStream) OnStateChange(handler stream.StateHandler) {
	if handler == nil {
		return
	}
	c.stateHandlers.Add(handler)
}

// Connect 建立连接并启动重连器。首次拨号失败直接返回错误，
// 由上层决定是否降级到模拟数据源。
func (c *CasinoStream) Connect(ctx context.Context) error {
	c.sg.Add(func() {
		c.reconnector(ctx)
	})
	c.sg.Run()

	return c.dialAndConnect(ctx)
}

// dialAndConnect 拨号、启动连接级 goroutine 并订阅赌台
func (c *CasinoStream) dialAndConnect(ctx context.Context) error {
	select {
	case <-c.closeC:
		return fmt.Errorf("数据流已关闭，取消连接")
	default:
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	connCtx, connCancel := c.setConn(ctx, conn)

	// 等旧连接的 goroutine 退出，避免双读
	done := make(chan struct{})
	go func() {
		c.connSg.WaitAndClear()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		casinoLog.Debugf("等待旧连接 goroutine 退出超时，继续启动新连接")
	}

	c.connSg.Add(func() {
		c.read(connCtx, conn, connCancel)
	})
	c.connSg.Add(func() {
		c.ping(connCtx, conn, connCancel)
	})
	c.connSg.Add(func() {
		c.healthCheck(connCtx, conn, connCancel)
	})
	c.connSg.Run()

	if err := c.subscribe(conn); err != nil {
		conn.Close()
		return err
	}
	c.markMessageReceived()

	casinoLog.Infof("📡 赌台数据流已连接: table=%s casino=%s", c.opts.TableID, c.opts.CasinoID)
	c.stateHandlers.EmitConnected(ctx)
	return nil
}

// setConn 原子替换连接，取消旧连接的 context
func (c *CasinoStream) setConn(ctx context.Context, conn *websocket.Conn) (context.Context, context.CancelFunc) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connCancel != nil {
		c.connCancel()
	}

	connCtx, connCancel := context.WithCancel(ctx)
	c.conn = conn
	c.connCtx = connCtx
	c.connCancel = connCancel
	return connCtx, connCancel
}

func (c *CasinoStream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
	}
	if c.opts.ProxyURL != "" {
		proxyURL, err := url.Parse(c.opts.ProxyURL)
		if err == nil {
			dialer.Proxy = http.ProxyURL(proxyURL)
			casinoLog.Infof("使用代理连接 WebSocket: %s", c.opts.ProxyURL)
		}
	}

	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("连接赌台 WebSocket 失败: %w", err)
	}

	conn.SetPingHandler(nil)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout * 2))
	})
	return conn, nil
}

// Reconnect 触发重连（非阻塞，信号合并）
func (c *CasinoStream) Reconnect() {
	c.reconnectC.Emit()
}

// reconnector 常驻重连器，冷却后重建连接
func (c *CasinoStream) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeC:
			return
		case <-c.reconnectC.C():
			casinoLog.Warnf("收到重连信号，冷却 %s...", reconnectCoolDownPeriod)
			c.stateHandlers.EmitDisconnected(ctx, stream.ErrDataSourceDisconnected)

			select {
			case <-c.closeC:
				return
			case <-ctx.Done():
				return
			case <-time.After(reconnectCoolDownPeriod):
			}

			casinoLog.Warnf("重新连接赌台...")
			if err := c.dialAndConnect(ctx); err != nil {
				casinoLog.Warnf("重连失败: %v, 将再次尝试", err)
				c.Reconnect()
			}
		}
	}
}

// read 消息读取循环
func (c *CasinoStream) read(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeC:
			return
		default:
		}

		// 用 deadline 让 ReadMessage 最多阻塞 readTimeout，周期性回到循环检查退出条件
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			casinoLog.Errorf("设置读取超时失败: %v", err)
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				casinoLog.Debugf("WebSocket 正常关闭")
				return
			}
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				continue
			}
			if err.Error() == "use of closed network connection" {
				casinoLog.Debugf("WebSocket 连接已关闭")
				return
			}

			casinoLog.Warnf("⚠️ WebSocket 读取错误: %v, 触发重连", err)
			_ = conn.Close()
			c.Reconnect()
			return
		}

		c.markMessageReceived()
		c.handleMessage(ctx, message)
	}
}

// ping 应用层心跳循环（服务端要求 JSON ping）
func (c *CasinoStream) ping(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	ticker := time.NewTicker(appPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeC:
			return
		case <-ticker.C:
			pingMsg := map[string]interface{}{
				"type":     "ping",
				"pingTime": time.Now().UnixMilli(),
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(pingMsg); err != nil {
				casinoLog.Warnf("发送心跳失败: %v, 触发重连", err)
				c.Reconnect()
				return
			}
		}
	}
}

// healthCheck 静默检测。读循环的 deadline 只保护单次 ReadMessage，
// 连接假死时读不到也不报错，这里按最近消息时间兜底。
func (c *CasinoStream) healthCheck(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeC:
			return
		case <-ticker.C:
			silence := time.Since(c.LastMessageAt())
			if silence > maxSilence {
				casinoLog.Warnf("⚠️ 数据流静默 %s, 强制重连", silence.Round(time.Second))
				_ = conn.Close()
				c.Reconnect()
				return
			}
		}
	}
}

// subscribe 订阅赌台开奖推送
func (c *CasinoStream) subscribe(conn *websocket.Conn) error {
	subscribeMsg := map[string]interface{}{
		"type":           "subscribe",
		"isDeltaEnabled": true,
		"casinoId":       c.opts.CasinoID,
		"key":            []string{c.opts.TableID},
		"currency":       c.opts.Currency,
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("发送订阅消息失败: %w", err)
	}
	casinoLog.Infof("✅ 已订阅赌台 %s", c.opts.TableID)
	return nil
}

// tableResult last20Results 中的单局结果
type tableResult struct {
	Time   string `json:"time"`
	Result string `json:"result"`
	Color  string `json:"color"`
	GameID string `json:"gameId"`
}

// tableMessage 赌台快照消息
type tableMessage struct {
	TableID       string        `json:"tableId"`
	Last20Results []tableResult `json:"last20Results"`
	Result        *struct {
		Number *int `json:"number"`
	} `json:"result"`
}

// handleMessage 解析赌台消息并派发开奖事件。
// 主格式：{"tableId":"236","last20Results":[{最新一局在前}]}；
// 兼容旧格式 {"result":{"number":N}}。
func (c *CasinoStream) handleMessage(ctx context.Context, message []byte) {
	var msg tableMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		preview := message
		if len(preview) > 200 {
			preview = preview[:200]
		}
		casinoLog.Debugf("解析消息失败(可能是非JSON): %v, msg=%q", err, string(preview))
		return
	}

	switch {
	case msg.TableID != "" && len(msg.Last20Results) > 0:
		if msg.TableID != c.opts.TableID {
			casinoLog.Debugf("忽略其他赌台的消息: %s", msg.TableID)
			return
		}
		latest := msg.Last20Results[0]
		value, err := strconv.Atoi(latest.Result)
		if err != nil {
			casinoLog.Warnf("⚠️ 开奖号码格式非法: %q", latest.Result)
			return
		}
		if !c.markGameSeen(latest.GameID) {
			return
		}
		c.emitOutcome(ctx, value)

	case msg.Result != nil && msg.Result.Number != nil:
		c.emitOutcome(ctx, *msg.Result.Number)
	}
}

// markGameSeen 记录已处理的局号；重复快照返回 false。
// 空局号（部分旧网关不带 gameId）不做去重。
func (c *CasinoStream) markGameSeen(gameID string) bool {
	if gameID == "" {
		return true
	}
	c.gameIDMu.Lock()
	defer c.gameIDMu.Unlock()
	if gameID == c.lastGameID {
		return false
	}
	c.lastGameID = gameID
	return true
}

func (c *CasinoStream) emitOutcome(ctx context.Context, value int) {
	outcome := domain.SpinOutcome{Value: value, Time: time.Now()}
	if err := outcome.Validate(); err != nil {
		casinoLog.Warnf("⚠️ 丢弃非法开奖号码 %d: %v", value, err)
		return
	}

	select {
	case <-c.closeC:
		return
	default:
	}
	if c.handlers.Count() == 0 {
		return
	}

	casinoLog.Infof("🎲 开奖: %d (%s)", outcome.Value, outcome.Color())
	c.handlers.Emit(ctx, outcome)
}

func (c *CasinoStream) markMessageReceived() {
	c.lastMsgMu.Lock()
	c.lastMessageAt = time.Now()
	c.lastMsgMu.Unlock()
}

// LastMessageAt 最近一次收到任何消息的时间（诊断用）
func (c *CasinoStream) LastMessageAt() time.Time {
	c.lastMsgMu.RLock()
	defer c.lastMsgMu.RUnlock()
	return c.lastMessageAt
}

// Close 关闭数据流：先清空 handlers 挡住新事件，再关闭连接并等 goroutine 退出
func (c *CasinoStream) Close() error {
	select {
	case <-c.closeC:
		return nil
	default:
	}

	c.handlers.Clear()
	close(c.closeC)

	c.connMu.Lock()
	if c.connCancel != nil {
		c.connCancel()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	// 等待连接级 goroutine 退出（带超时）
	done1 := make(chan struct{})
	go func() {
		c.connSg.WaitAndClear()
		close(done1)
	}()
	select {
	case <-done1:
	case <-time.After(5 * time.Second):
		casinoLog.Warnf("等待连接 goroutine 退出超时，继续关闭")
	}

	// 等待常驻 goroutine 退出
	done2 := make(chan struct{})
	go func() {
		c.sg.WaitAndClear()
		close(done2)
	}()
	select {
	case <-done2:
	case <-time.After(5 * time.Second):
		casinoLog.Warnf("等待重连器退出超时，继续关闭")
	}

	casinoLog.Infof("✅ 赌台数据流已关闭: table=%s", c.opts.TableID)
	return nil
}
