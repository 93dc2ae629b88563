// Package web 暴露只读状态与少量控制操作的 HTTP API，
// 供仪表盘和外部脚本轮询：会话状态、模型版本、近期投注、手动触发训练。
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/internal/journal"
	"github.com/betbot/goroulette/internal/model"
	"github.com/betbot/goroulette/internal/risk"
	"github.com/betbot/goroulette/internal/simulator"
	"github.com/betbot/goroulette/internal/strategies"
	"github.com/betbot/goroulette/pkg/cache"
	"github.com/betbot/goroulette/pkg/ratelimit"
)

var log = logrus.WithField("component", "web")

// 流水库查询缓存的 TTL：仪表盘 1–2 秒轮询一次，3 秒足够挡掉重复读
const journalCacheTTL = 3 * time.Second

// Deps 注入 API 所需的各组件。LastPrediction/Connected 由会话控制器提供。
type Deps struct {
	SessionID string
	Strategy  string

	Simulator *simulator.Simulator
	Model     *model.Manager
	Journal   *journal.Journal
	Guard     *risk.Guard

	LastPrediction func() *domain.PredictionResult
	Connected      func() bool
}

// Server 状态/控制 API 服务
type Server struct {
	deps Deps
	srv  *http.Server

	// POST /api/train 的触发节流：每分钟最多补充 1 个令牌，突发上限 2
	trainLimiter *ratelimit.TokenBucket
	// 查询接口整体限流，保护单连接的 SQLite
	readLimiter *ratelimit.SlidingWindow

	sessionsCache *cache.InMemoryCache[string, []journal.SessionRecord]
	betsCache     *cache.InMemoryCache[string, []journal.BetRow]
}

// NewServer 创建 API 服务
func NewServer(deps Deps) *Server {
	return &Server{
		deps:          deps,
		trainLimiter:  ratelimit.NewTokenBucket(2, 1, time.Minute),
		readLimiter:   ratelimit.NewSlidingWindow(300, 10*time.Second),
		sessionsCache: cache.NewInMemoryCache[string, []journal.SessionRecord](journalCacheTTL),
		betsCache:     cache.NewInMemoryCache[string, []journal.BetRow](journalCacheTTL),
	}
}

// Router 组装路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.Use(s.readLimit())

	api.GET("/session", s.handleSession)
	api.GET("/model", s.handleModel)
	api.GET("/strategies", s.handleStrategies)
	api.GET("/prediction", s.handlePrediction)
	api.GET("/bets/recent", s.handleRecentBets)
	api.GET("/sessions", s.handleSessions)

	api.POST("/train", s.handleTrain)
	api.POST("/betting/pause", s.handleBettingPause)
	api.POST("/betting/resume", s.handleBettingResume)

	return r
}

// StartAsync 启动 API 服务（非阻塞）
func (s *Server) StartAsync(listenAddr string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Addr:    listenAddr,
		Handler: s.Router(),
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API 服务异常退出: %v", err)
		}
	}()

	log.Infof("🌐 状态 API 已启动: http://%s", listenAddr)
	return nil
}

// Close 优雅关闭 API 服务
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) readLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		if !s.readLimiter.Allow() {
			retryAfter := time.Until(s.readLimiter.GetResetTime())
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleSession(c *gin.Context) {
	state := s.deps.Simulator.State()

	connected := false
	if s.deps.Connected != nil {
		connected = s.deps.Connected()
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":     s.deps.SessionID,
		"strategy":       s.deps.Strategy,
		"status":         state.Status,
		"balance":        state.Balance.String(),
		"stake":          state.StakePerRound.String(),
		"total_spins":    state.TotalSpins,
		"wins":           state.Wins,
		"win_rate":       state.WinRate(),
		"betting_paused": s.deps.Guard.IsPaused(),
		"connected":      connected,
	})
}

func (s *Server) handleModel(c *gin.Context) {
	training := s.deps.Model.IsTraining()
	version := s.deps.Model.CurrentVersion()
	if version == nil {
		c.JSON(http.StatusOK, gin.H{
			"version":  nil,
			"training": training,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":      version.ID,
		"trained_at":   version.TrainedAt,
		"sample_count": version.SampleCount,
		"training":     training,
	})
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": strategies.List()})
}

func (s *Server) handlePrediction(c *gin.Context) {
	if s.deps.LastPrediction == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no prediction yet"})
		return
	}
	pred := s.deps.LastPrediction()
	if pred == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no prediction yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"strategy":      pred.Strategy,
		"candidates":    pred.Candidates,
		"probabilities": pred.Probabilities,
		"model_version": pred.ModelVersion,
		"predicted_at":  pred.PredictedAt,
	})
}

func (s *Server) handleRecentBets(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 20)
	key := s.deps.SessionID + ":" + strconv.Itoa(limit)

	rows, ok := s.betsCache.Get(key)
	if !ok {
		var err error
		rows, err = s.deps.Journal.RecentBets(c.Request.Context(), s.deps.SessionID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.betsCache.Set(key, rows, 0)
	}
	c.JSON(http.StatusOK, gin.H{"bets": rows})
}

func (s *Server) handleSessions(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 20)
	key := strconv.Itoa(limit)

	recs, ok := s.sessionsCache.Get(key)
	if !ok {
		var err error
		recs, err = s.deps.Journal.ListSessions(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.sessionsCache.Set(key, recs, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": recs})
}

func (s *Server) handleTrain(c *gin.Context) {
	if !s.trainLimiter.Allow() {
		retryAfter := time.Until(s.trainLimiter.GetResetTime())
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "train trigger rate limited"})
		return
	}
	s.deps.Model.RequestRetrain()
	log.Infof("🧠 收到手动训练请求")
	c.JSON(http.StatusAccepted, gin.H{"status": "training requested"})
}

func (s *Server) handleBettingPause(c *gin.Context) {
	s.deps.Guard.Pause()
	log.Warnf("⏸️ 投注已通过 API 暂停")
	c.JSON(http.StatusOK, gin.H{"betting_paused": true})
}

func (s *Server) handleBettingResume(c *gin.Context) {
	s.deps.Guard.Resume()
	log.Infof("▶️ 投注已通过 API 恢复")
	c.JSON(http.StatusOK, gin.H{"betting_paused": false})
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
