package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/betbot/goroulette/internal/dashboard"
	"github.com/betbot/goroulette/internal/history"
	"github.com/betbot/goroulette/internal/infrastructure/casinoapi"
	"github.com/betbot/goroulette/internal/infrastructure/simulated"
	"github.com/betbot/goroulette/internal/infrastructure/websocket"
	"github.com/betbot/goroulette/internal/journal"
	"github.com/betbot/goroulette/internal/metrics"
	"github.com/betbot/goroulette/internal/model"
	"github.com/betbot/goroulette/internal/risk"
	"github.com/betbot/goroulette/internal/services"
	"github.com/betbot/goroulette/internal/simulator"
	"github.com/betbot/goroulette/internal/strategies"
	_ "github.com/betbot/goroulette/internal/strategies/all" // 注册所有内置策略
	"github.com/betbot/goroulette/internal/strategies/custom"
	"github.com/betbot/goroulette/internal/stream"
	"github.com/betbot/goroulette/internal/web"
	"github.com/betbot/goroulette/pkg/config"
	"github.com/betbot/goroulette/pkg/logger"
	"github.com/betbot/goroulette/pkg/persistence"
	"github.com/betbot/goroulette/pkg/secretstore"
	"github.com/betbot/goroulette/pkg/shutdown"
)

// summaryPath 会话汇总 jsonl，cmd/sessions 和外部脚本都从这里读
const summaryPath = "logs/sessions.jsonl"

var (
	configPath     = flag.String("config", "", "配置文件路径 (yaml/json)，为空则用环境变量与默认值")
	strategyFlag   = flag.String("strategy", "", "投注策略 (top1/top3/top18/custom)，覆盖配置")
	balanceFlag    = flag.String("balance", "", "初始余额，覆盖配置")
	stakeFlag      = flag.String("stake", "", "每局注金，覆盖配置")
	customKFlag    = flag.Int("custom-k", 0, "custom 策略候选数量 [1,37]，覆盖配置")
	autoTrainFlag  = flag.Bool("auto-train", true, "开奖后自动触发模型重训")
	simulateFlag   = flag.Bool("simulate", false, "强制使用本地模拟数据源")
	liveFlag       = flag.Bool("live", false, "强制连接真实赌台数据源")
	dashboardFlag  = flag.Bool("dashboard", false, "启动终端监控界面")
	listStrategies = flag.Bool("list-strategies", false, "列出已注册的策略后退出")
)

func main() {
	flag.Parse()

	// .env 只是本地开发注入 ROULETTE_* 变量的便利手段，不存在时静默跳过
	_ = godotenv.Load()

	if err := logger.InitDefault(); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志系统失败: %v\n", err)
		os.Exit(1)
	}

	if *listStrategies {
		for _, id := range strategies.List() {
			s, _ := strategies.Get(id)
			fmt.Printf("%-8s 候选数=%d\n", id, s.CandidateCount())
		}
		return
	}

	if *simulateFlag && *liveFlag {
		logger.Errorf("-simulate 与 -live 不能同时指定")
		os.Exit(1)
	}

	config.SetConfigPath(*configPath)
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if err := applyFlagOverrides(cfg); err != nil {
		logger.Errorf("命令行参数非法: %v", err)
		os.Exit(1)
	}

	// 用配置重新初始化日志（级别、文件轮转）
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}); err != nil {
		logger.Errorf("日志配置初始化失败: %v", err)
		os.Exit(1)
	}

	logger.Infof("🚀 启动轮盘投注机器人: mode=%s strategy=%s balance=%s stake=%s",
		cfg.DataSource.Mode, cfg.Betting.Strategy,
		cfg.Betting.StartingBalance, cfg.Betting.StakePerRound)

	if err := run(cfg); err != nil {
		logger.Errorf("启动失败: %v", err)
		os.Exit(1)
	}

	// 破产也走到这里：会话正常收尾，进程以 0 退出
	logger.Infof("✅ 轮盘投注机器人已停止")
}

// run 组装全部组件并阻塞运行，直到收到信号、破产或监控界面退出。
// 只有启动阶段的错误会作为 error 返回，运行期的结束都是正常返回。
func run(cfg *config.Config) error {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	strat, err := buildStrategy(cfg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.MetricsAddr); err != nil {
			logger.Warnf("⚠️ 诊断端口启动失败 (%s): %v", cfg.MetricsAddr, err)
		} else {
			logger.Infof("📊 诊断端口已启动: http://%s/debug/vars", cfg.MetricsAddr)
		}
	}

	jnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("打开投注流水库失败: %w", err)
	}

	buffer := history.NewSequenceBuffer(cfg.Model.BufferCapacity)

	var store persistence.Store
	if cfg.Model.AutoSave && cfg.Model.ModelDir != "" {
		svc := persistence.NewJSONFileService(cfg.Model.ModelDir)
		store = svc.NewStore("model", cfg.DataSource.TableID,
			fmt.Sprintf("seq%d", cfg.Model.SequenceLength))
	}

	mgr := model.NewManager(model.Hyperparams{
		SequenceLength: cfg.Model.SequenceLength,
		HiddenLayers:   cfg.Model.HiddenLayers,
		Epochs:         cfg.Model.Epochs,
		BatchSize:      cfg.Model.BatchSize,
		TrainTimeout:   cfg.Model.TrainTimeout,
	}, buffer, store)
	if store != nil {
		switch err := mgr.LoadPersisted(); {
		case err == nil:
			v := mgr.CurrentVersion()
			logger.Infof("📦 已恢复持久化模型 v%d (样本数 %d)", v.ID, v.SampleCount)
		case errors.Is(err, model.ErrModelNotFound):
			// 首次运行，等首轮训练
		default:
			logger.Warnf("⚠️ 恢复持久化模型失败, 将从头训练: %v", err)
		}
	}

	sim, err := simulator.New(cfg.Betting.StartingBalance, cfg.Betting.StakePerRound)
	if err != nil {
		return fmt.Errorf("创建投注模拟器失败: %w", err)
	}
	guard := risk.NewGuard(risk.Config{
		MaxConsecutiveLosses: int64(cfg.Risk.MaxConsecutiveLosses),
		MaxDrawdownPct:       cfg.Risk.MaxDrawdownPct,
	}, cfg.Betting.StartingBalance)

	source := services.SourceSimulated
	if cfg.DataSource.Mode == config.ModeLive {
		source = services.SourceLive
	}
	ctrl := services.NewController(buffer, mgr, sim, guard, jnl, services.Options{
		Strategy:         strat,
		AutoTrain:        cfg.Model.AutoTrain,
		MinTrainInterval: cfg.Model.MinTrainInterval,
		Source:           source,
		SummaryPath:      summaryPath,
	})
	if err := ctrl.Begin(rootCtx); err != nil {
		logger.Warnf("⚠️ 写入会话开始记录失败: %v", err)
	}

	// 训练 worker 先于数据流启动，重训信号由控制器节流后发出
	mgr.Start(rootCtx)

	// 历史开奖预热失败不影响启动，只是冷启动要多等几局
	bootstrapHistory(rootCtx, cfg, ctrl)

	feed, err := buildFeed(cfg)
	if err != nil {
		return err
	}
	feed.OnOutcome(ctrl)
	feed.OnStateChange(ctrl)

	var webSrv *web.Server
	if cfg.Web.Enabled {
		webSrv = web.NewServer(web.Deps{
			SessionID:      ctrl.SessionID(),
			Strategy:       strat.ID(),
			Simulator:      sim,
			Model:          mgr,
			Journal:        jnl,
			Guard:          guard,
			LastPrediction: ctrl.LastPrediction,
			Connected:      ctrl.IsConnected,
		})
		if err := webSrv.StartAsync(cfg.Web.Listen); err != nil {
			return fmt.Errorf("启动状态接口失败: %w", err)
		}
		logger.Infof("🌐 状态接口已启动: http://%s", cfg.Web.Listen)
	}

	if err := feed.Connect(rootCtx); err != nil {
		return fmt.Errorf("连接数据源失败: %w", err)
	}

	// 按注册逆序关闭：停数据流 → 关状态接口 → 等训练 worker → 会话汇总 → 关流水库。
	// 数据流必须最先停，汇总时才不会再有新开奖进来；未开奖的注在 Finish 里退还。
	sd := shutdown.NewManager()
	sd.OnShutdown("journal", func(ctx context.Context) {
		if err := jnl.Close(); err != nil {
			logger.Warnf("⚠️ 关闭投注流水库失败: %v", err)
		}
	})
	sd.OnShutdown("session-summary", func(ctx context.Context) {
		ctrl.Finish(ctx)
	})
	sd.OnShutdown("model-worker", func(ctx context.Context) {
		select {
		case <-mgr.Done():
		case <-ctx.Done():
			logger.Warnf("⚠️ 等待训练 worker 退出超时")
		}
		if store != nil {
			if err := mgr.SaveCurrent(); err != nil && !errors.Is(err, model.ErrModelNotReady) {
				logger.Warnf("⚠️ 退出前保存模型失败: %v", err)
			}
		}
	})
	if webSrv != nil {
		sd.OnShutdown("web", func(ctx context.Context) {
			if err := webSrv.Close(); err != nil {
				logger.Warnf("⚠️ 关闭状态接口失败: %v", err)
			}
		})
	}
	sd.OnShutdown("feed", func(ctx context.Context) {
		if err := feed.Close(); err != nil {
			logger.Warnf("⚠️ 关闭数据流失败: %v", err)
		}
	})

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)

	if *dashboardFlag {
		go func() {
			select {
			case sig := <-sigC:
				logger.Infof("🛑 收到信号 %v, 退出监控界面", sig)
			case <-ctrl.BankruptC():
				logger.Warnf("🛑 余额不足以继续投注, 会话结束")
			case <-rootCtx.Done():
				return
			}
			rootCancel()
		}()
		if err := dashboard.Run(rootCtx, dashboard.Sources{
			Controller: ctrl,
			Simulator:  sim,
			Model:      mgr,
			Guard:      guard,
			Buffer:     buffer,
			StrategyID: strat.ID(),
		}); err != nil {
			logger.Warnf("⚠️ 监控界面异常退出: %v", err)
		}
	} else {
		select {
		case sig := <-sigC:
			logger.Infof("🛑 收到信号 %v, 开始优雅退出", sig)
		case <-ctrl.BankruptC():
			logger.Warnf("🛑 余额不足以继续投注, 会话结束")
		}
	}

	rootCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sd.Shutdown(shutdownCtx)
	return nil
}

// applyFlagOverrides 把命令行参数覆盖到配置上，覆盖后重新校验。
func applyFlagOverrides(cfg *config.Config) error {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *strategyFlag != "" {
		cfg.Betting.Strategy = *strategyFlag
	}
	if *balanceFlag != "" {
		v, err := decimal.NewFromString(*balanceFlag)
		if err != nil {
			return fmt.Errorf("-balance %q: %w", *balanceFlag, err)
		}
		cfg.Betting.StartingBalance = v
	}
	if *stakeFlag != "" {
		v, err := decimal.NewFromString(*stakeFlag)
		if err != nil {
			return fmt.Errorf("-stake %q: %w", *stakeFlag, err)
		}
		cfg.Betting.StakePerRound = v
	}
	if set["custom-k"] {
		cfg.Betting.CustomK = *customKFlag
	}
	if set["auto-train"] {
		cfg.Model.AutoTrain = *autoTrainFlag
	}
	switch {
	case *simulateFlag:
		cfg.DataSource.Mode = config.ModeSimulated
	case *liveFlag:
		cfg.DataSource.Mode = config.ModeLive
	}
	return cfg.Validate()
}

// buildStrategy 从注册表取策略；custom_k > 0 时自动切到 custom 并注入候选数量。
func buildStrategy(cfg *config.Config) (strategies.Strategy, error) {
	if cfg.Betting.CustomK > 0 && cfg.Betting.Strategy != custom.ID {
		logger.Infof("custom_k=%d 已指定, 策略切换为 %s", cfg.Betting.CustomK, custom.ID)
		cfg.Betting.Strategy = custom.ID
	}

	strat, err := strategies.Get(cfg.Betting.Strategy)
	if err != nil {
		return nil, fmt.Errorf("未知策略 %q, 可用: %v", cfg.Betting.Strategy, strategies.List())
	}
	if cfg.Betting.CustomK > 0 {
		c, ok := strat.(strategies.Configurable)
		if !ok {
			return nil, fmt.Errorf("策略 %s 不支持 custom_k", strat.ID())
		}
		if err := c.SetCandidateCount(cfg.Betting.CustomK); err != nil {
			return nil, fmt.Errorf("custom_k 非法: %w", err)
		}
	}
	return strat, nil
}

// bootstrapHistory 启动时从赌场 API 拉历史开奖灌入缓冲，失败只告警。
func bootstrapHistory(ctx context.Context, cfg *config.Config, ctrl *services.Controller) {
	if cfg.DataSource.HistoryURL == "" {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client := casinoapi.NewClient(cfg.DataSource.HistoryURL, 10*time.Second)
	outcomes, err := client.FetchHistory(fetchCtx, cfg.DataSource.TableID, cfg.Model.BufferCapacity)
	if err != nil {
		logger.Warnf("⚠️ 拉取历史开奖失败, 跳过预热: %v", err)
		return
	}
	ctrl.Bootstrap(ctx, outcomes)
}

// buildFeed 按配置选择数据源。live 模式下 casino_id 为空时回退到密钥库。
func buildFeed(cfg *config.Config) (stream.OutcomeStream, error) {
	if cfg.DataSource.Mode == config.ModeSimulated {
		return simulated.NewFeed(cfg.DataSource.SimulatedInterval), nil
	}

	casinoID := cfg.DataSource.CasinoID
	tableID := cfg.DataSource.TableID
	if casinoID == "" {
		creds, err := loadStoredCredentials(cfg.SecretStore.Path)
		if err != nil {
			return nil, fmt.Errorf("live 模式缺少 casino_id 且密钥库不可用: %w", err)
		}
		casinoID = creds.CasinoID
		if creds.TableID != "" {
			tableID = creds.TableID
		}
	}
	if casinoID == "" {
		return nil, fmt.Errorf("live 模式需要 casino_id (配置或经 cmd/creds 导入密钥库)")
	}

	return websocket.NewCasinoStream(websocket.Options{
		URL:      cfg.DataSource.WebsocketURL,
		CasinoID: casinoID,
		TableID:  tableID,
		Currency: cfg.DataSource.Currency,
		ProxyURL: os.Getenv("ROULETTE_PROXY_URL"),
	}), nil
}

// loadStoredCredentials 以只读方式打开密钥库读取赌场凭据
func loadStoredCredentials(path string) (secretstore.Credentials, error) {
	key, err := secretstore.ParseKey(os.Getenv("ROULETTE_SECRET_KEY"))
	if err != nil {
		return secretstore.Credentials{}, fmt.Errorf("ROULETTE_SECRET_KEY 非法: %w", err)
	}

	st, err := secretstore.Open(secretstore.OpenOptions{
		Path:          path,
		EncryptionKey: key,
		ReadOnly:      true,
	})
	if err != nil {
		return secretstore.Credentials{}, err
	}
	defer st.Close()

	creds, ok, err := st.LoadCredentials()
	if err != nil {
		return secretstore.Credentials{}, err
	}
	if !ok {
		return secretstore.Credentials{}, fmt.Errorf("密钥库中没有赌场凭据")
	}
	return creds, nil
}
