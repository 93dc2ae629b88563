package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/goroulette/internal/domain"
)

// 数据源模式
const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

// DataSourceConfig 开奖数据源配置
type DataSourceConfig struct {
	Mode              string        // live | simulated
	WebsocketURL      string        // live 模式的 WS 地址
	HistoryURL        string        // 可选：启动时拉取历史开奖的 HTTP 端点
	CasinoID          string        // 为空时从密钥库读取
	TableID           string        // 桌台 ID
	Currency          string
	SimulatedInterval time.Duration // 模拟模式出号间隔
}

// ModelConfig 模型与训练配置
type ModelConfig struct {
	SequenceLength   int
	BufferCapacity   int
	HiddenLayers     []int
	Epochs           int
	BatchSize        int
	AutoTrain        bool          // 每个新号码后自动触发重训
	TrainTimeout     time.Duration // 0 = 不限制
	MinTrainInterval time.Duration // 两次重训的最小间隔，0 = 每个号码都触发
	ModelDir         string        // 模型落盘目录
	AutoSave         bool          // 训练成功后自动落盘
}

// BettingConfig 投注配置
type BettingConfig struct {
	Strategy        string
	CustomK         int // >0 时覆盖 custom 策略的候选数量
	StartingBalance decimal.Decimal
	StakePerRound   decimal.Decimal
}

// RiskConfig 风控配置，零值表示对应开关关闭
type RiskConfig struct {
	MaxConsecutiveLosses int
	MaxDrawdownPct       float64
}

// JournalConfig 投注流水库配置
type JournalConfig struct {
	Path string
}

// WebConfig 状态接口配置
type WebConfig struct {
	Enabled bool
	Listen  string
}

// SecretStoreConfig 密钥库配置
type SecretStoreConfig struct {
	Path string
}

// Config 应用配置
type Config struct {
	LogLevel    string
	LogFile     string
	MetricsAddr string // 为空则不启动 metrics/pprof
	DataSource  DataSourceConfig
	Model       ModelConfig
	Betting     BettingConfig
	Risk        RiskConfig
	Journal     JournalConfig
	Web         WebConfig
	SecretStore SecretStoreConfig
}

// ConfigFile 配置文件结构（YAML/JSON 解析用）
type ConfigFile struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogFile     string `yaml:"log_file" json:"log_file"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	DataSource struct {
		Mode              string `yaml:"mode" json:"mode"`
		WebsocketURL      string `yaml:"websocket_url" json:"websocket_url"`
		HistoryURL        string `yaml:"history_url" json:"history_url"`
		CasinoID          string `yaml:"casino_id" json:"casino_id"`
		TableID           string `yaml:"table_id" json:"table_id"`
		Currency          string `yaml:"currency" json:"currency"`
		SimulatedInterval string `yaml:"simulated_interval" json:"simulated_interval"`
	} `yaml:"data_source" json:"data_source"`

	Model struct {
		SequenceLength   int    `yaml:"sequence_length" json:"sequence_length"`
		BufferCapacity   int    `yaml:"buffer_capacity" json:"buffer_capacity"`
		HiddenLayers     []int  `yaml:"hidden_layers" json:"hidden_layers"`
		Epochs           int    `yaml:"epochs" json:"epochs"`
		BatchSize        int    `yaml:"batch_size" json:"batch_size"`
		AutoTrain        *bool  `yaml:"auto_train" json:"auto_train"`
		TrainTimeout     string `yaml:"train_timeout" json:"train_timeout"`
		MinTrainInterval string `yaml:"min_train_interval" json:"min_train_interval"`
		ModelDir         string `yaml:"model_dir" json:"model_dir"`
		AutoSave         *bool  `yaml:"auto_save" json:"auto_save"`
	} `yaml:"model" json:"model"`

	Betting struct {
		Strategy        string `yaml:"strategy" json:"strategy"`
		CustomK         int    `yaml:"custom_k" json:"custom_k"`
		StartingBalance string `yaml:"starting_balance" json:"starting_balance"`
		StakePerRound   string `yaml:"stake_per_round" json:"stake_per_round"`
	} `yaml:"betting" json:"betting"`

	Risk struct {
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
		MaxDrawdownPct       float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	} `yaml:"risk" json:"risk"`

	Journal struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"journal" json:"journal"`

	Web struct {
		Enabled bool   `yaml:"enabled" json:"enabled"`
		Listen  string `yaml:"listen" json:"listen"`
	} `yaml:"web" json:"web"`

	SecretStore struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"secret_store" json:"secret_store"`
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置。
// 优先级：配置文件 > 环境变量（ROULETTE_ 前缀）> 默认值。
// filePath 为空时只用环境变量和默认值。
func LoadFromFile(filePath string) (*Config, error) {
	if globalConfig != nil && configFilePath == filePath {
		return globalConfig, nil
	}

	var cf *ConfigFile
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}
	if cf == nil {
		cf = &ConfigFile{}
	}

	startingBalance, err := parseDecimal(cf.Betting.StartingBalance,
		getEnv("ROULETTE_STARTING_BALANCE", ""), "100")
	if err != nil {
		return nil, fmt.Errorf("starting_balance 非法: %w", err)
	}
	stake, err := parseDecimal(cf.Betting.StakePerRound,
		getEnv("ROULETTE_STAKE", ""), "0.01")
	if err != nil {
		return nil, fmt.Errorf("stake_per_round 非法: %w", err)
	}

	config := &Config{
		LogLevel:    pickString(cf.LogLevel, getEnv("ROULETTE_LOG_LEVEL", ""), "info"),
		LogFile:     pickString(cf.LogFile, getEnv("ROULETTE_LOG_FILE", ""), "logs/bot.log"),
		MetricsAddr: pickString(cf.MetricsAddr, getEnv("ROULETTE_METRICS_ADDR", ""), os.Getenv("METRICS_ADDR")),
		DataSource: DataSourceConfig{
			Mode:              pickString(cf.DataSource.Mode, getEnv("ROULETTE_DATA_MODE", ""), ModeSimulated),
			WebsocketURL:      pickString(cf.DataSource.WebsocketURL, getEnv("ROULETTE_WS_URL", ""), "wss://dga.pragmaticplaylive.net/ws"),
			HistoryURL:        pickString(cf.DataSource.HistoryURL, getEnv("ROULETTE_HISTORY_URL", ""), ""),
			CasinoID:          pickString(cf.DataSource.CasinoID, getEnv("ROULETTE_CASINO_ID", ""), ""),
			TableID:           pickString(cf.DataSource.TableID, getEnv("ROULETTE_TABLE_ID", ""), "236"),
			Currency:          pickString(cf.DataSource.Currency, getEnv("ROULETTE_CURRENCY", ""), "USD"),
			SimulatedInterval: parseDurationOr(cf.DataSource.SimulatedInterval, 5*time.Second),
		},
		Model: ModelConfig{
			SequenceLength:   pickInt(cf.Model.SequenceLength, parseIntEnv("ROULETTE_SEQUENCE_LENGTH", 10)),
			BufferCapacity:   pickInt(cf.Model.BufferCapacity, parseIntEnv("ROULETTE_BUFFER_CAPACITY", 1000)),
			HiddenLayers:     pickIntSlice(cf.Model.HiddenLayers, []int{64, 32}),
			Epochs:           pickInt(cf.Model.Epochs, parseIntEnv("ROULETTE_EPOCHS", 50)),
			BatchSize:        pickInt(cf.Model.BatchSize, parseIntEnv("ROULETTE_BATCH_SIZE", 32)),
			AutoTrain:        pickBool(cf.Model.AutoTrain, parseBoolEnv("ROULETTE_AUTO_TRAIN", true)),
			TrainTimeout:     parseDurationOr(cf.Model.TrainTimeout, 0),
			MinTrainInterval: parseDurationOr(cf.Model.MinTrainInterval, 0),
			ModelDir:         pickString(cf.Model.ModelDir, getEnv("ROULETTE_MODEL_DIR", ""), "models"),
			AutoSave:         pickBool(cf.Model.AutoSave, parseBoolEnv("ROULETTE_AUTO_SAVE", true)),
		},
		Betting: BettingConfig{
			Strategy:        pickString(cf.Betting.Strategy, getEnv("ROULETTE_STRATEGY", ""), "top3"),
			CustomK:         pickInt(cf.Betting.CustomK, parseIntEnv("ROULETTE_CUSTOM_K", 0)),
			StartingBalance: startingBalance,
			StakePerRound:   stake,
		},
		Risk: RiskConfig{
			MaxConsecutiveLosses: pickInt(cf.Risk.MaxConsecutiveLosses, parseIntEnv("ROULETTE_MAX_CONSECUTIVE_LOSSES", 0)),
			MaxDrawdownPct:       pickFloat(cf.Risk.MaxDrawdownPct, parseFloatEnv("ROULETTE_MAX_DRAWDOWN_PCT", 0)),
		},
		Journal: JournalConfig{
			Path: pickString(cf.Journal.Path, getEnv("ROULETTE_JOURNAL_PATH", ""), "data/roulette.db"),
		},
		Web: WebConfig{
			Enabled: cf.Web.Enabled || parseBoolEnv("ROULETTE_WEB_ENABLED", false),
			Listen:  pickString(cf.Web.Listen, getEnv("ROULETTE_WEB_LISTEN", ""), "127.0.0.1:8899"),
		},
		SecretStore: SecretStoreConfig{
			Path: pickString(cf.SecretStore.Path, getEnv("ROULETTE_SECRET_STORE", ""), "data/secrets"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// Get 获取已加载的全局配置，未加载时返回 nil
func Get() *Config {
	return globalConfig
}

// Validate 校验配置；失败属于启动致命错误
func (c *Config) Validate() error {
	switch c.DataSource.Mode {
	case ModeLive, ModeSimulated:
	default:
		return fmt.Errorf("data_source.mode 必须是 %s 或 %s, got %q", ModeLive, ModeSimulated, c.DataSource.Mode)
	}
	if c.DataSource.SimulatedInterval <= 0 {
		return fmt.Errorf("data_source.simulated_interval 必须为正")
	}

	if c.Model.SequenceLength < 1 {
		return fmt.Errorf("model.sequence_length 必须 >= 1, got %d", c.Model.SequenceLength)
	}
	if c.Model.BufferCapacity < c.Model.SequenceLength+1 {
		return fmt.Errorf("model.buffer_capacity 必须 >= sequence_length+1 (%d), got %d",
			c.Model.SequenceLength+1, c.Model.BufferCapacity)
	}
	if c.Model.Epochs < 1 || c.Model.BatchSize < 1 {
		return fmt.Errorf("model.epochs 和 model.batch_size 必须 >= 1")
	}
	for _, n := range c.Model.HiddenLayers {
		if n < 1 {
			return fmt.Errorf("model.hidden_layers 各层必须 >= 1, got %v", c.Model.HiddenLayers)
		}
	}

	if c.Betting.Strategy == "" {
		return fmt.Errorf("betting.strategy 不能为空")
	}
	if c.Betting.CustomK < 0 || c.Betting.CustomK > domain.WheelSize {
		return fmt.Errorf("betting.custom_k 必须在 [0, %d], got %d", domain.WheelSize, c.Betting.CustomK)
	}
	if c.Betting.StakePerRound.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("betting.stake_per_round 必须为正, got %s", c.Betting.StakePerRound)
	}
	if c.Betting.StartingBalance.IsNegative() {
		return fmt.Errorf("betting.starting_balance 不能为负, got %s", c.Betting.StartingBalance)
	}

	if c.Risk.MaxDrawdownPct < 0 || c.Risk.MaxDrawdownPct > 100 {
		return fmt.Errorf("risk.max_drawdown_pct 必须在 [0, 100], got %v", c.Risk.MaxDrawdownPct)
	}

	if c.Web.Enabled && c.Web.Listen == "" {
		return fmt.Errorf("web.enabled 时必须配置 web.listen")
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path 不能为空")
	}
	return nil
}

// loadConfigFile 加载配置文件（按扩展名支持 YAML 和 JSON，JSON 是 YAML 子集，统一走 yaml 解析）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf ConfigFile
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml", ".json":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s", filepath.Ext(filePath))
	}
	return &cf, nil
}

func pickString(fileValue, envValue, defaultValue string) string {
	if fileValue != "" {
		return fileValue
	}
	if envValue != "" {
		return envValue
	}
	return defaultValue
}

func pickInt(fileValue, fallback int) int {
	if fileValue != 0 {
		return fileValue
	}
	return fallback
}

func pickFloat(fileValue, fallback float64) float64 {
	if fileValue != 0 {
		return fileValue
	}
	return fallback
}

func pickBool(fileValue *bool, fallback bool) bool {
	if fileValue != nil {
		return *fileValue
	}
	return fallback
}

func pickIntSlice(fileValue, defaultValue []int) []int {
	if len(fileValue) > 0 {
		return fileValue
	}
	return defaultValue
}

func parseDecimal(fileValue, envValue, defaultValue string) (decimal.Decimal, error) {
	s := pickString(fileValue, envValue, defaultValue)
	return decimal.NewFromString(s)
}

func parseDurationOr(s string, defaultValue time.Duration) time.Duration {
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
