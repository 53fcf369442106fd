package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 运行模式
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// OrchestratorConfig 信号编排配置
type OrchestratorConfig struct {
	ScanIntervalSec     int      `yaml:"scan_interval_sec" json:"scan_interval_sec"`
	MaxConcurrentTrades int      `yaml:"max_concurrent_trades" json:"max_concurrent_trades"`
	EnableStacking      bool     `yaml:"enable_stacking" json:"enable_stacking"`
	MaxStacks           int      `yaml:"max_stacks" json:"max_stacks"`
	StackableTypes      []string `yaml:"stackable_types" json:"stackable_types"`
	MaxOrderUSDC        float64  `yaml:"max_order_usdc" json:"max_order_usdc"`
	MinOrderUSDC        float64  `yaml:"min_order_usdc" json:"min_order_usdc"`
	MinOrderShares      float64  `yaml:"min_order_shares" json:"min_order_shares"`
	InitialPct          float64  `yaml:"initial_pct" json:"initial_pct"`
	EdgeWeight          float64  `yaml:"edge_weight" json:"edge_weight"`
	TimeWeight          float64  `yaml:"time_weight" json:"time_weight"`
	SweetSpotHours      float64  `yaml:"sweet_spot_hours" json:"sweet_spot_hours"`
	ResolutionMaxDays   float64  `yaml:"resolution_max_days" json:"resolution_max_days"`
	StrategyTimeoutSec  int      `yaml:"strategy_timeout_sec" json:"strategy_timeout_sec"`
	EnabledStrategies   []string `yaml:"enabled_strategies" json:"enabled_strategies"`
	PairArbMinEdge      float64  `yaml:"pair_arb_min_edge" json:"pair_arb_min_edge"`
	PairArbSize         float64  `yaml:"pair_arb_size" json:"pair_arb_size"`
	CatalogRefreshSec   int      `yaml:"catalog_refresh_sec" json:"catalog_refresh_sec"`
	CatalogMarketLimit  int      `yaml:"catalog_market_limit" json:"catalog_market_limit"`
}

// PaperConfig 模拟撮合配置
type PaperConfig struct {
	FillProbability    float64 `yaml:"fill_probability" json:"fill_probability"`
	RequireVolumeCross bool    `yaml:"require_volume_cross" json:"require_volume_cross"`
	Seed               uint64  `yaml:"seed" json:"seed"`
	ResetOnStart       bool    `yaml:"reset_on_start" json:"reset_on_start"`
	AutoRedeem         bool    `yaml:"auto_redeem" json:"auto_redeem"`
	RequoteEnabled     bool    `yaml:"requote_enabled" json:"requote_enabled"`
	RequoteMaxDistance float64 `yaml:"requote_max_distance" json:"requote_max_distance"`
	RequoteMaxAgeSec   int     `yaml:"requote_max_age_sec" json:"requote_max_age_sec"`
	RequoteCooldownSec int     `yaml:"requote_cooldown_sec" json:"requote_cooldown_sec"`
}

// RiskConfig 风控配置
type RiskConfig struct {
	MaxDailyLossUSDC             float64 `yaml:"max_daily_loss_usdc" json:"max_daily_loss_usdc"`
	MaxDrawdownPct               float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	MaxConsecutiveLosses         int     `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	CooldownSec                  int     `yaml:"cooldown_sec" json:"cooldown_sec"`
	MaxInventoryUSDCPerCondition float64 `yaml:"max_inventory_usdc_per_condition" json:"max_inventory_usdc_per_condition"`
	MaxOpenGTCPerCondition       int     `yaml:"max_open_gtc_orders_per_condition" json:"max_open_gtc_orders_per_condition"`
	MinDepthUSDC                 float64 `yaml:"min_depth_usdc" json:"min_depth_usdc"`
	DepthCacheTTLSec             int     `yaml:"depth_cache_ttl_sec" json:"depth_cache_ttl_sec"`
}

// HedgeConfig 库存对冲配置
type HedgeConfig struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	Posture            string  `yaml:"posture" json:"posture"` // hard | maker
	MinImbalanceShares float64 `yaml:"min_imbalance_shares" json:"min_imbalance_shares"`
	MaxHedgeUSDC       float64 `yaml:"max_hedge_usdc" json:"max_hedge_usdc"`
	TimeoutSec         int     `yaml:"timeout_sec" json:"timeout_sec"`
}

// ResolutionConfig 结算监控配置
type ResolutionConfig struct {
	CheckIntervalSec int `yaml:"check_interval_sec" json:"check_interval_sec"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Backend     string `yaml:"backend" json:"backend"` // badger | json
	Path        string `yaml:"path" json:"path"`
	JournalPath string `yaml:"journal_path" json:"journal_path"`
}

// VenueConfig 交易所连接配置
type VenueConfig struct {
	ClobURL         string  `yaml:"clob_url" json:"clob_url"`
	GammaURL        string  `yaml:"gamma_url" json:"gamma_url"`
	WSURL           string  `yaml:"ws_url" json:"ws_url"`
	PrivateKey      string  `yaml:"private_key" json:"private_key"`
	FunderAddress   string  `yaml:"funder_address" json:"funder_address"`
	APIKey          string  `yaml:"api_key" json:"api_key"`
	APISecret       string  `yaml:"api_secret" json:"api_secret"`
	APIPassphrase   string  `yaml:"api_passphrase" json:"api_passphrase"`
	ChainID         int64   `yaml:"chain_id" json:"chain_id"`
	RetryAttempts   int     `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelayMs    int     `yaml:"retry_delay_ms" json:"retry_delay_ms"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// ServerConfig 状态接口 / 调试服务
type ServerConfig struct {
	APIAddr   string `yaml:"api_addr" json:"api_addr"`
	DebugAddr string `yaml:"debug_addr" json:"debug_addr"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// Config 应用配置
type Config struct {
	Mode             string             `yaml:"mode" json:"mode"`
	KillSwitch       bool               `yaml:"kill_switch" json:"kill_switch"`
	BankrollUSDC     float64            `yaml:"bankroll_usdc" json:"bankroll_usdc"`
	StatsIntervalSec int                `yaml:"stats_interval_sec" json:"stats_interval_sec"`
	Orchestrator     OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Paper            PaperConfig        `yaml:"paper" json:"paper"`
	Risk             RiskConfig         `yaml:"risk" json:"risk"`
	Hedge            HedgeConfig        `yaml:"hedge" json:"hedge"`
	Resolution       ResolutionConfig   `yaml:"resolution" json:"resolution"`
	Storage          StorageConfig      `yaml:"storage" json:"storage"`
	Venue            VenueConfig        `yaml:"venue" json:"venue"`
	Server           ServerConfig       `yaml:"server" json:"server"`
	Log              LogConfig          `yaml:"log" json:"log"`
}

var globalConfig *Config

// Default 默认配置
func Default() *Config {
	return &Config{
		Mode:             ModePaper,
		BankrollUSDC:     1000,
		StatsIntervalSec: 60,
		Orchestrator: OrchestratorConfig{
			ScanIntervalSec:     5,
			MaxConcurrentTrades: 20,
			EnableStacking:      true,
			MaxStacks:           3,
			StackableTypes:      []string{"arbitrage", "multi_outcome_arb", "conditional_arb"},
			MaxOrderUSDC:        20,
			MinOrderUSDC:        1,
			MinOrderShares:      5,
			InitialPct:          0.25,
			EdgeWeight:          0.6,
			TimeWeight:          0.4,
			SweetSpotHours:      24,
			ResolutionMaxDays:   30,
			StrategyTimeoutSec:  10,
			EnabledStrategies:   []string{"pairarb"},
			PairArbMinEdge:      0.01,
			PairArbSize:         20,
			CatalogRefreshSec:   300,
			CatalogMarketLimit:  200,
		},
		Paper: PaperConfig{
			FillProbability:    1.0,
			Seed:               42,
			ResetOnStart:       true,
			AutoRedeem:         true,
			RequoteMaxDistance: 0.02,
			RequoteMaxAgeSec:   120,
			RequoteCooldownSec: 5,
		},
		Risk: RiskConfig{
			MaxDailyLossUSDC:             50,
			MaxDrawdownPct:               0.10,
			MaxConsecutiveLosses:         5,
			CooldownSec:                  1800,
			MaxInventoryUSDCPerCondition: 100,
			MaxOpenGTCPerCondition:       10,
			MinDepthUSDC:                 5,
			DepthCacheTTLSec:             2,
		},
		Hedge: HedgeConfig{
			Enabled:            true,
			Posture:            "hard",
			MinImbalanceShares: 1,
			MaxHedgeUSDC:       10,
			TimeoutSec:         30,
		},
		Resolution: ResolutionConfig{CheckIntervalSec: 60},
		Storage: StorageConfig{
			Backend:     "badger",
			Path:        "data/ledger",
			JournalPath: "data/journal.db",
		},
		Venue: VenueConfig{
			ClobURL:         "https://clob.polymarket.com",
			GammaURL:        "https://gamma-api.polymarket.com",
			WSURL:           "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:         137,
			RetryAttempts:   3,
			RetryDelayMs:    500,
			RateLimitBurst:  10,
			RateLimitPerSec: 5,
		},
		Server: ServerConfig{
			APIAddr:   "127.0.0.1:8080",
			DebugAddr: "127.0.0.1:6060",
		},
		Log: LogConfig{
			Level: "info",
			File:  "logs/engine.log",
		},
	}
}

// Load 加载配置（优先级：环境变量 > 配置文件 > 默认值）
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	globalConfig = cfg
	return cfg, nil
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON），覆盖到 cfg 上
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// applyEnv 环境变量覆盖（敏感信息通常只放在 .env 中）
func applyEnv(c *Config) {
	c.Mode = getEnv("ENGINE_MODE", c.Mode)
	c.KillSwitch = parseBoolEnv("KILL_SWITCH", c.KillSwitch)
	c.BankrollUSDC = parseFloatEnv("BANKROLL_USDC", c.BankrollUSDC)

	c.Orchestrator.MaxConcurrentTrades = parseIntEnv("MAX_CONCURRENT_TRADES", c.Orchestrator.MaxConcurrentTrades)
	c.Orchestrator.MaxOrderUSDC = parseFloatEnv("MAX_ORDER_USDC", c.Orchestrator.MaxOrderUSDC)
	c.Orchestrator.MinOrderUSDC = parseFloatEnv("MIN_ORDER_USDC", c.Orchestrator.MinOrderUSDC)
	c.Orchestrator.InitialPct = parseFloatEnv("INITIAL_PCT", c.Orchestrator.InitialPct)
	if v := getEnv("ENABLED_STRATEGIES", ""); v != "" {
		c.Orchestrator.EnabledStrategies = parseList(v)
	}

	c.Paper.FillProbability = parseFloatEnv("PAPER_FILL_PROBABILITY", c.Paper.FillProbability)
	c.Paper.RequireVolumeCross = parseBoolEnv("PAPER_REQUIRE_VOLUME_CROSS", c.Paper.RequireVolumeCross)
	c.Paper.ResetOnStart = parseBoolEnv("PAPER_RESET_ON_START", c.Paper.ResetOnStart)

	c.Risk.MaxDailyLossUSDC = parseFloatEnv("MAX_DAILY_LOSS_USDC", c.Risk.MaxDailyLossUSDC)
	c.Risk.MaxDrawdownPct = parseFloatEnv("MAX_DRAWDOWN_PCT", c.Risk.MaxDrawdownPct)

	c.Venue.PrivateKey = getEnv("WALLET_PRIVATE_KEY", c.Venue.PrivateKey)
	c.Venue.FunderAddress = getEnv("WALLET_FUNDER_ADDRESS", c.Venue.FunderAddress)
	c.Venue.APIKey = getEnv("CLOB_API_KEY", c.Venue.APIKey)
	c.Venue.APISecret = getEnv("CLOB_API_SECRET", c.Venue.APISecret)
	c.Venue.APIPassphrase = getEnv("CLOB_API_PASSPHRASE", c.Venue.APIPassphrase)

	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return fmt.Errorf("mode 必须是 paper 或 live: %q", c.Mode)
	}
	if c.Mode == ModeLive && c.Venue.PrivateKey == "" {
		return fmt.Errorf("live 模式需要配置 WALLET_PRIVATE_KEY")
	}
	if c.BankrollUSDC <= 0 {
		return fmt.Errorf("bankroll_usdc 必须大于 0")
	}
	o := c.Orchestrator
	if o.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("max_concurrent_trades 必须大于 0")
	}
	if o.MaxStacks <= 0 {
		return fmt.Errorf("max_stacks 必须大于 0")
	}
	if o.InitialPct <= 0 || o.InitialPct > 1 {
		return fmt.Errorf("initial_pct 必须在 (0, 1] 之间")
	}
	if o.MaxOrderUSDC <= 0 || o.MinOrderUSDC < 0 || o.MinOrderUSDC > o.MaxOrderUSDC {
		return fmt.Errorf("max_order_usdc/min_order_usdc 配置无效")
	}
	if o.EdgeWeight < 0 || o.TimeWeight < 0 {
		return fmt.Errorf("edge_weight/time_weight 不能为负数")
	}
	if c.Paper.FillProbability < 0 || c.Paper.FillProbability > 1 {
		return fmt.Errorf("fill_probability 必须在 0 到 1 之间")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		return fmt.Errorf("max_drawdown_pct 必须在 0 到 1 之间")
	}
	switch c.Hedge.Posture {
	case "hard", "maker":
	default:
		return fmt.Errorf("hedge.posture 必须是 hard 或 maker: %q", c.Hedge.Posture)
	}
	switch c.Storage.Backend {
	case "badger", "json":
	default:
		return fmt.Errorf("storage.backend 必须是 badger 或 json: %q", c.Storage.Backend)
	}
	return nil
}

// Seconds 把整数秒配置转换为 time.Duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// parseList 解析逗号分隔列表
func parseList(str string) []string {
	var out []string
	for _, s := range strings.Split(str, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
