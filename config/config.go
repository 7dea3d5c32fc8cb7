// Package config quantgate 配置：YAML 加载、校验、热更新
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"quantgate/backtest"
	"quantgate/database"
	"quantgate/event"
	"quantgate/lock"
	"quantgate/market"
	"quantgate/notify"
	"quantgate/promotion"
	"quantgate/strategy"
	"quantgate/walkforward"
)

// Config 回测与晋升服务配置
type Config struct {
	// 应用配置
	App struct {
		Name       string `yaml:"name"`
		ReportsDir string `yaml:"reports_dir"` // Markdown/CSV 报告输出目录
	} `yaml:"app"`

	Backtest BacktestConfig `yaml:"backtest"`

	WalkForward struct {
		NFolds           int `yaml:"n_folds"`
		TestWindowDays   int `yaml:"test_window_days"`
		Workers          int `yaml:"workers"`            // 并行折叠数
		BudgetSeconds    int `yaml:"budget_seconds"`     // 0 表示不限
		SampleIntervalMs int `yaml:"sample_interval_ms"` // 资源采样间隔，0 表示不采样
	} `yaml:"walkforward"`

	// 晋升门槛（可热更新）
	Promotion promotion.Thresholds `yaml:"promotion"`

	DataSource DataSourceConfig `yaml:"data_source"`

	// 启动时注册的策略实例
	Strategies []StrategyConfig `yaml:"strategies"`

	Database struct {
		Type               string `yaml:"type"` // sqlite, postgres, mysql
		DSN                string `yaml:"dsn"`
		MaxOpenConns       int    `yaml:"max_open_conns"`
		MaxIdleConns       int    `yaml:"max_idle_conns"`
		ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec"`
		LogLevel           string `yaml:"log_level"`
	} `yaml:"database"`

	Lock struct {
		Enabled       bool   `yaml:"enabled"`
		Type          string `yaml:"type"` // redis, local
		Prefix        string `yaml:"prefix"`
		DefaultTTLSec int    `yaml:"default_ttl_sec"`
		Redis         struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"lock"`

	Events struct {
		BufferSize int  `yaml:"buffer_size"`
		Persist    bool `yaml:"persist"` // 事件落库
		Kafka      struct {
			Enabled        bool     `yaml:"enabled"`
			Brokers        []string `yaml:"brokers"`
			Topic          string   `yaml:"topic"`
			MaxRetries     int      `yaml:"max_retries"`
			WriteTimeoutMs int      `yaml:"write_timeout_ms"`
		} `yaml:"kafka"`
	} `yaml:"events"`

	// 晋升结果推送
	Notifications notify.Config `yaml:"notifications"`

	Web struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"web"`

	Metrics struct {
		Enabled            bool `yaml:"enabled"`
		SystemIntervalSecs int  `yaml:"system_interval_secs"`
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level"` // DEBUG, INFO, WARN, ERROR（可热更新）
		Dir   string `yaml:"dir"`   // 为空时只输出到控制台
	} `yaml:"log"`
}

// BacktestConfig 回测参数，金额与费率用字符串以免 YAML 浮点误差
type BacktestConfig struct {
	InitialBalance string  `yaml:"initial_balance"`
	Slippage       string  `yaml:"slippage"`
	CommissionRate string  `yaml:"commission_rate"`
	MaxPositions   int     `yaml:"max_positions"`
	WarmupBars     int     `yaml:"warmup_bars"`
	PositionSize   string  `yaml:"position_size"`
	RiskPerTrade   string  `yaml:"risk_per_trade"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
}

// DataSourceConfig 历史数据源
type DataSourceConfig struct {
	Type         string `yaml:"type"` // sqlite, parquet, binance, alpaca
	SQLitePath   string `yaml:"sqlite_path"`
	ParquetDir   string `yaml:"parquet_dir"`
	CacheDir     string `yaml:"cache_dir"`     // binance CSV 缓存
	PrefetchDays int    `yaml:"prefetch_days"` // 远程数据源按品种预取最近 N 天并常驻内存，0 表示不预取
	CacheTTLMin  int    `yaml:"cache_ttl_min"` // 预取缓存过期时间（分钟），0 表示不过期
	Binance      struct {
		APIKey     string  `yaml:"api_key"`
		SecretKey  string  `yaml:"secret_key"`
		Testnet    bool    `yaml:"testnet"`
		Interval   string  `yaml:"interval"`
		RatePerSec float64 `yaml:"rate_per_sec"`
	} `yaml:"binance"`
	Alpaca struct {
		APIKey     string  `yaml:"api_key"`
		APISecret  string  `yaml:"api_secret"`
		DataURL    string  `yaml:"data_url"`
		Feed       string  `yaml:"feed"`
		RatePerSec float64 `yaml:"rate_per_sec"`
	} `yaml:"alpaca"`
}

// StrategyConfig 策略实例
type StrategyConfig struct {
	Name   string          `yaml:"name"`
	Type   string          `yaml:"type"` // momentum, mean_reversion, trend_following
	Params strategy.Params `yaml:"params"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置
func LoadConfigFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// DefaultConfig 默认配置：本地 SQLite 行情与元数据库，进程内锁，不启用 Kafka
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "quantgate"
	cfg.App.ReportsDir = "backtest/reports"

	cfg.Backtest = BacktestConfig{
		InitialBalance: "10000",
		Slippage:       "0",
		CommissionRate: "0.0004",
		MaxPositions:   1,
		WarmupBars:     20,
		PositionSize:   "1",
		RiskPerTrade:   "0",
		RiskFreeRate:   backtest.DefaultRiskFreeRate,
	}

	cfg.WalkForward.NFolds = 5
	cfg.WalkForward.TestWindowDays = 30
	cfg.WalkForward.Workers = 4
	cfg.WalkForward.SampleIntervalMs = 500

	cfg.Promotion = promotion.DefaultThresholds()

	cfg.DataSource.Type = "sqlite"
	cfg.DataSource.SQLitePath = "data/bars.db"
	cfg.DataSource.ParquetDir = "data/parquet"
	cfg.DataSource.CacheDir = "data/cache"
	cfg.DataSource.CacheTTLMin = 60

	cfg.Database.Type = "sqlite"
	cfg.Database.DSN = "data/quantgate.db"

	cfg.Lock.Type = "local"
	cfg.Lock.Prefix = "quantgate:lock:"
	cfg.Lock.DefaultTTLSec = 30

	cfg.Events.BufferSize = 1000
	cfg.Events.Kafka.Topic = "quantgate.events"
	cfg.Events.Kafka.MaxRetries = 3
	cfg.Events.Kafka.WriteTimeoutMs = 5000

	cfg.Notifications.Rules = notify.Rules{
		PromotionApproved: true,
		PromotionRejected: true,
		StrategyRetired:   true,
	}

	cfg.Web.Enabled = true
	cfg.Web.Host = "0.0.0.0"
	cfg.Web.Port = 28890

	cfg.Metrics.Enabled = true
	cfg.Metrics.SystemIntervalSecs = 15

	cfg.Log.Level = "INFO"
	return cfg
}

// Validate 校验并补全默认值，错误均为 *market.ConfigError
func (c *Config) Validate() error {
	if _, err := c.BacktestSettings(); err != nil {
		return err
	}

	wf := &c.WalkForward
	if wf.NFolds < 1 {
		return &market.ConfigError{Field: "walkforward.n_folds", Value: wf.NFolds, Reason: "必须 >= 1"}
	}
	if wf.TestWindowDays < 1 {
		return &market.ConfigError{Field: "walkforward.test_window_days", Value: wf.TestWindowDays, Reason: "必须 >= 1"}
	}
	if wf.Workers <= 0 {
		wf.Workers = 1
	}
	if wf.BudgetSeconds < 0 {
		return &market.ConfigError{Field: "walkforward.budget_seconds", Value: wf.BudgetSeconds, Reason: "不能为负"}
	}

	if err := c.Promotion.Validate(); err != nil {
		return err
	}

	switch c.DataSource.Type {
	case "sqlite":
		if c.DataSource.SQLitePath == "" {
			return &market.ConfigError{Field: "data_source.sqlite_path", Value: "", Reason: "sqlite 数据源需要路径"}
		}
	case "parquet":
		if c.DataSource.ParquetDir == "" {
			return &market.ConfigError{Field: "data_source.parquet_dir", Value: "", Reason: "parquet 数据源需要目录"}
		}
	case "binance", "alpaca":
		if c.DataSource.PrefetchDays < 0 {
			return &market.ConfigError{Field: "data_source.prefetch_days", Value: c.DataSource.PrefetchDays, Reason: "不能为负"}
		}
		if c.DataSource.CacheTTLMin < 0 {
			return &market.ConfigError{Field: "data_source.cache_ttl_min", Value: c.DataSource.CacheTTLMin, Reason: "不能为负"}
		}
	default:
		return &market.ConfigError{Field: "data_source.type", Value: c.DataSource.Type, Reason: "支持 sqlite, parquet, binance, alpaca"}
	}

	if n := c.Notifications; n.Enabled {
		if n.Webhook.URL == "" && n.Telegram.BotToken == "" && n.Slack.Webhook == "" {
			return &market.ConfigError{Field: "notifications", Value: "enabled", Reason: "至少配置一个通知渠道"}
		}
		if n.Telegram.BotToken != "" && n.Telegram.ChatID == "" {
			return &market.ConfigError{Field: "notifications.telegram.chat_id", Value: "", Reason: "Telegram 需要 chat_id"}
		}
	}

	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.Type == "" {
			return &market.ConfigError{Field: fmt.Sprintf("strategies[%d].type", i), Value: "", Reason: "策略类型不能为空"}
		}
		name := s.Name
		if name == "" {
			name = s.Type
		}
		if seen[name] {
			return &market.ConfigError{Field: fmt.Sprintf("strategies[%d].name", i), Value: name, Reason: "策略名重复"}
		}
		seen[name] = true
	}

	switch c.Database.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return &market.ConfigError{Field: "database.type", Value: c.Database.Type, Reason: "支持 sqlite, postgres, mysql"}
	}

	if c.Lock.Enabled && c.Lock.Type == "redis" && c.Lock.Redis.Addr == "" {
		return &market.ConfigError{Field: "lock.redis.addr", Value: "", Reason: "redis 锁需要地址"}
	}
	if c.Lock.DefaultTTLSec <= 0 {
		c.Lock.DefaultTTLSec = 30
	}

	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 1000
	}
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return &market.ConfigError{Field: "events.kafka.brokers", Value: nil, Reason: "启用 Kafka 时必须配置 broker"}
	}

	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return &market.ConfigError{Field: "web.port", Value: c.Web.Port, Reason: "端口必须在 1-65535"}
	}
	if c.Metrics.SystemIntervalSecs <= 0 {
		c.Metrics.SystemIntervalSecs = 15
	}
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	return nil
}

// BacktestSettings 转换为回测器参数
func (c *Config) BacktestSettings() (backtest.Config, error) {
	b := c.Backtest
	cfg := backtest.DefaultConfig()
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"backtest.initial_balance", b.InitialBalance, &cfg.InitialBalance},
		{"backtest.slippage", b.Slippage, &cfg.Slippage},
		{"backtest.commission_rate", b.CommissionRate, &cfg.CommissionRate},
		{"backtest.position_size", b.PositionSize, &cfg.PositionSize},
		{"backtest.risk_per_trade", b.RiskPerTrade, &cfg.RiskPerTrade},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return cfg, &market.ConfigError{Field: f.name, Value: f.raw, Reason: "不是合法的十进制数"}
		}
		*f.dst = v
	}
	if b.MaxPositions != 0 {
		cfg.MaxPositions = b.MaxPositions
	}
	if b.WarmupBars != 0 {
		cfg.WarmupBars = b.WarmupBars
	}
	if b.RiskFreeRate != 0 {
		cfg.RiskFreeRate = b.RiskFreeRate
	}
	return cfg, cfg.Validate()
}

// WalkForwardSettings 转换为验证器参数
func (c *Config) WalkForwardSettings() walkforward.Config {
	return walkforward.Config{
		Workers:        c.WalkForward.Workers,
		Budget:         time.Duration(c.WalkForward.BudgetSeconds) * time.Second,
		SampleInterval: time.Duration(c.WalkForward.SampleIntervalMs) * time.Millisecond,
	}
}

// DatabaseSettings 转换为数据库参数
func (c *Config) DatabaseSettings() *database.Config {
	return &database.Config{
		Type:            c.Database.Type,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(c.Database.ConnMaxLifetimeSec) * time.Second,
		LogLevel:        c.Database.LogLevel,
	}
}

// LockSettings 转换为锁参数
func (c *Config) LockSettings() *lock.Config {
	return &lock.Config{
		Enabled:    c.Lock.Enabled,
		Type:       c.Lock.Type,
		Prefix:     c.Lock.Prefix,
		DefaultTTL: time.Duration(c.Lock.DefaultTTLSec) * time.Second,
		Redis: lock.RedisConfig{
			Addr:     c.Lock.Redis.Addr,
			Password: c.Lock.Redis.Password,
			DB:       c.Lock.Redis.DB,
			PoolSize: c.Lock.Redis.PoolSize,
		},
	}
}

// KafkaSettings 转换为 Kafka 参数
func (c *Config) KafkaSettings() event.KafkaConfig {
	return event.KafkaConfig{
		Brokers:      c.Events.Kafka.Brokers,
		Topic:        c.Events.Kafka.Topic,
		MaxRetries:   c.Events.Kafka.MaxRetries,
		RetryBackoff: 100 * time.Millisecond,
		WriteTimeout: time.Duration(c.Events.Kafka.WriteTimeoutMs) * time.Millisecond,
	}
}

// BuildRegistry 按配置构造策略注册表；未配置任何策略时注册全部内置策略
func (c *Config) BuildRegistry() (*strategy.Registry, error) {
	if len(c.Strategies) == 0 {
		return strategy.DefaultRegistry(), nil
	}
	reg := strategy.NewRegistry()
	for i, sc := range c.Strategies {
		s, err := strategy.Build(sc.Type, sc.Name, sc.Params)
		if err != nil {
			return nil, &market.ConfigError{Field: fmt.Sprintf("strategies[%d]", i), Value: sc.Type, Reason: err.Error()}
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
