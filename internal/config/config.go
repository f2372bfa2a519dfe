package config

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type StorageDriver string

const (
	Postgres StorageDriver = "postgres"
	SQLite   StorageDriver = "sqlite"
	Memory   StorageDriver = "memory"
)

type StorageConfig struct {
	Driver     StorageDriver `yaml:"driver"`
	SQLitePath string        `yaml:"sqlite_path"`
}

type LockBackend string

const (
	LocalLock LockBackend = "local"
	RedisLock LockBackend = "redis"
)

type LockConfig struct {
	Backend       LockBackend   `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

type MarketDataConfig struct {
	Address           string        `yaml:"address"`
	Interval          string        `yaml:"interval"`
	BarDuration       time.Duration `yaml:"bar_duration"`
	SymbolSuffix      string        `yaml:"symbol_suffix"` // BTC -> BTCUSDT
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	MarkSpec string `yaml:"mark_spec"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type MetricsConfig struct {
	// PeriodsPerYear sets both the return period and the annualization factor: the equity curve is
	// resampled to 365 days / PeriodsPerYear before Sharpe and Sortino are taken.
	PeriodsPerYear    float64 `yaml:"periods_per_year"`
	TradeHistoryLimit int     `yaml:"trade_history_limit"`
	AuditHistoryLimit int     `yaml:"audit_history_limit"`
}

type Config struct {
	LogLevel   string            `yaml:"log_level"`
	Server     ServerConfig      `yaml:"server"`
	Storage    StorageConfig     `yaml:"storage"`
	Lock       LockConfig        `yaml:"lock"`
	MarketData MarketDataConfig  `yaml:"market_data"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Execution  ExecutionConfig   `yaml:"execution"`
	Risk       RiskConfig        `yaml:"risk"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Portfolios []PortfolioConfig `yaml:"portfolios"`
}

const (
	_logLevelDefault          = "info"
	_portDefault              = "8080"
	_storageDriverDefault     = Postgres
	_sqlitePathDefault        = "data/paper.db"
	_lockBackendDefault       = LocalLock
	_lockTTLDefault           = 30 * time.Second
	_lockRetryDefault         = 50 * time.Millisecond
	_marketDataAddressDefault = "https://api.binance.com"
	_intervalDefault          = "1h"
	_barDurationDefault       = time.Hour
	_symbolSuffixDefault      = "USDT"
	_requestsPerMinuteDefault = 600
	_timeoutDefault           = 10 * time.Second
	_markSpecDefault          = "@every 1m"
	_periodsPerYearDefault    = 365
	_tradeHistoryDefault      = 200
	_auditHistoryDefault      = 50
)

func (c *MarketDataConfig) Setup() {
	c.Address = cmp.Or(c.Address, _marketDataAddressDefault)
	c.Interval = cmp.Or(c.Interval, _intervalDefault)
	c.SymbolSuffix = cmp.Or(c.SymbolSuffix, _symbolSuffixDefault)
	if c.BarDuration <= 0 {
		c.BarDuration = _barDurationDefault
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = _requestsPerMinuteDefault
	}
	if c.Timeout <= 0 {
		c.Timeout = _timeoutDefault
	}
}

func (c *MetricsConfig) Setup() {
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = _periodsPerYearDefault
	}
	if c.TradeHistoryLimit <= 0 {
		c.TradeHistoryLimit = _tradeHistoryDefault
	}
	if c.AuditHistoryLimit <= 0 {
		c.AuditHistoryLimit = _auditHistoryDefault
	}
}

func (c *Config) ValidateAndSetup() error {
	c.LogLevel = cmp.Or(c.LogLevel, _logLevelDefault)
	c.Server.Port = cmp.Or(os.Getenv("PAPER_PORT"), c.Server.Port, _portDefault)

	c.Storage.Driver = cmp.Or(StorageDriver(os.Getenv("PAPER_STORAGE_DRIVER")), c.Storage.Driver, _storageDriverDefault)
	c.Storage.SQLitePath = cmp.Or(os.Getenv("PAPER_SQLITE_PATH"), c.Storage.SQLitePath, _sqlitePathDefault)
	switch c.Storage.Driver {
	case Postgres, SQLite, Memory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	c.Lock.Backend = cmp.Or(c.Lock.Backend, _lockBackendDefault)
	c.Lock.RedisAddr = cmp.Or(os.Getenv("PAPER_REDIS_ADDR"), c.Lock.RedisAddr)
	c.Lock.RedisPassword = cmp.Or(os.Getenv("PAPER_REDIS_PASSWORD"), c.Lock.RedisPassword)
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = _lockTTLDefault
	}
	if c.Lock.RetryInterval <= 0 {
		c.Lock.RetryInterval = _lockRetryDefault
	}
	switch c.Lock.Backend {
	case LocalLock:
	case RedisLock:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("redis lock backend requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}

	c.MarketData.Setup()
	c.Scheduler.MarkSpec = cmp.Or(c.Scheduler.MarkSpec, _markSpecDefault)
	c.Metrics.Setup()

	if err := c.Execution.Validate(); err != nil {
		return fmt.Errorf("%w: invalid execution config", err)
	}
	if err := c.Risk.ValidateAndSetup(); err != nil {
		return fmt.Errorf("%w: invalid risk config", err)
	}

	names := make(map[string]struct{}, len(c.Portfolios))
	for i := range c.Portfolios {
		if err := c.Portfolios[i].ValidateAndSetup(); err != nil {
			return fmt.Errorf("%w: invalid portfolio #%d", err, i)
		}
		if _, ok := names[c.Portfolios[i].Name]; ok {
			return fmt.Errorf("duplicate portfolio %q", c.Portfolios[i].Name)
		}
		names[c.Portfolios[i].Name] = struct{}{}
	}

	return nil
}

// Default returns a config with every section at its defaults. LoadConfig unmarshals on top of it,
// so keys missing from the file keep these values, including explicit zeros.
func Default() Config {
	return Config{
		Execution: DefaultExecutionConfig(),
		Risk:      DefaultRiskConfig(),
	}
}

func LoadConfig(filename string) (Config, error) {
	cfg := Default()
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	return cfg, nil
}
