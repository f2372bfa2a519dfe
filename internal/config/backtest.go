package config

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
	"gopkg.in/yaml.v3"
)

type BacktestConfig struct {
	LogLevel   string           `yaml:"log_level"`
	From       time.Time        `yaml:"from"`
	To         time.Time        `yaml:"to"`
	Portfolio  PortfolioConfig  `yaml:"portfolio"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Risk       RiskConfig       `yaml:"risk"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	MarketData MarketDataConfig `yaml:"market_data"`
	BarCache   StorageConfig    `yaml:"bar_cache"`
	Signals    []model.Signal   `yaml:"signals"`
}

func (b *BacktestConfig) Validate() error {
	if b.From.After(b.To) {
		return fmt.Errorf("from after to")
	}
	if b.Portfolio.ExecutionMode == "" {
		b.Portfolio.ExecutionMode = model.ModeHistorical
	}
	if err := b.Portfolio.ValidateAndSetup(); err != nil {
		return fmt.Errorf("%w: invalid portfolio", err)
	}
	if err := b.Execution.Validate(); err != nil {
		return fmt.Errorf("%w: invalid execution config", err)
	}
	if err := b.Risk.ValidateAndSetup(); err != nil {
		return fmt.Errorf("%w: invalid risk config", err)
	}
	b.Metrics.Setup()
	b.MarketData.Setup()
	b.LogLevel = cmp.Or(b.LogLevel, _logLevelDefault)
	b.BarCache.Driver = cmp.Or(b.BarCache.Driver, Memory)
	b.BarCache.SQLitePath = cmp.Or(b.BarCache.SQLitePath, _sqlitePathDefault)
	switch b.BarCache.Driver {
	case Postgres, SQLite, Memory:
	default:
		return fmt.Errorf("unknown bar cache driver %q", b.BarCache.Driver)
	}

	for i, s := range b.Signals {
		if s.Timestamp.IsZero() {
			return fmt.Errorf("signal #%d has no timestamp", i)
		}
		if s.Timestamp.Before(b.From) || s.Timestamp.After(b.To) {
			return fmt.Errorf("signal #%d at %s is outside the backtest interval", i, s.Timestamp)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: signal #%d", err, i)
		}
	}
	return nil
}

func LoadBacktestConfig(filename string) (BacktestConfig, error) {
	cfg := BacktestConfig{
		Execution: DefaultExecutionConfig(),
		Risk:      DefaultRiskConfig(),
	}
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}
	return cfg, nil
}
