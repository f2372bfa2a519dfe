package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PAPER_STORAGE_DRIVER", "")
	t.Setenv("PAPER_PORT", "")

	path := writeFile(t, `
storage:
  driver: memory
execution:
  impact_factor_pct: 0
portfolios:
  - name: main
    starting_capital: 100000
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Storage.Driver != Memory {
		t.Errorf("driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Execution.ImpactFactorPct != 0 {
		t.Errorf("explicit zero impact was overwritten: %v", cfg.Execution.ImpactFactorPct)
	}
	if cfg.Execution.SpreadMinPct != 0.02 || cfg.Execution.SpreadMaxPct != 0.05 {
		t.Errorf("spread defaults = [%v, %v]", cfg.Execution.SpreadMinPct, cfg.Execution.SpreadMaxPct)
	}
	if cfg.Risk.CriticalEventsToTrip != 3 || cfg.Risk.CriticalEventsWindow != time.Hour {
		t.Errorf("risk defaults = %+v", cfg.Risk)
	}

	p := cfg.Portfolios[0]
	want := model.RiskLimits{MaxPositionSizePct: 5, MaxTotalExposurePct: 80, MaxDailyLossPct: 5, MaxDrawdownPct: 10}
	if p.Limits() != want {
		t.Errorf("limits = %+v, want %+v", p.Limits(), want)
	}
	if p.ExecutionMode != model.ModeInstant {
		t.Errorf("mode = %q", p.ExecutionMode)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PAPER_STORAGE_DRIVER", "sqlite")
	t.Setenv("PAPER_SQLITE_PATH", "/tmp/x.db")

	cfg, err := LoadConfig(writeFile(t, "storage:\n  driver: postgres\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.Driver != SQLite || cfg.Storage.SQLitePath != "/tmp/x.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("PAPER_STORAGE_DRIVER", "")

	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "storage:\n  driver: mongo\n"},
		{"redis without addr", "lock:\n  backend: redis\n"},
		{"bad spread", "execution:\n  spread_min_pct: 0.1\n  spread_max_pct: 0.05\n"},
		{"bad verbosity", "risk:\n  audit_verbosity: loud\n"},
		{"duplicate portfolio", "portfolios:\n  - {name: a, starting_capital: 1}\n  - {name: a, starting_capital: 2}\n"},
		{"negative capital", "portfolios:\n  - {name: a, starting_capital: -1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeFile(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPortfolioConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		cfg   PortfolioConfig
		field string
	}{
		{"ok", PortfolioConfig{Name: "x", StartingCapital: 10}, ""},
		{"no name", PortfolioConfig{Name: " ", StartingCapital: 10}, "name"},
		{"zero capital", PortfolioConfig{Name: "x"}, "starting_capital"},
		{"bad mode", PortfolioConfig{Name: "x", StartingCapital: 10, ExecutionMode: "turbo"}, "execution_mode"},
		{"limit over 100", PortfolioConfig{Name: "x", StartingCapital: 10, MaxDrawdownPct: 150}, "max_drawdown_pct"},
		{"negative limit", PortfolioConfig{Name: "x", StartingCapital: 10, MaxDailyLossPct: -1}, "max_daily_loss_pct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateAndSetup()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestBacktestConfigValidate(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := BacktestConfig{
		From:      from,
		To:        from.Add(48 * time.Hour),
		Portfolio: PortfolioConfig{Name: "bt", StartingCapital: 1000},
		Execution: DefaultExecutionConfig(),
		Risk:      DefaultRiskConfig(),
		Signals: []model.Signal{{
			Symbol: "BTC", Direction: model.Long, Confidence: 70,
			EntryPrice: 100, StopLoss: 95, Timestamp: from.Add(72 * time.Hour),
		}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("signal outside interval accepted")
	}

	cfg.Signals[0].Timestamp = from.Add(time.Hour)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Portfolio.ExecutionMode != model.ModeHistorical {
		t.Errorf("mode = %q, want historical", cfg.Portfolio.ExecutionMode)
	}
}

func TestShippedConfigs(t *testing.T) {
	cfg, err := LoadConfig("../../configs/paper.yaml")
	if err != nil {
		t.Fatalf("paper.yaml: %v", err)
	}
	if len(cfg.Portfolios) != 2 || cfg.Execution.FeePct != 0.1 || cfg.Lock.TTL != 30*time.Second {
		t.Errorf("paper.yaml loaded as %+v", cfg)
	}

	bt, err := LoadBacktestConfig("../../configs/backtest.yaml")
	if err != nil {
		t.Fatalf("backtest.yaml: %v", err)
	}
	if len(bt.Signals) != 3 || bt.BarCache.Driver != SQLite || bt.Portfolio.ExecutionMode != model.ModeHistorical {
		t.Errorf("backtest.yaml loaded as %+v", bt)
	}
	// keys missing from the file keep their defaults
	if bt.Execution.PartialFillMinRatio != DefaultExecutionConfig().PartialFillMinRatio {
		t.Errorf("partial_fill_min_ratio = %v, want default", bt.Execution.PartialFillMinRatio)
	}
}
