package config

import (
	"math"
	"strings"

	"github.com/STTM-NSU/paper-trader/internal/model"
)

type PortfolioConfig struct {
	Name                string              `yaml:"name" json:"name"`
	StartingCapital     float64             `yaml:"starting_capital" json:"starting_capital"`
	ExecutionMode       model.ExecutionMode `yaml:"execution_mode" json:"execution_mode"`
	MaxPositionSizePct  float64             `yaml:"max_position_size_pct" json:"max_position_size_pct"`
	MaxTotalExposurePct float64             `yaml:"max_total_exposure_pct" json:"max_total_exposure_pct"`
	MaxDailyLossPct     float64             `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxDrawdownPct      float64             `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
}

const (
	_executionModeDefault       = model.ModeInstant
	_maxPositionSizePctDefault  = 5
	_maxTotalExposurePctDefault = 80
	_maxDailyLossPctDefault     = 5
	_maxDrawdownPctDefault      = 10
)

func validPct(v float64) bool {
	return !math.IsNaN(v) && v > 0 && v <= 100
}

// ValidateAndSetup fills zero limits with defaults and rejects malformed values with a ValidationError.
func (c *PortfolioConfig) ValidateAndSetup() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return model.NewValidationError("name", "is required")
	}
	if math.IsNaN(c.StartingCapital) || math.IsInf(c.StartingCapital, 0) || c.StartingCapital <= 0 {
		return model.NewValidationError("starting_capital", "must be positive")
	}

	if c.ExecutionMode == "" {
		c.ExecutionMode = _executionModeDefault
	}
	if !c.ExecutionMode.Valid() {
		return model.NewValidationError("execution_mode", "must be instant, realistic or historical")
	}

	if c.MaxPositionSizePct == 0 {
		c.MaxPositionSizePct = _maxPositionSizePctDefault
	}
	if c.MaxTotalExposurePct == 0 {
		c.MaxTotalExposurePct = _maxTotalExposurePctDefault
	}
	if c.MaxDailyLossPct == 0 {
		c.MaxDailyLossPct = _maxDailyLossPctDefault
	}
	if c.MaxDrawdownPct == 0 {
		c.MaxDrawdownPct = _maxDrawdownPctDefault
	}

	for field, v := range map[string]float64{
		"max_position_size_pct":  c.MaxPositionSizePct,
		"max_total_exposure_pct": c.MaxTotalExposurePct,
		"max_daily_loss_pct":     c.MaxDailyLossPct,
		"max_drawdown_pct":       c.MaxDrawdownPct,
	} {
		if !validPct(v) {
			return model.NewValidationError(field, "must be within (0, 100]")
		}
	}

	return nil
}

func (c PortfolioConfig) Limits() model.RiskLimits {
	return model.RiskLimits{
		MaxPositionSizePct:  c.MaxPositionSizePct,
		MaxTotalExposurePct: c.MaxTotalExposurePct,
		MaxDailyLossPct:     c.MaxDailyLossPct,
		MaxDrawdownPct:      c.MaxDrawdownPct,
	}
}
