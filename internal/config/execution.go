package config

import (
	"fmt"
	"time"
)

type ExecutionConfig struct {
	SpreadMinPct           float64       `yaml:"spread_min_pct"`
	SpreadMaxPct           float64       `yaml:"spread_max_pct"`
	ImpactFactorPct        float64       `yaml:"impact_factor_pct"` // impact when notional equals liquidity_notional
	LiquidityNotional      float64       `yaml:"liquidity_notional"`
	MaxImpactPct           float64       `yaml:"max_impact_pct"`
	LatencyMin             time.Duration `yaml:"latency_min"`
	LatencyMax             time.Duration `yaml:"latency_max"`
	PartialFillProbability float64       `yaml:"partial_fill_probability"`
	PartialFillMinRatio    float64       `yaml:"partial_fill_min_ratio"`
	HistoricalBias         float64       `yaml:"historical_bias"` // min share of the open-to-close move travelled at fill
	FeePct                 float64       `yaml:"fee_pct"`
	Seed                   uint64        `yaml:"seed"` // 0 seeds from the clock
}

func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		SpreadMinPct:           0.02,
		SpreadMaxPct:           0.05,
		ImpactFactorPct:        1,
		LiquidityNotional:      1_000_000,
		MaxImpactPct:           2,
		LatencyMin:             50 * time.Millisecond,
		LatencyMax:             200 * time.Millisecond,
		PartialFillProbability: 0.05,
		PartialFillMinRatio:    0.5,
		HistoricalBias:         0.5,
	}
}

func (c ExecutionConfig) Validate() error {
	switch {
	case c.SpreadMinPct < 0 || c.SpreadMaxPct < c.SpreadMinPct:
		return fmt.Errorf("spread range [%v, %v] is invalid", c.SpreadMinPct, c.SpreadMaxPct)
	case c.ImpactFactorPct < 0 || c.MaxImpactPct < 0:
		return fmt.Errorf("impact settings must not be negative")
	case c.ImpactFactorPct > 0 && c.LiquidityNotional <= 0:
		return fmt.Errorf("liquidity_notional must be positive when impact is enabled")
	case c.SpreadMaxPct+c.MaxImpactPct >= 100:
		return fmt.Errorf("spread and impact together must stay below 100%%")
	case c.LatencyMin < 0 || c.LatencyMax < c.LatencyMin:
		return fmt.Errorf("latency range [%v, %v] is invalid", c.LatencyMin, c.LatencyMax)
	case c.PartialFillProbability < 0 || c.PartialFillProbability >= 1:
		return fmt.Errorf("partial_fill_probability must be within [0, 1)")
	case c.PartialFillMinRatio <= 0 || c.PartialFillMinRatio >= 1:
		return fmt.Errorf("partial_fill_min_ratio must be within (0, 1)")
	case c.HistoricalBias < 0 || c.HistoricalBias > 1:
		return fmt.Errorf("historical_bias must be within [0, 1]")
	case c.FeePct < 0 || c.FeePct >= 100:
		return fmt.Errorf("fee_pct must be within [0, 100)")
	}
	return nil
}
