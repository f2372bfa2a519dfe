package model

import "time"

type RiskLimits struct {
	MaxPositionSizePct  float64 `db:"max_position_size_pct" json:"max_position_size_pct" yaml:"max_position_size_pct"`
	MaxTotalExposurePct float64 `db:"max_total_exposure_pct" json:"max_total_exposure_pct" yaml:"max_total_exposure_pct"`
	MaxDailyLossPct     float64 `db:"max_daily_loss_pct" json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	MaxDrawdownPct      float64 `db:"max_drawdown_pct" json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
}

type BreakerState string

const (
	BreakerArmed   BreakerState = "ARMED"
	BreakerTripped BreakerState = "TRIPPED"
)

type CircuitBreaker struct {
	State     BreakerState `db:"breaker_state" json:"state"`
	Reason    string       `db:"breaker_reason" json:"reason,omitempty"`
	TrippedAt *time.Time   `db:"breaker_tripped_at" json:"tripped_at,omitempty"`
	ResetAt   *time.Time   `db:"breaker_reset_at" json:"reset_at,omitempty"`
}

func (b CircuitBreaker) Tripped() bool {
	return b.State == BreakerTripped
}

type Portfolio struct {
	ID              string        `db:"id" json:"id"`
	Name            string        `db:"name" json:"name"`
	StartingCapital float64       `db:"starting_capital" json:"starting_capital"`
	Cash            float64       `db:"cash" json:"cash"`
	Equity          float64       `db:"equity" json:"equity"`
	PeakEquity      float64       `db:"peak_equity" json:"peak_equity"`
	DayStartEquity  float64       `db:"day_start_equity" json:"day_start_equity"`
	DayStartedAt    time.Time     `db:"day_started_at" json:"day_started_at"`
	ExecutionMode   ExecutionMode `db:"execution_mode" json:"execution_mode"`
	RiskLimits      `json:"risk_limits"`
	CircuitBreaker  `json:"circuit_breaker"`
	TradeSeq        int64     `db:"trade_seq" json:"-"`
	EquitySeq       int64     `db:"equity_seq" json:"-"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// DrawdownPct is the decline of equity from its peak, in percent.
func (p Portfolio) DrawdownPct() float64 {
	if p.PeakEquity <= 0 || p.Equity >= p.PeakEquity {
		return 0
	}
	return (p.PeakEquity - p.Equity) / p.PeakEquity * 100
}

// DailyPnL is realized plus unrealized P&L since the start of the current day.
func (p Portfolio) DailyPnL() float64 {
	return p.Equity - p.DayStartEquity
}

// DailyLossPct is the current day's loss relative to the day start equity; zero on a winning day.
func (p Portfolio) DailyLossPct() float64 {
	if p.DayStartEquity <= 0 || p.Equity >= p.DayStartEquity {
		return 0
	}
	return (p.DayStartEquity - p.Equity) / p.DayStartEquity * 100
}

type EquityPoint struct {
	PortfolioID string    `db:"portfolio_id" json:"-"`
	Seq         int64     `db:"seq" json:"seq"`
	Ts          time.Time `db:"ts" json:"ts"`
	Equity      float64   `db:"equity" json:"equity"`
	Cash        float64   `db:"cash" json:"cash"`
	PeakEquity  float64   `db:"peak_equity" json:"peak_equity"`
}
