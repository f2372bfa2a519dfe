package model

import (
	"math"
	"time"
)

// Signal is a finished trading decision produced upstream. Quantity, SizeFraction and ReduceOnly are optional.
type Signal struct {
	Symbol       string    `json:"symbol" yaml:"symbol"`
	Direction    Direction `json:"direction" yaml:"direction"`
	Confidence   float64   `json:"confidence" yaml:"confidence"`
	EntryPrice   float64   `json:"entry_price" yaml:"entry_price"`
	StopLoss     float64   `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit   float64   `json:"take_profit" yaml:"take_profit"`
	Quantity     float64   `json:"quantity,omitempty" yaml:"quantity"`
	SizeFraction float64   `json:"size_fraction,omitempty" yaml:"size_fraction"`
	ReduceOnly   bool      `json:"reduce_only,omitempty" yaml:"reduce_only"`
	Timestamp    time.Time `json:"timestamp,omitempty" yaml:"timestamp"`
}

func validNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (s Signal) Validate() error {
	switch {
	case s.Symbol == "":
		return NewValidationError("symbol", "is required")
	case !s.Direction.Valid():
		return NewValidationError("direction", "must be long or short")
	case !validNumber(s.Confidence) || s.Confidence < 0 || s.Confidence > 100:
		return NewValidationError("confidence", "must be within 0-100")
	case !validNumber(s.EntryPrice) || s.EntryPrice <= 0:
		return NewValidationError("entry_price", "must be positive")
	case !validNumber(s.Quantity) || s.Quantity < 0:
		return NewValidationError("quantity", "must not be negative")
	case !validNumber(s.SizeFraction) || s.SizeFraction < 0 || s.SizeFraction > 1:
		return NewValidationError("size_fraction", "must be within 0-1")
	case !validNumber(s.StopLoss) || s.StopLoss < 0:
		return NewValidationError("stop_loss", "must not be negative")
	case !validNumber(s.TakeProfit) || s.TakeProfit < 0:
		return NewValidationError("take_profit", "must not be negative")
	}

	if s.ReduceOnly {
		return nil
	}
	if s.StopLoss == 0 {
		return NewValidationError("stop_loss", "is required for position-opening signals")
	}
	if s.Direction == Long {
		if s.StopLoss >= s.EntryPrice {
			return NewValidationError("stop_loss", "must be below entry for long signals")
		}
		if s.TakeProfit != 0 && s.TakeProfit <= s.EntryPrice {
			return NewValidationError("take_profit", "must be above entry for long signals")
		}
	} else {
		if s.StopLoss <= s.EntryPrice {
			return NewValidationError("stop_loss", "must be above entry for short signals")
		}
		if s.TakeProfit != 0 && s.TakeProfit >= s.EntryPrice {
			return NewValidationError("take_profit", "must be below entry for short signals")
		}
	}
	return nil
}

// Fill is the simulated execution outcome of an order.
type Fill struct {
	Symbol            string        `json:"symbol"`
	Direction         Direction     `json:"direction"`
	Mode              ExecutionMode `json:"mode"`
	ReferencePrice    float64       `json:"reference_price"`
	Price             float64       `json:"price"`
	RequestedQuantity float64       `json:"requested_quantity"`
	Quantity          float64       `json:"quantity"`
	Latency           time.Duration `json:"latency"`
	Partial           bool          `json:"partial"`
	SpreadPct         float64       `json:"spread_pct"`
	ImpactPct         float64       `json:"impact_pct"`
	FilledAt          time.Time     `json:"filled_at"`
}

// Slippage is the signed difference between fill and reference price.
func (f Fill) Slippage() float64 {
	return f.Price - f.ReferencePrice
}

func (f Fill) UnfilledQuantity() float64 {
	if f.RequestedQuantity <= f.Quantity {
		return 0
	}
	return f.RequestedQuantity - f.Quantity
}

// Bar is one OHLCV candle covering [OpenTime, CloseTime).
type Bar struct {
	OpenTime  time.Time `db:"open_time" json:"open_time"`
	CloseTime time.Time `db:"close_time" json:"close_time"`
	Open      float64   `db:"open" json:"open"`
	High      float64   `db:"high" json:"high"`
	Low       float64   `db:"low" json:"low"`
	Close     float64   `db:"close" json:"close"`
	Volume    float64   `db:"volume" json:"volume"`
}

func (b Bar) Covers(ts time.Time) bool {
	return !ts.Before(b.OpenTime) && ts.Before(b.CloseTime)
}
