package model

import "time"

type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

type Position struct {
	ID            string         `db:"id" json:"id"`
	PortfolioID   string         `db:"portfolio_id" json:"portfolio_id"`
	Symbol        string         `db:"symbol" json:"symbol"`
	Direction     Direction      `db:"direction" json:"direction"`
	Quantity      float64        `db:"quantity" json:"quantity"`
	AvgEntryPrice float64        `db:"avg_entry_price" json:"avg_entry_price"`
	StopLoss      float64        `db:"stop_loss" json:"stop_loss,omitempty"`
	TakeProfit    float64        `db:"take_profit" json:"take_profit,omitempty"`
	MarkPrice     float64        `db:"mark_price" json:"mark_price"`
	RealizedPnL   float64        `db:"realized_pnl" json:"realized_pnl"`
	Status        PositionStatus `db:"status" json:"status"`
	OpenedAt      time.Time      `db:"opened_at" json:"opened_at"`
	ClosedAt      *time.Time     `db:"closed_at" json:"closed_at,omitempty"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Notional is the absolute exposure at the last mark.
func (p Position) Notional() float64 {
	return p.Quantity * p.MarkPrice
}

// MarketValue is the signed contribution of the position to equity.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.MarkPrice * p.Direction.Sign()
}

func (p Position) UnrealizedPnL() float64 {
	return (p.MarkPrice - p.AvgEntryPrice) * p.Quantity * p.Direction.Sign()
}

// StopCrossed reports whether price has touched the stop-loss boundary.
func (p Position) StopCrossed(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Direction == Long {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

func (p Position) TargetCrossed(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Direction == Long {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}
