package risk

import (
	"fmt"

	"github.com/STTM-NSU/paper-trader/internal/model"
)

// Proposal is a trade about to be executed. Direction is the side of the fill.
type Proposal struct {
	Symbol    string
	Direction model.Direction
	Quantity  float64
	Price     float64
	StopLoss  float64
}

// Snapshot is an immutable view of a portfolio and its open positions.
type Snapshot struct {
	Portfolio model.Portfolio
	Positions []model.Position
}

func (s Snapshot) Position(symbol string) (model.Position, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol && p.Status == model.PositionOpen {
			return p, true
		}
	}
	return model.Position{}, false
}

func (s Snapshot) TotalExposure() float64 {
	total := 0.0
	for _, p := range s.Positions {
		if p.Status == model.PositionOpen {
			total += p.Notional()
		}
	}
	return total
}

// Projection is the state the portfolio would be in once the proposal is filled at its price.
type Projection struct {
	Opening           bool    // the proposal adds risk
	Flip              bool    // closes an opposite position and opens the remainder
	OpeningQuantity   float64 // quantity that adds exposure
	ResultingNotional float64 // notional of the symbol's position afterwards
	TotalExposure     float64
	DailyLossPct      float64 // projected with the opening quantity stopped out
}

func Project(s Snapshot, p Proposal) Projection {
	existing, ok := s.Position(p.Symbol)
	pr := Projection{}

	otherExposure := s.TotalExposure()
	switch {
	case !ok:
		pr.Opening = true
		pr.OpeningQuantity = p.Quantity
		pr.ResultingNotional = p.Quantity * p.Price
	case existing.Direction == p.Direction:
		otherExposure -= existing.Notional()
		pr.Opening = true
		pr.OpeningQuantity = p.Quantity
		pr.ResultingNotional = (existing.Quantity + p.Quantity) * p.Price
	default:
		otherExposure -= existing.Notional()
		if p.Quantity > existing.Quantity {
			pr.Opening = true
			pr.Flip = true
			pr.OpeningQuantity = p.Quantity - existing.Quantity
			pr.ResultingNotional = pr.OpeningQuantity * p.Price
		} else {
			pr.ResultingNotional = (existing.Quantity - p.Quantity) * p.Price
		}
	}
	pr.TotalExposure = otherExposure + pr.ResultingNotional

	port := s.Portfolio
	loss := port.DayStartEquity - port.Equity
	if pr.Opening && p.StopLoss > 0 {
		if d := (p.Price - p.StopLoss) * p.Direction.Sign(); d > 0 {
			loss += d * pr.OpeningQuantity
		}
	}
	if port.DayStartEquity > 0 && loss > 0 {
		pr.DailyLossPct = loss / port.DayStartEquity * 100
	}
	return pr
}

func pctOf(v, equity float64) float64 {
	if equity <= 0 {
		return 100 // no equity left: everything is over the limit
	}
	return v * 100 / equity
}

// Layer is one independent pre-trade validator. A nil result approves.
type Layer func(s Snapshot, p Proposal, pr Projection) *model.RiskLimitViolation

func BreakerLayer(s Snapshot, _ Proposal, pr Projection) *model.RiskLimitViolation {
	b := s.Portfolio.CircuitBreaker
	if !pr.Opening || !b.Tripped() {
		return nil
	}
	return &model.RiskLimitViolation{
		Rule:   model.RuleCircuitBreaker,
		Reason: fmt.Sprintf("circuit breaker is tripped: %s", b.Reason),
	}
}

func PositionSizeLayer(s Snapshot, p Proposal, pr Projection) *model.RiskLimitViolation {
	limit := s.Portfolio.MaxPositionSizePct
	if v := pctOf(pr.ResultingNotional, s.Portfolio.Equity); v > limit {
		return &model.RiskLimitViolation{
			Rule:   model.RuleMaxPositionSize,
			Reason: fmt.Sprintf("%s position would be %.2f%% of equity, limit %.2f%%", p.Symbol, v, limit),
			Value:  v,
			Limit:  limit,
		}
	}
	return nil
}

func TotalExposureLayer(s Snapshot, _ Proposal, pr Projection) *model.RiskLimitViolation {
	limit := s.Portfolio.MaxTotalExposurePct
	if v := pctOf(pr.TotalExposure, s.Portfolio.Equity); v > limit {
		return &model.RiskLimitViolation{
			Rule:   model.RuleMaxTotalExposure,
			Reason: fmt.Sprintf("total exposure would be %.2f%% of equity, limit %.2f%%", v, limit),
			Value:  v,
			Limit:  limit,
		}
	}
	return nil
}

func DailyLossLayer(s Snapshot, _ Proposal, pr Projection) *model.RiskLimitViolation {
	limit := s.Portfolio.MaxDailyLossPct
	if pr.DailyLossPct > limit {
		return &model.RiskLimitViolation{
			Rule:   model.RuleMaxDailyLoss,
			Reason: fmt.Sprintf("loss at stop would reach %.2f%% of day start equity, limit %.2f%%", pr.DailyLossPct, limit),
			Value:  pr.DailyLossPct,
			Limit:  limit,
		}
	}
	return nil
}

func DrawdownLayer(s Snapshot, _ Proposal, _ Projection) *model.RiskLimitViolation {
	limit := s.Portfolio.MaxDrawdownPct
	if v := s.Portfolio.DrawdownPct(); v >= limit {
		return &model.RiskLimitViolation{
			Rule:   model.RuleMaxDrawdown,
			Reason: fmt.Sprintf("drawdown %.2f%% is at or above limit %.2f%%", v, limit),
			Value:  v,
			Limit:  limit,
		}
	}
	return nil
}

// DefaultLayers are evaluated in this order and stop at the first violation.
func DefaultLayers() []Layer {
	return []Layer{BreakerLayer, PositionSizeLayer, TotalExposureLayer, DailyLossLayer, DrawdownLayer}
}
