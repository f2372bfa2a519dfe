package paper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/execution"
	"github.com/STTM-NSU/paper-trader/internal/ledger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/risk"
	"github.com/STTM-NSU/paper-trader/internal/telemetry"
	"github.com/STTM-NSU/paper-trader/internal/tools"
)

// TradeResult is the outcome of an executed signal. A partial fill's remainder is dropped and
// reported as UnfilledQuantity; the caller may resubmit it.
type TradeResult struct {
	Portfolio        string                 `json:"portfolio"`
	Fill             model.Fill             `json:"fill"`
	Trades           []model.Trade          `json:"trades"`
	Positions        []model.Position       `json:"positions"`
	RealizedPnL      float64                `json:"realized_pnl"`
	UnfilledQuantity float64                `json:"unfilled_quantity"`
	Equity           float64                `json:"equity"`
	Cash             float64                `json:"cash"`
	Breaker          model.CircuitBreaker   `json:"circuit_breaker"`
	Events           []model.RiskAuditEvent `json:"risk_events,omitempty"`
}

// size resolves the order quantity of sig: an explicit quantity, a fraction of equity, or by default
// the maximum position size. Reduce-only signals are capped at the opposite open quantity.
func size(st ledger.State, sig model.Signal) (float64, error) {
	p := st.Portfolio
	pos, held := st.Position(sig.Symbol)
	opposite := held && pos.Direction != sig.Direction

	if sig.ReduceOnly {
		if !opposite {
			return 0, model.NewValidationError("reduce_only", "no opposite position on "+sig.Symbol)
		}
		if sig.Quantity == 0 || sig.Quantity > pos.Quantity {
			return pos.Quantity, nil
		}
		return sig.Quantity, nil
	}

	if sig.Quantity > 0 {
		return sig.Quantity, nil
	}
	fraction := p.MaxPositionSizePct / 100
	if sig.SizeFraction > 0 {
		fraction = sig.SizeFraction
	}
	q := tools.TruncateQuantity(tools.Mul(p.Equity, fraction).InexactFloat64() / sig.EntryPrice)
	if q <= 0 {
		return 0, model.NewValidationError("quantity", "sized to zero at current equity")
	}
	return q, nil
}

// ExecuteSignal runs a signal through the pre-trade checks, simulates its fill, books it and reconciles
// the result. Rejections are audited and returned as errors.
func (s *Service) ExecuteSignal(ctx context.Context, name string, sig model.Signal) (TradeResult, error) {
	sig.Symbol = normalizeSymbol(sig.Symbol)
	if d, ok := model.ParseDirection(string(sig.Direction)); ok {
		sig.Direction = d
	}
	if err := sig.Validate(); err != nil {
		s.telemetry.ObserveSignal(name, telemetry.OutcomeRejected)
		return TradeResult{}, err
	}
	ts := sig.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	ts = ts.UTC()

	unlock, err := s.lock(ctx, name)
	if err != nil {
		return TradeResult{}, err
	}
	defer unlock()

	res, err := s.executeSignal(ctx, name, sig, ts)
	switch {
	case err == nil:
		s.telemetry.ObserveSignal(name, telemetry.OutcomeExecuted)
	case errors.Is(err, model.ErrRiskLimitViolation), errors.Is(err, model.ErrBreakerTripped), errors.Is(err, model.ErrValidation):
		s.telemetry.ObserveSignal(name, telemetry.OutcomeRejected)
	default:
		s.telemetry.ObserveSignal(name, telemetry.OutcomeFailed)
	}
	return res, err
}

func (s *Service) executeSignal(ctx context.Context, name string, sig model.Signal, ts time.Time) (TradeResult, error) {
	st, err := s.loadActive(ctx, name)
	if err != nil {
		return TradeResult{}, err
	}
	ledger.RollDay(&st.Portfolio, ts)

	qty, err := size(st, sig)
	if err != nil {
		return TradeResult{}, err
	}

	proposal := risk.Proposal{
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Quantity:  qty,
		Price:     sig.EntryPrice,
		StopLoss:  sig.StopLoss,
	}
	decision := s.risk.PreTradeCheck(risk.Snapshot{Portfolio: st.Portfolio, Positions: st.Positions}, proposal, ts)
	if !decision.Approved {
		s.telemetry.ObserveRiskEvents(decision.Events...)
		rejection := decision.Err()
		if err := s.commit(ctx, changes{portfolio: st.Portfolio, events: decision.Events}); err != nil {
			return TradeResult{}, errors.Join(rejection, err)
		}
		return TradeResult{}, rejection
	}
	qty = decision.Quantity

	mc := execution.MarketContext{}
	if st.Portfolio.ExecutionMode == model.ModeHistorical {
		if s.bars == nil {
			return TradeResult{}, fmt.Errorf("%w: no bar source configured", model.ErrInsufficientMarketData)
		}
		bars, err := s.bars.BarsAround(ctx, sig.Symbol, ts)
		if err != nil {
			s.logger.Errorf("%s: can't get bars for %s at %s", err, sig.Symbol, ts)
			return TradeResult{}, fmt.Errorf("%w: %w", model.ErrInsufficientMarketData, err)
		}
		mc.Bars = bars
	}

	fill, err := s.simulator.Execute(execution.Order{
		Symbol:         sig.Symbol,
		Direction:      sig.Direction,
		Quantity:       qty,
		ReferencePrice: sig.EntryPrice,
		Timestamp:      ts,
	}, st.Portfolio.ExecutionMode, mc)
	if err != nil {
		s.logger.Warnf("portfolio %s: %s %s dropped: %v", name, sig.Direction, sig.Symbol, err)
		return TradeResult{}, err
	}
	s.telemetry.ObserveFill(name, fill)

	booked, err := s.ledger.ApplyFill(&st, fill, ledger.FillMeta{
		SignalPrice: sig.EntryPrice,
		StopLoss:    sig.StopLoss,
		TakeProfit:  sig.TakeProfit,
		Source:      model.SourceSignal,
	})
	if err != nil {
		return TradeResult{}, err
	}

	events := decision.Events
	if n := len(booked.Trades); n > 0 {
		after := risk.Snapshot{Portfolio: st.Portfolio, Positions: st.Positions}
		events = append(events, s.risk.PostTradeReconcile(after, booked.Trades[n-1], fill.FilledAt)...)
	}
	events, err = s.evaluateBreaker(ctx, &st, events, fill.FilledAt)
	if err != nil {
		return TradeResult{}, err
	}

	err = s.commit(ctx, changes{
		portfolio: st.Portfolio,
		positions: booked.Positions,
		trades:    booked.Trades,
		point:     booked.EquityPoint,
		events:    events,
	})
	if err != nil {
		s.logger.Errorf("%s: can't persist signal for portfolio %s", err, name)
		return TradeResult{}, err
	}
	s.telemetry.ObserveRiskEvents(events...)
	s.telemetry.SetPortfolio(st.Portfolio)

	if decision.Blocked > 0 {
		s.logger.Infof("portfolio %s: %s %s opening remainder %v blocked, position closed only", name, sig.Direction, sig.Symbol, decision.Blocked)
	}
	if fill.Partial {
		s.logger.Infof("portfolio %s: partial fill %v of %v %s, remainder dropped", name, fill.Quantity, fill.RequestedQuantity, sig.Symbol)
	}

	return TradeResult{
		Portfolio:        name,
		Fill:             fill,
		Trades:           booked.Trades,
		Positions:        booked.Positions,
		RealizedPnL:      booked.RealizedPnL,
		UnfilledQuantity: fill.UnfilledQuantity() + decision.Blocked,
		Equity:           st.Portfolio.Equity,
		Cash:             st.Portfolio.Cash,
		Breaker:          st.Portfolio.CircuitBreaker,
		Events:           events,
	}, nil
}
