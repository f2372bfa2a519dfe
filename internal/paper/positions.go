package paper

import (
	"context"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/ledger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/risk"
)

type UpdateResult struct {
	Portfolio   model.Portfolio        `json:"portfolio"`
	Trades      []model.Trade          `json:"trades"`
	Positions   []model.Position       `json:"positions"`
	RealizedPnL float64                `json:"realized_pnl"`
	EquityPoint *model.EquityPoint     `json:"equity_point,omitempty"`
	Events      []model.RiskAuditEvent `json:"risk_events,omitempty"`
}

// UpdatePositions marks the portfolio to prices at the given time (now when zero), closes positions
// whose stop or target was crossed, runs the soft-limit checks and evaluates the breaker. A call that
// changes nothing writes nothing.
func (s *Service) UpdatePositions(ctx context.Context, name string, prices map[string]float64, at time.Time) (UpdateResult, error) {
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	normalized := make(map[string]float64, len(prices))
	for sym, p := range prices {
		normalized[normalizeSymbol(sym)] = p
	}

	unlock, err := s.lock(ctx, name)
	if err != nil {
		return UpdateResult{}, err
	}
	defer unlock()

	st, err := s.loadActive(ctx, name)
	if err != nil {
		return UpdateResult{}, err
	}
	rolled := ledger.RollDay(&st.Portfolio, at)

	res, err := s.ledger.UpdatePositions(&st, normalized, at)
	if err != nil {
		return UpdateResult{}, err
	}
	out := UpdateResult{
		Trades:      res.Trades,
		Positions:   res.Positions,
		RealizedPnL: res.RealizedPnL,
		EquityPoint: res.EquityPoint,
	}
	if !rolled && res.EquityPoint == nil && len(res.Trades) == 0 && len(res.Positions) == 0 {
		out.Portfolio = st.Portfolio
		return out, nil
	}

	for _, t := range res.Trades {
		s.telemetry.ObserveProtectiveClose(name, t.Source)
	}

	events := s.risk.CheckLimits(risk.Snapshot{Portfolio: st.Portfolio, Positions: st.Positions}, at)
	events, err = s.evaluateBreaker(ctx, &st, events, at)
	if err != nil {
		return UpdateResult{}, err
	}

	err = s.commit(ctx, changes{
		portfolio: st.Portfolio,
		positions: res.Positions,
		trades:    res.Trades,
		point:     res.EquityPoint,
		events:    events,
	})
	if err != nil {
		s.logger.Errorf("%s: can't persist position update for portfolio %s", err, name)
		return UpdateResult{}, err
	}
	s.telemetry.ObserveRiskEvents(events...)
	s.telemetry.SetPortfolio(st.Portfolio)

	out.Portfolio = st.Portfolio
	out.Events = events
	return out, nil
}
