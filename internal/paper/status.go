package paper

import (
	"context"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/performance"
	"github.com/STTM-NSU/paper-trader/internal/risk"
	"github.com/STTM-NSU/paper-trader/internal/storage"
)

type Status struct {
	Portfolio     model.Portfolio        `json:"portfolio"`
	Positions     []model.Position       `json:"positions"`
	UnrealizedPnL float64                `json:"unrealized_pnl"`
	ExposurePct   float64                `json:"exposure_pct"`
	DrawdownPct   float64                `json:"drawdown_pct"`
	DailyPnL      float64                `json:"daily_pnl"`
	DailyLossPct  float64                `json:"daily_loss_pct"`
	Breaker       model.CircuitBreaker   `json:"circuit_breaker"`
	Metrics       performance.Snapshot   `json:"metrics"`
	RecentTrades  []model.Trade          `json:"recent_trades"`
	RecentEvents  []model.RiskAuditEvent `json:"recent_risk_events"`
}

// GetStatus reads one consistent snapshot of the portfolio and computes its metrics from the full history.
func (s *Service) GetStatus(ctx context.Context, name string) (Status, error) {
	var (
		st     Status
		trades []model.Trade
		curve  []model.EquityPoint
	)
	err := s.store.ReadTx(ctx, func(r storage.Reader) error {
		state, err := load(ctx, r, name)
		if err != nil {
			return err
		}
		st.Portfolio = state.Portfolio
		st.Positions = state.Positions

		id := state.Portfolio.ID
		if trades, err = r.GetTradeHistory(ctx, id, 0); err != nil {
			return err
		}
		if curve, err = r.GetEquityCurve(ctx, id); err != nil {
			return err
		}
		st.RecentEvents, err = r.GetRiskAuditEvents(ctx, id, time.Time{}, s.cfg.AuditHistoryLimit)
		return err
	})
	if err != nil {
		return Status{}, err
	}

	p := st.Portfolio
	for _, pos := range st.Positions {
		st.UnrealizedPnL += pos.UnrealizedPnL()
	}
	snap := risk.Snapshot{Portfolio: p, Positions: st.Positions}
	if p.Equity > 0 {
		st.ExposurePct = snap.TotalExposure() * 100 / p.Equity
	}
	st.DrawdownPct = p.DrawdownPct()
	st.DailyPnL = p.DailyPnL()
	st.DailyLossPct = p.DailyLossPct()
	st.Breaker = p.CircuitBreaker
	st.Metrics = s.calculator.Calculate(trades, curve)

	st.RecentTrades = trades
	if limit := s.cfg.TradeHistoryLimit; limit > 0 && len(trades) > limit {
		st.RecentTrades = trades[len(trades)-limit:]
	}
	return st, nil
}
