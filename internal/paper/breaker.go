package paper

import (
	"context"
	"errors"

	"github.com/STTM-NSU/paper-trader/internal/ledger"
	"github.com/STTM-NSU/paper-trader/internal/model"
)

// ResetBreaker re-arms a tripped breaker. The reset runs under the portfolio lock, so a trip and a reset
// never interleave; a reset is denied while a trip condition still holds.
func (s *Service) ResetBreaker(ctx context.Context, name string) (model.CircuitBreaker, error) {
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return model.CircuitBreaker{}, err
	}
	defer unlock()

	st, err := s.loadActive(ctx, name)
	if err != nil {
		return model.CircuitBreaker{}, err
	}
	at := s.now().UTC()
	ledger.RollDay(&st.Portfolio, at)

	b, ev, resetErr := s.risk.ResetBreaker(st.Portfolio, at)
	st.Portfolio.CircuitBreaker = b
	st.Portfolio.UpdatedAt = at

	if err := s.commit(ctx, changes{portfolio: st.Portfolio, events: []model.RiskAuditEvent{ev}}); err != nil {
		return model.CircuitBreaker{}, errors.Join(resetErr, err)
	}
	s.telemetry.ObserveRiskEvents(ev)
	return b, resetErr
}
