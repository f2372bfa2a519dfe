package risk

import (
	"fmt"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/google/uuid"
)

type Manager struct {
	logger logger.Logger
	cfg    config.RiskConfig
	layers []Layer
}

func NewManager(logger logger.Logger, cfg config.RiskConfig) *Manager {
	return &Manager{
		logger: logger,
		cfg:    cfg,
		layers: DefaultLayers(),
	}
}

func newEvent(portfolioID string, rule model.RiskRule, sev model.Severity, value, limit float64, action model.AuditAction, msg string, at time.Time) model.RiskAuditEvent {
	return model.RiskAuditEvent{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Rule:        rule,
		Severity:    sev,
		Value:       value,
		Limit:       limit,
		Action:      action,
		Message:     msg,
		CreatedAt:   at,
	}
}

type Decision struct {
	Approved bool
	// Quantity is what may be executed. It is below the proposed quantity when a flip's opening
	// remainder was blocked and only the close goes through; Blocked holds that remainder.
	Quantity   float64
	Blocked    float64
	Projection Projection
	Violation  *model.RiskLimitViolation
	Events     []model.RiskAuditEvent
}

// Err converts a rejection into the error reported to the caller.
func (d Decision) Err() error {
	switch {
	case d.Approved || d.Violation == nil:
		return nil
	case d.Violation.Rule == model.RuleCircuitBreaker:
		return &model.BreakerTrippedError{Reason: d.Violation.Reason}
	default:
		return d.Violation
	}
}

// PreTradeCheck runs the layers in order and stops at the first failure. Trades that only reduce
// exposure are always approved. A flip whose opening remainder fails is clipped to the close.
func (m *Manager) PreTradeCheck(s Snapshot, p Proposal, at time.Time) Decision {
	pr := Project(s, p)
	d := Decision{Approved: true, Quantity: p.Quantity, Projection: pr}
	id := s.Portfolio.ID

	if pr.Opening {
		for _, layer := range m.layers {
			if v := layer(s, p, pr); v != nil {
				d.Approved = false
				d.Violation = v
				break
			}
		}
	}

	if !d.Approved && pr.Flip {
		pos, _ := s.Position(p.Symbol)
		held := pos.Quantity
		m.logger.Warnf("portfolio %s: %s %s clipped to close %v, remainder %v blocked: %s",
			s.Portfolio.Name, p.Direction, p.Symbol, held, pr.OpeningQuantity, d.Violation.Reason)
		d.Events = append(d.Events, newEvent(id, d.Violation.Rule, model.SeverityWarning,
			d.Violation.Value, d.Violation.Limit, model.ActionBlocked,
			fmt.Sprintf("flip remainder %v blocked: %s", pr.OpeningQuantity, d.Violation.Reason), at))
		d.Approved = true
		d.Quantity = held
		d.Blocked = pr.OpeningQuantity
		return d
	}

	if !d.Approved {
		m.logger.Warnf("portfolio %s: %s %s %v blocked: %s", s.Portfolio.Name, p.Direction, p.Symbol, p.Quantity, d.Violation.Reason)
		d.Events = append(d.Events, newEvent(id, d.Violation.Rule, model.SeverityWarning,
			d.Violation.Value, d.Violation.Limit, model.ActionBlocked, d.Violation.Reason, at))
		return d
	}

	if m.cfg.AuditVerbosity == config.AuditAll {
		d.Events = append(d.Events, newEvent(id, model.RuleMaxPositionSize, model.SeverityInfo,
			pctOf(pr.ResultingNotional, s.Portfolio.Equity), s.Portfolio.MaxPositionSizePct, model.ActionApproved,
			fmt.Sprintf("%s %s %v approved", p.Direction, p.Symbol, p.Quantity), at))
	}
	return d
}

// overLimit classifies an excess: within the reconcile tolerance it is slippage (warning), beyond it critical.
func (m *Manager) overLimit(value, limit float64) (model.Severity, bool) {
	if value <= limit {
		return "", false
	}
	if value <= limit*(1+m.cfg.ReconcileTolerancePct/100) {
		return model.SeverityWarning, true
	}
	return model.SeverityCritical, true
}

// PostTradeReconcile re-checks the hard limits against the actual post-fill snapshot. It only reports.
func (m *Manager) PostTradeReconcile(s Snapshot, trade model.Trade, at time.Time) []model.RiskAuditEvent {
	port := s.Portfolio
	var events []model.RiskAuditEvent
	add := func(rule model.RiskRule, sev model.Severity, value, limit float64, msg string) {
		ev := newEvent(port.ID, rule, sev, value, limit, model.ActionLogged, msg, at)
		ev.TradeID = trade.ID
		events = append(events, ev)
		if sev == model.SeverityCritical {
			m.logger.Errorf("portfolio %s: post-trade %s", port.Name, msg)
		} else {
			m.logger.Warnf("portfolio %s: post-trade %s", port.Name, msg)
		}
	}

	if pos, ok := s.Position(trade.Symbol); ok {
		v := pctOf(pos.Notional(), port.Equity)
		if sev, over := m.overLimit(v, port.MaxPositionSizePct); over {
			add(model.RuleMaxPositionSize, sev, v, port.MaxPositionSizePct,
				fmt.Sprintf("%s position is %.2f%% of equity, limit %.2f%%", trade.Symbol, v, port.MaxPositionSizePct))
		}
	}

	v := pctOf(s.TotalExposure(), port.Equity)
	if sev, over := m.overLimit(v, port.MaxTotalExposurePct); over {
		add(model.RuleMaxTotalExposure, sev, v, port.MaxTotalExposurePct,
			fmt.Sprintf("total exposure is %.2f%% of equity, limit %.2f%%", v, port.MaxTotalExposurePct))
	}

	if v := port.DailyLossPct(); v >= port.MaxDailyLossPct {
		add(model.RuleMaxDailyLoss, model.SeverityCritical, v, port.MaxDailyLossPct,
			fmt.Sprintf("daily loss is %.2f%%, limit %.2f%%", v, port.MaxDailyLossPct))
	}
	if v := port.DrawdownPct(); v >= port.MaxDrawdownPct {
		add(model.RuleMaxDrawdown, model.SeverityCritical, v, port.MaxDrawdownPct,
			fmt.Sprintf("drawdown is %.2f%%, limit %.2f%%", v, port.MaxDrawdownPct))
	}

	if len(events) == 0 && m.cfg.AuditVerbosity == config.AuditAll {
		ev := newEvent(port.ID, model.RuleMaxTotalExposure, model.SeverityInfo, v, port.MaxTotalExposurePct,
			model.ActionLogged, "post-trade state within limits", at)
		ev.TradeID = trade.ID
		events = append(events, ev)
	}
	return events
}

// CheckLimits emits warnings once exposure, position size, daily loss or drawdown crosses the soft
// threshold. It never blocks.
func (m *Manager) CheckLimits(s Snapshot, at time.Time) []model.RiskAuditEvent {
	port := s.Portfolio
	ratio := m.cfg.SoftLimitRatio
	var events []model.RiskAuditEvent
	warn := func(rule model.RiskRule, value, limit float64, what string) {
		if value < limit*ratio {
			return
		}
		msg := fmt.Sprintf("%s %.2f%% crossed soft limit %.2f%% (hard %.2f%%)", what, value, limit*ratio, limit)
		m.logger.Warnf("portfolio %s: %s", port.Name, msg)
		events = append(events, newEvent(port.ID, rule, model.SeverityWarning, value, limit, model.ActionLogged, msg, at))
	}

	for _, pos := range s.Positions {
		if pos.Status == model.PositionOpen {
			warn(model.RuleMaxPositionSize, pctOf(pos.Notional(), port.Equity), port.MaxPositionSizePct, pos.Symbol+" position")
		}
	}
	warn(model.RuleMaxTotalExposure, pctOf(s.TotalExposure(), port.Equity), port.MaxTotalExposurePct, "total exposure")
	warn(model.RuleMaxDailyLoss, port.DailyLossPct(), port.MaxDailyLossPct, "daily loss")
	warn(model.RuleMaxDrawdown, port.DrawdownPct(), port.MaxDrawdownPct, "drawdown")

	return events
}

// CriticalWindowStart is where counting critical events for the breaker begins: the rolling window,
// but never before the last reset.
func (m *Manager) CriticalWindowStart(b model.CircuitBreaker, now time.Time) time.Time {
	start := now.Add(-m.cfg.CriticalEventsWindow)
	if b.ResetAt != nil && b.ResetAt.After(start) {
		return *b.ResetAt
	}
	return start
}

func CountCritical(events []model.RiskAuditEvent, since time.Time) int {
	n := 0
	for _, ev := range events {
		if ev.Severity == model.SeverityCritical && ev.Action != model.ActionBreakerTripped && !ev.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

// EvaluateBreaker trips an armed breaker when a condition holds. The event is non-nil only on a transition.
func (m *Manager) EvaluateBreaker(p model.Portfolio, criticalEvents int, at time.Time) (model.CircuitBreaker, *model.RiskAuditEvent) {
	c := ConditionsOf(p, criticalEvents)
	b, rule, err := Transition(p.CircuitBreaker, Evaluate, c, p.RiskLimits, m.cfg.CriticalEventsToTrip, at)
	if err != nil || rule == "" {
		return b, nil
	}

	value, limit := c.DrawdownPct, p.MaxDrawdownPct
	switch rule {
	case model.RuleMaxDailyLoss:
		value, limit = c.DailyLossPct, p.MaxDailyLossPct
	case model.RuleCriticalEvents:
		value, limit = float64(c.CriticalEvents), float64(m.cfg.CriticalEventsToTrip)
	}
	m.logger.Errorf("portfolio %s: circuit breaker tripped: %s", p.Name, b.Reason)
	ev := newEvent(p.ID, rule, model.SeverityCritical, value, limit, model.ActionBreakerTripped, b.Reason, at)
	return b, &ev
}

// ResetBreaker re-arms a tripped breaker. Denied resets return both the audit event and the error.
func (m *Manager) ResetBreaker(p model.Portfolio, at time.Time) (model.CircuitBreaker, model.RiskAuditEvent, error) {
	c := ConditionsOf(p, 0)
	b, rule, err := Transition(p.CircuitBreaker, Reset, c, p.RiskLimits, m.cfg.CriticalEventsToTrip, at)
	if err != nil {
		m.logger.Warnf("portfolio %s: %v", p.Name, err)
		value, limit := c.DrawdownPct, p.MaxDrawdownPct
		if rule == model.RuleMaxDailyLoss {
			value, limit = c.DailyLossPct, p.MaxDailyLossPct
		}
		return p.CircuitBreaker, newEvent(p.ID, rule, model.SeverityWarning, value, limit, model.ActionResetDenied, err.Error(), at), err
	}

	msg := "circuit breaker re-armed"
	if !p.CircuitBreaker.Tripped() {
		msg = "circuit breaker already armed"
	}
	m.logger.Infof("portfolio %s: %s", p.Name, msg)
	return b, newEvent(p.ID, model.RuleCircuitBreaker, model.SeverityInfo, c.DrawdownPct, p.MaxDrawdownPct, model.ActionBreakerReset, msg, at), nil
}
