package risk

import (
	"fmt"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
)

type Event int

const (
	Evaluate Event = iota + 1
	Reset
)

// Conditions is the portfolio state a breaker transition is decided on.
type Conditions struct {
	DrawdownPct    float64
	DailyLossPct   float64
	CriticalEvents int // inside the rolling window and after the last reset
}

func ConditionsOf(p model.Portfolio, criticalEvents int) Conditions {
	return Conditions{
		DrawdownPct:    p.DrawdownPct(),
		DailyLossPct:   p.DailyLossPct(),
		CriticalEvents: criticalEvents,
	}
}

func tripReason(c Conditions, l model.RiskLimits, tripAfter int) (model.RiskRule, string) {
	switch {
	case c.DrawdownPct >= l.MaxDrawdownPct:
		return model.RuleMaxDrawdown, fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", c.DrawdownPct, l.MaxDrawdownPct)
	case c.DailyLossPct >= l.MaxDailyLossPct:
		return model.RuleMaxDailyLoss, fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", c.DailyLossPct, l.MaxDailyLossPct)
	case tripAfter > 0 && c.CriticalEvents >= tripAfter:
		return model.RuleCriticalEvents, fmt.Sprintf("%d critical risk events within window", c.CriticalEvents)
	}
	return "", ""
}

// Transition is the breaker state machine. Evaluate may only arm->trip; Reset may only trip->arm and
// is denied while drawdown or daily loss is still at its limit.
func Transition(b model.CircuitBreaker, ev Event, c Conditions, l model.RiskLimits, tripAfter int, at time.Time) (model.CircuitBreaker, model.RiskRule, error) {
	switch ev {
	case Evaluate:
		if b.Tripped() {
			return b, "", nil
		}
		rule, reason := tripReason(c, l, tripAfter)
		if rule == "" {
			if b.State == "" {
				b.State = model.BreakerArmed
			}
			return b, "", nil
		}
		tripped := at
		return model.CircuitBreaker{
			State:     model.BreakerTripped,
			Reason:    reason,
			TrippedAt: &tripped,
			ResetAt:   b.ResetAt,
		}, rule, nil

	case Reset:
		if !b.Tripped() {
			return b, "", nil
		}
		switch {
		case c.DrawdownPct >= l.MaxDrawdownPct:
			return b, model.RuleMaxDrawdown, &model.BreakerResetDeniedError{
				Reason: fmt.Sprintf("drawdown %.2f%% still at or above limit %.2f%%", c.DrawdownPct, l.MaxDrawdownPct),
			}
		case c.DailyLossPct >= l.MaxDailyLossPct:
			return b, model.RuleMaxDailyLoss, &model.BreakerResetDeniedError{
				Reason: fmt.Sprintf("daily loss %.2f%% still at or above limit %.2f%%", c.DailyLossPct, l.MaxDailyLossPct),
			}
		}
		reset := at
		return model.CircuitBreaker{State: model.BreakerArmed, ResetAt: &reset}, model.RuleCircuitBreaker, nil
	}

	return b, "", fmt.Errorf("unknown breaker event %d", ev)
}
