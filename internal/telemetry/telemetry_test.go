package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if labels[l.GetName()] != l.GetValue() {
					continue metrics
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveSignal("alpha", OutcomeExecuted)
	m.ObserveSignal("alpha", OutcomeExecuted)
	m.ObserveSignal("alpha", OutcomeRejected)
	m.ObserveFill("alpha", model.Fill{
		Mode:           model.ModeRealistic,
		ReferencePrice: 100,
		Price:          100.05,
		Partial:        true,
		Latency:        120 * time.Millisecond,
	})
	m.ObserveRiskEvents(model.RiskAuditEvent{Rule: model.RuleMaxDrawdown, Severity: model.SeverityCritical})
	m.ObserveBreakerTrip("alpha")
	m.SetPortfolio(model.Portfolio{Name: "alpha", Equity: 9000, PeakEquity: 10000})

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"paper_trader_signals_total", map[string]string{"portfolio": "alpha", "outcome": "executed"}, 2},
		{"paper_trader_signals_total", map[string]string{"portfolio": "alpha", "outcome": "rejected"}, 1},
		{"paper_trader_fills_total", map[string]string{"portfolio": "alpha", "mode": "realistic"}, 1},
		{"paper_trader_partial_fills_total", map[string]string{"portfolio": "alpha"}, 1},
		{"paper_trader_risk_events_total", map[string]string{"rule": "max_drawdown", "severity": "critical"}, 1},
		{"paper_trader_breaker_trips_total", map[string]string{"portfolio": "alpha"}, 1},
		{"paper_trader_equity", map[string]string{"portfolio": "alpha"}, 9000},
		{"paper_trader_drawdown_pct", map[string]string{"portfolio": "alpha"}, 10},
	}
	for _, tt := range tests {
		if got := counterValue(t, m, tt.name, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveSignal("a", OutcomeFailed)
	m.ObserveFill("a", model.Fill{})
	m.ObserveRiskEvents(model.RiskAuditEvent{})
	m.ObserveBreakerTrip("a")
	m.ObserveProtectiveClose("a", model.SourceStopLoss)
	m.SetPortfolio(model.Portfolio{})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveSignal("alpha", OutcomeExecuted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `paper_trader_signals_total{outcome="executed",portfolio="alpha"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}
