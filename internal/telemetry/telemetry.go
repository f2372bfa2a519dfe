package telemetry

import (
	"net/http"

	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const _namespace = "paper_trader"

const (
	OutcomeExecuted = "executed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics is safe to use through a nil pointer; every observation is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	signals      *prometheus.CounterVec
	fills        *prometheus.CounterVec
	partialFills *prometheus.CounterVec
	slippagePct  *prometheus.HistogramVec
	latencyMs    prometheus.Histogram
	violations   *prometheus.CounterVec
	breakerTrips *prometheus.CounterVec
	stopCloses   *prometheus.CounterVec
	equity       *prometheus.GaugeVec
	drawdownPct  *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "signals_total",
			Help:      "Signals received, by outcome",
		}, []string{"portfolio", "outcome"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "fills_total",
			Help:      "Simulated fills",
		}, []string{"portfolio", "mode"}),
		partialFills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "partial_fills_total",
			Help:      "Simulated fills that left an unfilled remainder",
		}, []string{"portfolio"}),
		slippagePct: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: _namespace,
			Name:      "slippage_pct",
			Help:      "Absolute slippage of fills in percent of the reference price",
			Buckets:   []float64{0, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"mode"}),
		latencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: _namespace,
			Name:      "fill_latency_ms",
			Help:      "Simulated fill latency in milliseconds",
			Buckets:   []float64{0, 25, 50, 100, 150, 200, 300, 500},
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "risk_events_total",
			Help:      "Risk audit events, by rule and severity",
		}, []string{"rule", "severity"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "breaker_trips_total",
			Help:      "Circuit breaker trips",
		}, []string{"portfolio"}),
		stopCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _namespace,
			Name:      "protective_closes_total",
			Help:      "Positions closed by stop-loss or take-profit",
		}, []string{"portfolio", "source"}),
		equity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: _namespace,
			Name:      "equity",
			Help:      "Portfolio equity at the last update",
		}, []string{"portfolio"}),
		drawdownPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: _namespace,
			Name:      "drawdown_pct",
			Help:      "Portfolio drawdown from peak equity",
		}, []string{"portfolio"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.signals,
		m.fills,
		m.partialFills,
		m.slippagePct,
		m.latencyMs,
		m.violations,
		m.breakerTrips,
		m.stopCloses,
		m.equity,
		m.drawdownPct,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveSignal(portfolio, outcome string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(portfolio, outcome).Inc()
}

func (m *Metrics) ObserveFill(portfolio string, f model.Fill) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(portfolio, string(f.Mode)).Inc()
	if f.Partial {
		m.partialFills.WithLabelValues(portfolio).Inc()
	}
	if f.ReferencePrice > 0 {
		pct := f.Slippage() / f.ReferencePrice * 100
		if pct < 0 {
			pct = -pct
		}
		m.slippagePct.WithLabelValues(string(f.Mode)).Observe(pct)
	}
	m.latencyMs.Observe(float64(f.Latency.Milliseconds()))
}

func (m *Metrics) ObserveRiskEvents(events ...model.RiskAuditEvent) {
	if m == nil {
		return
	}
	for _, e := range events {
		m.violations.WithLabelValues(string(e.Rule), string(e.Severity)).Inc()
	}
}

func (m *Metrics) ObserveBreakerTrip(portfolio string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(portfolio).Inc()
}

func (m *Metrics) ObserveProtectiveClose(portfolio string, source model.TradeSource) {
	if m == nil {
		return
	}
	m.stopCloses.WithLabelValues(portfolio, string(source)).Inc()
}

func (m *Metrics) SetPortfolio(p model.Portfolio) {
	if m == nil {
		return
	}
	m.equity.WithLabelValues(p.Name).Set(p.Equity)
	m.drawdownPct.WithLabelValues(p.Name).Set(p.DrawdownPct())
}
