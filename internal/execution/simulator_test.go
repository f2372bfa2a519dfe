package execution

import (
	"errors"
	"testing"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
)

type seqRand struct {
	vals []float64
	i    int
}

func (s *seqRand) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

var ts = time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

func newSim(cfg config.ExecutionConfig) *Simulator {
	return NewSimulator(logger.NewNop(), cfg, NewRand(42))
}

func TestInstantFill(t *testing.T) {
	sim := newSim(config.DefaultExecutionConfig())
	fill, err := sim.Execute(Order{Symbol: "BTC", Direction: model.Long, Quantity: 0.1, ReferencePrice: 50000, Timestamp: ts}, model.ModeInstant, MarketContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fill.Price != 50000 || fill.Quantity != 0.1 || fill.Slippage() != 0 {
		t.Errorf("fill = %+v", fill)
	}
	if fill.Latency != 0 || !fill.FilledAt.Equal(ts) {
		t.Errorf("latency = %v, filled at %v", fill.Latency, fill.FilledAt)
	}
}

func TestRealisticFillBounds(t *testing.T) {
	cfg := config.DefaultExecutionConfig()
	cfg.ImpactFactorPct = 0
	cfg.PartialFillProbability = 0
	sim := newSim(cfg)

	for i := 0; i < 200; i++ {
		fill, err := sim.Execute(Order{Symbol: "BTC", Direction: model.Long, Quantity: 0.1, ReferencePrice: 50000, Timestamp: ts}, model.ModeRealistic, MarketContext{})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if fill.Price < 50000*1.0002-1e-6 || fill.Price > 50000*1.0005+1e-6 {
			t.Fatalf("price %v outside spread band", fill.Price)
		}
		if fill.Latency < 50*time.Millisecond || fill.Latency > 200*time.Millisecond {
			t.Fatalf("latency %v outside range", fill.Latency)
		}
		if fill.Quantity != 0.1 || fill.Partial {
			t.Fatalf("unexpected partial fill %+v", fill)
		}
	}
}

func TestRealisticSellIsAdverse(t *testing.T) {
	cfg := config.DefaultExecutionConfig()
	cfg.ImpactFactorPct = 0
	sim := newSim(cfg)

	fill, err := sim.Execute(Order{Symbol: "BTC", Direction: model.Short, Quantity: 1, ReferencePrice: 100, Timestamp: ts},
		model.ModeRealistic, MarketContext{Rand: &seqRand{vals: []float64{0, 0, 0.99}}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fill.Price != 99.98 {
		t.Errorf("price = %v, want 99.98", fill.Price)
	}
	if fill.Latency != 50*time.Millisecond {
		t.Errorf("latency = %v", fill.Latency)
	}
}

func TestRealisticPartialFill(t *testing.T) {
	cfg := config.DefaultExecutionConfig()
	cfg.ImpactFactorPct = 0
	sim := newSim(cfg)

	// spread, latency, partial check (hit), ratio 0.5 + 0.5*0.5
	rnd := &seqRand{vals: []float64{0.5, 0.5, 0.01, 0.5}}
	fill, err := sim.Execute(Order{Symbol: "ETH", Direction: model.Long, Quantity: 2, ReferencePrice: 3000, Timestamp: ts}, model.ModeRealistic, MarketContext{Rand: rnd})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !fill.Partial || fill.Quantity != 1.5 {
		t.Fatalf("fill = %+v, want partial 1.5", fill)
	}
	if fill.UnfilledQuantity() != 0.5 {
		t.Errorf("unfilled = %v", fill.UnfilledQuantity())
	}
}

func TestImpactCapped(t *testing.T) {
	sim := newSim(config.DefaultExecutionConfig())

	tests := []struct {
		notional float64
		want     float64
	}{
		{0, 0},
		{100_000, 0.1},
		{1_000_000, 1},
		{10_000_000, 2},
	}
	for _, tt := range tests {
		if got := sim.ImpactPct(tt.notional); got != tt.want {
			t.Errorf("ImpactPct(%v) = %v, want %v", tt.notional, got, tt.want)
		}
	}
}

func TestHistoricalFill(t *testing.T) {
	sim := newSim(config.DefaultExecutionConfig())
	bars := []model.Bar{
		{OpenTime: ts.Add(-2 * time.Hour), CloseTime: ts.Add(-time.Hour), Open: 1, High: 1, Low: 1, Close: 1},
		{OpenTime: ts.Add(-30 * time.Minute), CloseTime: ts.Add(30 * time.Minute), Open: 100, High: 112, Low: 98, Close: 110},
	}

	fill, err := sim.Execute(Order{Symbol: "BTC", Direction: model.Long, Quantity: 1, ReferencePrice: 101, Timestamp: ts},
		model.ModeHistorical, MarketContext{Bars: bars, Rand: &seqRand{vals: []float64{0, 0}}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fill.Price != 105 {
		t.Errorf("price = %v, want midpoint 105", fill.Price)
	}

	fill, err = sim.Execute(Order{Symbol: "BTC", Direction: model.Long, Quantity: 1, ReferencePrice: 101, Timestamp: ts},
		model.ModeHistorical, MarketContext{Bars: bars, Rand: &seqRand{vals: []float64{0.999999, 0}}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fill.Price < 105 || fill.Price > 110 {
		t.Errorf("price = %v, want within [105, 110]", fill.Price)
	}
}

func TestHistoricalWithoutBar(t *testing.T) {
	sim := newSim(config.DefaultExecutionConfig())
	bars := []model.Bar{{OpenTime: ts.Add(time.Hour), CloseTime: ts.Add(2 * time.Hour), Open: 1, High: 1, Low: 1, Close: 1}}

	for _, mc := range []MarketContext{{}, {Bars: bars}} {
		_, err := sim.Execute(Order{Symbol: "BTC", Direction: model.Long, Quantity: 1, ReferencePrice: 1, Timestamp: ts}, model.ModeHistorical, mc)
		if !errors.Is(err, model.ErrInsufficientMarketData) {
			t.Errorf("err = %v, want ErrInsufficientMarketData", err)
		}
	}
}

func TestExecuteRejectsBadOrders(t *testing.T) {
	sim := newSim(config.DefaultExecutionConfig())
	tests := []struct {
		name  string
		order Order
		mode  model.ExecutionMode
	}{
		{"zero quantity", Order{Symbol: "BTC", Direction: model.Long, ReferencePrice: 1}, model.ModeInstant},
		{"zero price", Order{Symbol: "BTC", Direction: model.Long, Quantity: 1}, model.ModeInstant},
		{"no symbol", Order{Direction: model.Long, Quantity: 1, ReferencePrice: 1}, model.ModeInstant},
		{"unknown mode", Order{Symbol: "BTC", Direction: model.Long, Quantity: 1, ReferencePrice: 1}, "turbo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sim.Execute(tt.order, tt.mode, MarketContext{})
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}
