package performance

import (
	"math"
	"testing"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/bytedance/sonic"
)

func pnl(v float64) *float64 { return &v }

func curve(equity ...float64) []model.EquityPoint {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.EquityPoint, len(equity))
	for i, e := range equity {
		out[i] = model.EquityPoint{Seq: int64(i + 1), Ts: t0.Add(time.Duration(i) * time.Hour), Equity: e}
	}
	return out
}

func TestWinRateAndProfitFactor(t *testing.T) {
	var trades []model.Trade
	for i, v := range []float64{100, -50, 200, -20} {
		trades = append(trades,
			model.Trade{Kind: model.TradeOpen, Source: model.SourceSignal, ExecutedAt: time.Unix(int64(i*2), 0)},
			model.Trade{Kind: model.TradeClose, Source: model.SourceSignal, RealizedPnL: pnl(v), ExecutedAt: time.Unix(int64(i*2+1), 0)},
		)
	}

	s := NewCalculator(365).Calculate(trades, nil)
	if s.ClosedTrades != 4 || s.Wins != 2 || s.Losses != 2 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.WinRate != 0.5 {
		t.Errorf("win rate = %v, want 0.5", s.WinRate)
	}
	if s.ProfitFactor.Kind != Defined || math.Abs(s.ProfitFactor.Value-300.0/70) > 1e-12 {
		t.Errorf("profit factor = %v", s.ProfitFactor)
	}
	if s.NetRealizedPnL != 230 {
		t.Errorf("net = %v", s.NetRealizedPnL)
	}
}

func TestEmptyHistories(t *testing.T) {
	c := NewCalculator(365)
	for _, pts := range [][]model.EquityPoint{nil, curve(1000)} {
		s := c.Calculate(nil, pts)
		if s.WinRate != 0 || s.MaxDrawdownPct != 0 || s.TotalReturnPct != 0 {
			t.Errorf("snapshot = %+v", s)
		}
		if s.ProfitFactor.Kind != Undefined || s.Sharpe.Kind != Undefined || s.Sortino.Kind != Undefined {
			t.Errorf("ratios = %v %v %v", s.ProfitFactor, s.Sharpe, s.Sortino)
		}
		if s.Execution.Fills != 0 || s.Execution.AvgLatencyMs != 0 {
			t.Errorf("execution = %+v", s.Execution)
		}
	}
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	if pf := ProfitFactor(50, 0); pf.Kind != Infinite || pf.String() != "∞" {
		t.Errorf("pf = %v", pf)
	}
	if pf := ProfitFactor(0, 0); pf.Kind != Undefined || pf.String() != "N/A" {
		t.Errorf("pf = %v", pf)
	}
}

func TestMaxDrawdownUsesRunningPeak(t *testing.T) {
	// start 100, end 120 but with a 40% dip from the 150 peak in between
	got := MaxDrawdownPct(curve(100, 150, 90, 130, 120))
	if math.Abs(got-40) > 1e-9 {
		t.Errorf("max drawdown = %v, want 40", got)
	}
	if MaxDrawdownPct(curve(100, 110, 120)) != 0 {
		t.Error("drawdown on a rising curve")
	}
}

func TestSharpeAndSortino(t *testing.T) {
	c := NewCalculator(4)
	returns := []float64{0.1, -0.05, 0.2, -0.15}

	m := 0.025
	sd := math.Sqrt(((0.075*0.075)+(0.075*0.075)+(0.175*0.175)+(0.175*0.175))/3)
	if got := c.Sharpe(returns); math.Abs(got.Value-m/sd*2) > 1e-12 {
		t.Errorf("sharpe = %v, want %v", got.Value, m/sd*2)
	}

	dsd := math.Sqrt((0.05*0.05 + 0.05*0.05) / 1)
	if got := c.Sortino(returns); math.Abs(got.Value-m/dsd*2) > 1e-12 {
		t.Errorf("sortino = %v, want %v", got.Value, m/dsd*2)
	}

	if got := c.Sortino([]float64{0.1, 0.2}); got.Kind != Infinite {
		t.Errorf("sortino without losses = %v", got)
	}
	if got := c.Sharpe([]float64{0.1, 0.1}); got.Kind != Undefined {
		t.Errorf("sharpe with zero deviation = %v", got)
	}
}

func TestSharpeUsesConfiguredPeriod(t *testing.T) {
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	daily := []float64{1000, 1010, 1005, 1030}

	var marked, closes []model.EquityPoint
	seq := int64(0)
	add := func(dst *[]model.EquityPoint, ts time.Time, equity float64) {
		seq++
		*dst = append(*dst, model.EquityPoint{Seq: seq, Ts: ts, Equity: equity})
	}
	add(&marked, start, daily[0])
	add(&closes, start, daily[0])
	for day, eq := range daily[1:] {
		base := start.Add(time.Duration(day) * 24 * time.Hour)
		// intraday marks that wander before settling at the close
		for m := 1; m < 60; m++ {
			add(&marked, base.Add(time.Duration(m)*time.Minute), eq+float64(m%7)-3)
		}
		add(&marked, base.Add(23*time.Hour), eq)
		add(&closes, base.Add(23*time.Hour), eq)
	}

	if got := Resample(marked, 24*time.Hour); len(got) != len(closes) {
		t.Fatalf("resampled to %d points, want %d", len(got), len(closes))
	}

	c := NewCalculator(365)
	got := c.Calculate(nil, marked)
	want := c.Sharpe(Returns(closes))
	if got.Sharpe.Kind != want.Kind || math.Abs(got.Sharpe.Value-want.Value) > 1e-9 {
		t.Errorf("sharpe over minute marks = %v, over daily closes = %v", got.Sharpe, want)
	}
}

func TestExecutionQuality(t *testing.T) {
	at := time.Unix(100, 0)
	trades := []model.Trade{
		{Seq: 1, Kind: model.TradeOpen, Symbol: "BTC", Direction: model.Long, Source: model.SourceSignal, SignalPrice: 100, FillPrice: 100.1, Slippage: 0.1, LatencyMs: 100, ExecutedAt: at},
		{Seq: 2, Kind: model.TradeClose, Symbol: "BTC", Direction: model.Short, Source: model.SourceSignal, SignalPrice: 100, FillPrice: 99.7, Slippage: -0.3, LatencyMs: 200, Partial: true, ExecutedAt: at.Add(time.Second)},
		// second leg of the same flip fill
		{Seq: 3, Kind: model.TradeOpen, Symbol: "BTC", Direction: model.Short, Source: model.SourceSignal, SignalPrice: 100, FillPrice: 99.7, Slippage: -0.3, LatencyMs: 200, Partial: true, ExecutedAt: at.Add(time.Second)},
		{Seq: 4, Kind: model.TradeClose, Symbol: "BTC", Direction: model.Long, Source: model.SourceStopLoss, SignalPrice: 101, FillPrice: 101, ExecutedAt: at.Add(time.Hour)},
	}

	q := Execution(trades)
	if q.Fills != 2 || q.PartialFills != 1 {
		t.Fatalf("quality = %+v", q)
	}
	if math.Abs(q.AvgSlippage-(-0.1)) > 1e-12 || q.AvgLatencyMs != 150 || q.MaxLatencyMs != 200 {
		t.Errorf("quality = %+v", q)
	}
	if math.Abs(q.MinSlippagePct-0.1) > 1e-9 || math.Abs(q.MaxSlippagePct-0.3) > 1e-9 {
		t.Errorf("adverse slippage range = [%v, %v]", q.MinSlippagePct, q.MaxSlippagePct)
	}
}

func TestExecutionCountsDistinctFillsAtOneInstant(t *testing.T) {
	at := time.Unix(100, 0)
	tests := []struct {
		name    string
		trades  []model.Trade
		fills   int
		avgSlip float64
	}{
		{
			name: "two opens in one tick",
			trades: []model.Trade{
				{Seq: 1, Kind: model.TradeOpen, Symbol: "BTC", Direction: model.Long, Source: model.SourceSignal, SignalPrice: 100, Slippage: 1, ExecutedAt: at},
				{Seq: 2, Kind: model.TradeAdd, Symbol: "BTC", Direction: model.Long, Source: model.SourceSignal, SignalPrice: 100, Slippage: 3, ExecutedAt: at},
			},
			fills:   2,
			avgSlip: 2,
		},
		{
			name: "flip legs",
			trades: []model.Trade{
				{Seq: 1, Kind: model.TradeClose, Symbol: "BTC", Direction: model.Short, Source: model.SourceSignal, SignalPrice: 100, Slippage: -1, ExecutedAt: at},
				{Seq: 2, Kind: model.TradeOpen, Symbol: "BTC", Direction: model.Short, Source: model.SourceSignal, SignalPrice: 100, Slippage: -1, ExecutedAt: at},
			},
			fills:   1,
			avgSlip: -1,
		},
		{
			name: "close then separate open",
			trades: []model.Trade{
				{Seq: 1, Kind: model.TradeClose, Symbol: "BTC", Direction: model.Short, Source: model.SourceSignal, SignalPrice: 100, Slippage: -1, ExecutedAt: at},
				{Seq: 2, Kind: model.TradeOpen, Symbol: "ETH", Direction: model.Short, Source: model.SourceSignal, SignalPrice: 100, Slippage: -3, ExecutedAt: at},
			},
			fills:   2,
			avgSlip: -2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Execution(tt.trades)
			if q.Fills != tt.fills || math.Abs(q.AvgSlippage-tt.avgSlip) > 1e-12 {
				t.Errorf("fills = %d, avg slippage = %v, want %d, %v", q.Fills, q.AvgSlippage, tt.fills, tt.avgSlip)
			}
		})
	}
}

func TestRatioJSON(t *testing.T) {
	out, err := sonic.Marshal(struct {
		A Ratio `json:"a"`
		B Ratio `json:"b"`
		C Ratio `json:"c"`
	}{A: defined(1.5), B: ProfitFactor(1, 0), C: Ratio{}})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":1.5,"b":"∞","c":"N/A"}` {
		t.Errorf("json = %s", out)
	}
}

func TestRatioUnmarshal(t *testing.T) {
	var v struct {
		A Ratio `json:"a"`
		B Ratio `json:"b"`
		C Ratio `json:"c"`
	}
	if err := sonic.UnmarshalString(`{"a":1.5,"b":"∞","c":"N/A"}`, &v); err != nil {
		t.Fatal(err)
	}
	if v.A.Kind != Defined || v.A.Value != 1.5 {
		t.Errorf("a = %+v", v.A)
	}
	if v.B.Kind != Infinite || !math.IsInf(v.B.Value, 1) {
		t.Errorf("b = %+v", v.B)
	}
	if v.C.Kind != Undefined {
		t.Errorf("c = %+v", v.C)
	}
}
