package performance

import (
	"math"
	"slices"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
)

type ExecutionQuality struct {
	Fills        int     `json:"fills"`
	PartialFills int     `json:"partial_fills"`
	AvgSlippage  float64 `json:"avg_slippage"` // fill - signal, price units
	// adverse slippage in percent of signal price: positive means the trader paid for it
	AvgSlippagePct float64 `json:"avg_slippage_pct"`
	MinSlippagePct float64 `json:"min_slippage_pct"`
	P50SlippagePct float64 `json:"p50_slippage_pct"`
	P95SlippagePct float64 `json:"p95_slippage_pct"`
	MaxSlippagePct float64 `json:"max_slippage_pct"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	MaxLatencyMs   int64   `json:"max_latency_ms"`
}

type Snapshot struct {
	Trades         int              `json:"trades"`
	ClosedTrades   int              `json:"closed_trades"`
	Wins           int              `json:"wins"`
	Losses         int              `json:"losses"`
	WinRate        float64          `json:"win_rate"`
	GrossProfit    float64          `json:"gross_profit"`
	GrossLoss      float64          `json:"gross_loss"`
	NetRealizedPnL float64          `json:"net_realized_pnl"`
	Fees           float64          `json:"fees"`
	ProfitFactor   Ratio            `json:"profit_factor"`
	Sharpe         Ratio            `json:"sharpe"`
	Sortino        Ratio            `json:"sortino"`
	MaxDrawdownPct float64          `json:"max_drawdown_pct"`
	TotalReturnPct float64          `json:"total_return_pct"`
	Execution      ExecutionQuality `json:"execution"`
}

type Calculator struct {
	periodsPerYear float64
}

func NewCalculator(periodsPerYear float64) *Calculator {
	return &Calculator{periodsPerYear: periodsPerYear}
}

// Calculate derives the snapshot from trade and equity history. Empty or single-point inputs yield
// zeros and undefined ratios.
func (c *Calculator) Calculate(trades []model.Trade, curve []model.EquityPoint) Snapshot {
	s := Snapshot{Trades: len(trades)}

	for _, t := range trades {
		s.Fees += t.Fee
		if !t.Closed() {
			continue
		}
		pnl := *t.RealizedPnL
		s.ClosedTrades++
		s.NetRealizedPnL += pnl
		switch {
		case pnl > 0:
			s.Wins++
			s.GrossProfit += pnl
		case pnl < 0:
			s.Losses++
			s.GrossLoss += -pnl
		}
	}
	if s.ClosedTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.ClosedTrades)
	}
	s.ProfitFactor = ProfitFactor(s.GrossProfit, s.GrossLoss)

	returns := Returns(Resample(curve, c.period()))
	s.Sharpe = c.Sharpe(returns)
	s.Sortino = c.Sortino(returns)
	s.MaxDrawdownPct = MaxDrawdownPct(curve)
	if len(curve) > 0 && curve[0].Equity > 0 {
		s.TotalReturnPct = (curve[len(curve)-1].Equity/curve[0].Equity - 1) * 100
	}

	s.Execution = Execution(trades)
	return s
}

func ProfitFactor(grossProfit, grossLoss float64) Ratio {
	switch {
	case grossLoss > 0:
		return defined(grossProfit / grossLoss)
	case grossProfit > 0:
		return Ratio{Kind: Infinite, Value: math.Inf(1)}
	default:
		return Ratio{}
	}
}

// period is the span of one return in the annualization factor: 365 periods a year is one day.
func (c *Calculator) period() time.Duration {
	if c.periodsPerYear <= 0 {
		return 0
	}
	return time.Duration(float64(365*24*time.Hour) / c.periodsPerYear)
}

// Resample keeps the first point and the last point of every period counted from it, so returns are
// taken over equal spans however often the curve was marked. A zero period returns the curve as is.
func Resample(curve []model.EquityPoint, period time.Duration) []model.EquityPoint {
	if period <= 0 || len(curve) < 2 {
		return curve
	}
	start := curve[0].Ts
	out := []model.EquityPoint{curve[0]}
	bucket := int64(0)
	for _, p := range curve[1:] {
		b := int64(p.Ts.Sub(start) / period)
		if b == bucket && len(out) > 1 {
			out[len(out)-1] = p
			continue
		}
		bucket = b
		out = append(out, p)
	}
	return out
}

// Returns are simple returns between consecutive equity points.
func Returns(curve []model.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdev is the sample standard deviation; it needs at least two values.
func stdev(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1)), true
}

func (c *Calculator) annualize(v float64) float64 {
	if c.periodsPerYear <= 0 {
		return v
	}
	return v * math.Sqrt(c.periodsPerYear)
}

func (c *Calculator) Sharpe(returns []float64) Ratio {
	sd, ok := stdev(returns)
	if !ok || sd == 0 {
		return Ratio{}
	}
	return defined(c.annualize(mean(returns) / sd))
}

// Sortino divides the mean return by the deviation of negative returns only. Without losing
// periods a positive mean is infinite.
func (c *Calculator) Sortino(returns []float64) Ratio {
	if len(returns) < 2 {
		return Ratio{}
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	m := mean(returns)
	if len(downside) == 0 {
		if m > 0 {
			return Ratio{Kind: Infinite, Value: math.Inf(1)}
		}
		return Ratio{}
	}
	sd, ok := stdev(downside)
	if !ok || sd == 0 {
		return Ratio{}
	}
	return defined(c.annualize(m / sd))
}

// MaxDrawdownPct is the largest decline from a running peak, in percent.
func MaxDrawdownPct(curve []model.EquityPoint) float64 {
	peak, worst := 0.0, 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

// Execution summarizes fills of signal-driven trades; stop and target closes fill at their boundary
// and carry no execution noise.
func Execution(trades []model.Trade) ExecutionQuality {
	var (
		q        ExecutionQuality
		slips    []float64
		slipSum  float64
		latency  int64
		prev     *model.Trade
	)
	for i := range trades {
		t := trades[i]
		if t.Source != model.SourceSignal && t.Source != "" {
			continue
		}
		if flipLeg(prev, t) {
			prev = &trades[i]
			continue
		}
		prev = &trades[i]

		q.Fills++
		if t.Partial {
			q.PartialFills++
		}
		slipSum += t.Slippage
		latency += t.LatencyMs
		q.MaxLatencyMs = max(q.MaxLatencyMs, t.LatencyMs)
		if t.SignalPrice > 0 {
			slips = append(slips, t.Slippage/t.SignalPrice*100*t.Direction.Sign())
		}
	}
	if q.Fills == 0 {
		return q
	}
	q.AvgSlippage = slipSum / float64(q.Fills)
	q.AvgLatencyMs = float64(latency) / float64(q.Fills)

	if len(slips) > 0 {
		q.AvgSlippagePct = mean(slips)
		slices.Sort(slips)
		q.MinSlippagePct = slips[0]
		q.MaxSlippagePct = slips[len(slips)-1]
		q.P50SlippagePct = percentile(slips, 0.5)
		q.P95SlippagePct = percentile(slips, 0.95)
	}
	return q
}

// flipLeg reports whether t is the opening leg of a flip whose closing leg is prev. Both legs come
// from one fill and are booked back to back.
func flipLeg(prev *model.Trade, t model.Trade) bool {
	return prev != nil &&
		prev.Kind == model.TradeClose && t.Kind == model.TradeOpen &&
		t.Seq == prev.Seq+1 &&
		t.Symbol == prev.Symbol && t.Direction == prev.Direction &&
		t.ExecutedAt.Equal(prev.ExecutedAt)
}
