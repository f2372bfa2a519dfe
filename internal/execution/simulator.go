package execution

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/tools"
)

// Rand is the randomness source of the simulator. Values must lie in [0, 1).
type Rand interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func NewRand(seed uint64) Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

type Order struct {
	Symbol         string
	Direction      model.Direction // side of the fill: long buys, short sells
	Quantity       float64
	ReferencePrice float64
	Timestamp      time.Time
}

// MarketContext carries per-call market state. Bars are required in historical mode;
// Rand overrides the simulator's own source when set.
type MarketContext struct {
	Bars []model.Bar
	Rand Rand
}

type Simulator struct {
	logger logger.Logger
	cfg    config.ExecutionConfig
	rnd    Rand
}

func NewSimulator(logger logger.Logger, cfg config.ExecutionConfig, rnd Rand) *Simulator {
	if rnd == nil {
		rnd = NewRand(cfg.Seed)
	}
	return &Simulator{
		logger: logger,
		cfg:    cfg,
		rnd:    rnd,
	}
}

func (s *Simulator) FeePct() float64 {
	return s.cfg.FeePct
}

func (o Order) validate() error {
	switch {
	case o.Symbol == "":
		return model.NewValidationError("symbol", "is required")
	case !o.Direction.Valid():
		return model.NewValidationError("direction", "must be long or short")
	case math.IsNaN(o.Quantity) || o.Quantity <= 0:
		return model.NewValidationError("quantity", "must be positive")
	case math.IsNaN(o.ReferencePrice) || o.ReferencePrice <= 0:
		return model.NewValidationError("reference_price", "must be positive")
	}
	return nil
}

// Execute simulates a fill of order in the given mode. The result never has a zero price or quantity.
func (s *Simulator) Execute(order Order, mode model.ExecutionMode, mc MarketContext) (model.Fill, error) {
	if err := order.validate(); err != nil {
		return model.Fill{}, err
	}

	rnd := s.rnd
	if mc.Rand != nil {
		rnd = mc.Rand
	}

	var (
		fill model.Fill
		err  error
	)
	switch mode {
	case model.ModeInstant:
		fill = s.instant(order)
	case model.ModeRealistic:
		fill = s.realistic(order, rnd)
	case model.ModeHistorical:
		fill, err = s.historical(order, mc.Bars, rnd)
	default:
		return model.Fill{}, model.NewValidationError("execution_mode", fmt.Sprintf("unknown mode %q", mode))
	}
	if err != nil {
		return model.Fill{}, err
	}

	fill.Symbol = order.Symbol
	fill.Direction = order.Direction
	fill.Mode = mode
	fill.ReferencePrice = order.ReferencePrice
	fill.RequestedQuantity = order.Quantity
	fill.Price = tools.RoundMoney(fill.Price)
	fill.FilledAt = order.Timestamp.Add(fill.Latency)

	s.logger.Debugf("simulated %s %s %v@%v -> %v@%v (%s, partial=%t)",
		mode, order.Direction, order.Quantity, order.ReferencePrice, fill.Quantity, fill.Price, fill.Latency, fill.Partial)

	return fill, nil
}

func (s *Simulator) instant(order Order) model.Fill {
	return model.Fill{
		Price:    order.ReferencePrice,
		Quantity: order.Quantity,
	}
}

func between(lo, hi, u float64) float64 {
	return lo + (hi-lo)*u
}

func (s *Simulator) latency(rnd Rand) time.Duration {
	lo, hi := float64(s.cfg.LatencyMin), float64(s.cfg.LatencyMax)
	return time.Duration(between(lo, hi, rnd.Float64())).Round(time.Millisecond)
}

// ImpactPct grows linearly with notional against the configured liquidity and is capped at MaxImpactPct.
func (s *Simulator) ImpactPct(notional float64) float64 {
	if s.cfg.ImpactFactorPct <= 0 || s.cfg.LiquidityNotional <= 0 {
		return 0
	}
	return math.Min(s.cfg.ImpactFactorPct*notional/s.cfg.LiquidityNotional, s.cfg.MaxImpactPct)
}

// realistic draws, in order: spread, latency, partial-fill check, partial ratio.
func (s *Simulator) realistic(order Order, rnd Rand) model.Fill {
	spread := between(s.cfg.SpreadMinPct, s.cfg.SpreadMaxPct, rnd.Float64())
	latency := s.latency(rnd)
	impact := s.ImpactPct(order.Quantity * order.ReferencePrice)

	// adverse to the taker: buys pay up, sells receive less
	price := order.ReferencePrice * (1 + order.Direction.Sign()*(spread+impact)/100)

	quantity := order.Quantity
	partial := false
	if rnd.Float64() < s.cfg.PartialFillProbability {
		ratio := between(s.cfg.PartialFillMinRatio, 1, rnd.Float64())
		if q := tools.TruncateQuantity(order.Quantity * ratio); q > 0 && q < order.Quantity {
			quantity = q
			partial = true
		}
	}

	return model.Fill{
		Price:     price,
		Quantity:  quantity,
		Latency:   latency,
		Partial:   partial,
		SpreadPct: spread,
		ImpactPct: impact,
	}
}

func coveringBar(bars []model.Bar, ts time.Time) (model.Bar, bool) {
	for _, b := range bars {
		if b.Covers(ts) {
			return b, true
		}
	}
	return model.Bar{}, false
}

// historical fills between the bar's open and close, biased toward the close, within [low, high].
func (s *Simulator) historical(order Order, bars []model.Bar, rnd Rand) (model.Fill, error) {
	bar, ok := coveringBar(bars, order.Timestamp)
	if !ok {
		return model.Fill{}, fmt.Errorf("%w: no bar for %s at %s", model.ErrInsufficientMarketData, order.Symbol, order.Timestamp.Format(time.RFC3339))
	}
	if bar.Open <= 0 || bar.Close <= 0 || bar.Low <= 0 || bar.High < bar.Low {
		return model.Fill{}, fmt.Errorf("%w: malformed bar for %s at %s", model.ErrInsufficientMarketData, order.Symbol, bar.OpenTime.Format(time.RFC3339))
	}

	w := between(s.cfg.HistoricalBias, 1, rnd.Float64())
	latency := s.latency(rnd)

	price := bar.Open + (bar.Close-bar.Open)*w
	price = math.Max(bar.Low, math.Min(bar.High, price))

	return model.Fill{
		Price:    price,
		Quantity: order.Quantity,
		Latency:  latency,
	}, nil
}
