package ledger

import (
	"math"
	"slices"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/tools"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is the mutable book of one portfolio. Callers work on a copy and persist it as a whole.
type State struct {
	Portfolio model.Portfolio
	Positions []model.Position // open positions only
	LastPoint *model.EquityPoint
}

func (s *State) position(symbol string) int {
	return slices.IndexFunc(s.Positions, func(p model.Position) bool { return p.Symbol == symbol })
}

func (s *State) Position(symbol string) (model.Position, bool) {
	if i := s.position(symbol); i >= 0 {
		return s.Positions[i], true
	}
	return model.Position{}, false
}

// FillMeta is what the ledger needs to know about a fill besides the fill itself.
type FillMeta struct {
	SignalPrice float64
	StopLoss    float64
	TakeProfit  float64
	Source      model.TradeSource
}

type Result struct {
	Trades      []model.Trade    // close leg first on a flip
	Positions   []model.Position // every position touched, closed ones included
	RealizedPnL float64
	EquityPoint *model.EquityPoint // nil when the curve did not change
}

type Ledger struct {
	logger logger.Logger
	feePct float64
}

func New(logger logger.Logger, feePct float64) *Ledger {
	return &Ledger{
		logger: logger,
		feePct: feePct,
	}
}

// NewPortfolio builds a fresh, armed portfolio from its config.
func NewPortfolio(cfg config.PortfolioConfig, at time.Time) model.Portfolio {
	at = at.UTC()
	return model.Portfolio{
		ID:              uuid.NewString(),
		Name:            cfg.Name,
		StartingCapital: cfg.StartingCapital,
		Cash:            cfg.StartingCapital,
		Equity:          cfg.StartingCapital,
		PeakEquity:      cfg.StartingCapital,
		DayStartEquity:  cfg.StartingCapital,
		DayStartedAt:    dayStart(at),
		ExecutionMode:   cfg.ExecutionMode,
		RiskLimits:      cfg.Limits(),
		CircuitBreaker:  model.CircuitBreaker{State: model.BreakerArmed},
		Active:          true,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func dayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// RollDay starts a new trading day at the current equity once at falls on a later UTC day.
func RollDay(p *model.Portfolio, at time.Time) bool {
	day := dayStart(at)
	if !day.After(p.DayStartedAt) {
		return false
	}
	p.DayStartEquity = p.Equity
	p.DayStartedAt = day
	return true
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func (l *Ledger) fee(quantity, price float64) float64 {
	if l.feePct <= 0 {
		return 0
	}
	return tools.RoundMoney(tools.Mul(quantity, price).Mul(dec(l.feePct)).Div(decimal.NewFromInt(100)).InexactFloat64())
}

// settle moves cash for one leg: buys pay notional plus fee, sells receive notional less fee.
func settle(p *model.Portfolio, side model.Direction, quantity, price, fee float64) {
	notional := tools.Mul(quantity, price)
	cash := dec(p.Cash)
	if side == model.Long {
		cash = cash.Sub(notional).Sub(dec(fee))
	} else {
		cash = cash.Add(notional).Sub(dec(fee))
	}
	p.Cash = tools.RoundMoney(cash.InexactFloat64())
}

// RealizedPnL is (exit - entry) * quantity * sign, computed in decimal.
func RealizedPnL(dir model.Direction, entry, exit, quantity float64) float64 {
	pnl := dec(exit).Sub(dec(entry)).Mul(dec(quantity))
	if dir == model.Short {
		pnl = pnl.Neg()
	}
	return tools.RoundMoney(pnl.InexactFloat64())
}

func (l *Ledger) newTrade(st *State, pos model.Position, fill model.Fill, meta FillMeta, kind model.TradeKind, quantity float64) model.Trade {
	st.Portfolio.TradeSeq++
	return model.Trade{
		ID:                uuid.NewString(),
		PortfolioID:       st.Portfolio.ID,
		PositionID:        pos.ID,
		Seq:               st.Portfolio.TradeSeq,
		Symbol:            fill.Symbol,
		Direction:         fill.Direction,
		Kind:              kind,
		Source:            meta.Source,
		SignalPrice:       meta.SignalPrice,
		FillPrice:         fill.Price,
		RequestedQuantity: fill.RequestedQuantity,
		Quantity:          quantity,
		Slippage:          tools.RoundMoney(fill.Price - meta.SignalPrice),
		LatencyMs:         fill.Latency.Milliseconds(),
		Partial:           fill.Partial,
		Fee:               l.fee(quantity, fill.Price),
		ExecutedAt:        fill.FilledAt,
	}
}

// ApplyFill books a fill against the state: it opens, adds to, reduces, closes or flips the symbol's
// position and appends an equity point.
func (l *Ledger) ApplyFill(st *State, fill model.Fill, meta FillMeta) (Result, error) {
	res, err := l.applyFill(st, fill, meta)
	if err != nil {
		return Result{}, err
	}
	res.EquityPoint = l.mark(st, fill.FilledAt, true)
	return res, nil
}

func (l *Ledger) applyFill(st *State, fill model.Fill, meta FillMeta) (Result, error) {
	switch {
	case fill.Symbol == "":
		return Result{}, model.NewValidationError("symbol", "is required")
	case !fill.Direction.Valid():
		return Result{}, model.NewValidationError("direction", "must be long or short")
	case math.IsNaN(fill.Price) || fill.Price <= 0:
		return Result{}, model.NewValidationError("price", "must be positive")
	case math.IsNaN(fill.Quantity) || fill.Quantity <= 0:
		return Result{}, model.NewValidationError("quantity", "must be positive")
	}
	if meta.Source == "" {
		meta.Source = model.SourceSignal
	}

	at := fill.FilledAt
	var res Result

	remaining := dec(fill.Quantity)
	if i := st.position(fill.Symbol); i >= 0 && st.Positions[i].Direction != fill.Direction {
		pos := st.Positions[i]
		held := dec(pos.Quantity)
		closing := decimal.Min(held, remaining)
		closeQty := closing.InexactFloat64()

		pnl := RealizedPnL(pos.Direction, pos.AvgEntryPrice, fill.Price, closeQty)
		kind := model.TradeReduce
		left := held.Sub(closing)

		pos.RealizedPnL = tools.RoundMoney(pos.RealizedPnL + pnl)
		pos.MarkPrice = fill.Price
		pos.UpdatedAt = at
		if left.IsZero() {
			kind = model.TradeClose
			closedAt := at
			pos.Quantity = 0
			pos.Status = model.PositionClosed
			pos.ClosedAt = &closedAt
			st.Positions = slices.Delete(st.Positions, i, i+1)
		} else {
			pos.Quantity = left.InexactFloat64()
			st.Positions[i] = pos
		}

		trade := l.newTrade(st, pos, fill, meta, kind, closeQty)
		trade.RealizedPnL = &pnl
		settle(&st.Portfolio, fill.Direction, closeQty, fill.Price, trade.Fee)

		res.Trades = append(res.Trades, trade)
		res.Positions = append(res.Positions, pos)
		res.RealizedPnL = pnl
		remaining = remaining.Sub(closing)

		l.logger.Infof("portfolio %s: %s %s %v@%v, realized %v", st.Portfolio.Name, kind, pos.Symbol, closeQty, fill.Price, pnl)
	}

	if remaining.IsPositive() {
		qty := remaining.InexactFloat64()
		var (
			pos  model.Position
			kind model.TradeKind
		)
		if i := st.position(fill.Symbol); i >= 0 {
			pos = st.Positions[i]
			total := dec(pos.Quantity).Add(remaining)
			avg := dec(pos.Quantity).Mul(dec(pos.AvgEntryPrice)).Add(remaining.Mul(dec(fill.Price))).Div(total)
			pos.Quantity = total.InexactFloat64()
			pos.AvgEntryPrice = tools.RoundMoney(avg.InexactFloat64())
			if meta.StopLoss > 0 {
				pos.StopLoss = meta.StopLoss
			}
			if meta.TakeProfit > 0 {
				pos.TakeProfit = meta.TakeProfit
			}
			pos.MarkPrice = fill.Price
			pos.UpdatedAt = at
			st.Positions[i] = pos
			kind = model.TradeAdd
		} else {
			pos = model.Position{
				ID:            uuid.NewString(),
				PortfolioID:   st.Portfolio.ID,
				Symbol:        fill.Symbol,
				Direction:     fill.Direction,
				Quantity:      qty,
				AvgEntryPrice: fill.Price,
				StopLoss:      meta.StopLoss,
				TakeProfit:    meta.TakeProfit,
				MarkPrice:     fill.Price,
				Status:        model.PositionOpen,
				OpenedAt:      at,
				UpdatedAt:     at,
			}
			st.Positions = append(st.Positions, pos)
			kind = model.TradeOpen
		}

		trade := l.newTrade(st, pos, fill, meta, kind, qty)
		settle(&st.Portfolio, fill.Direction, qty, fill.Price, trade.Fee)

		res.Trades = append(res.Trades, trade)
		res.Positions = append(res.Positions, pos)

		l.logger.Infof("portfolio %s: %s %s %s %v@%v", st.Portfolio.Name, kind, pos.Direction, pos.Symbol, qty, fill.Price)
	}

	return res, nil
}

// mark recomputes equity from cash and marks, lifts the peak and appends an equity point.
// Without force the point is skipped when it repeats the last one.
func (l *Ledger) mark(st *State, at time.Time, force bool) *model.EquityPoint {
	p := &st.Portfolio
	equity := dec(p.Cash)
	for _, pos := range st.Positions {
		equity = equity.Add(tools.Mul(pos.Quantity, pos.MarkPrice).Mul(dec(pos.Direction.Sign())))
	}
	p.Equity = tools.RoundMoney(equity.InexactFloat64())
	if p.Equity > p.PeakEquity {
		p.PeakEquity = p.Equity
	}
	p.UpdatedAt = at

	if !force && st.LastPoint != nil && st.LastPoint.Ts.Equal(at) && st.LastPoint.Equity == p.Equity {
		return nil
	}

	p.EquitySeq++
	point := model.EquityPoint{
		PortfolioID: p.ID,
		Seq:         p.EquitySeq,
		Ts:          at,
		Equity:      p.Equity,
		Cash:        p.Cash,
		PeakEquity:  p.PeakEquity,
	}
	st.LastPoint = &point
	return &point
}

// InitialPoint is the first equity point of a fresh portfolio.
func (l *Ledger) InitialPoint(st *State) model.EquityPoint {
	return *l.mark(st, st.Portfolio.CreatedAt, true)
}

// boundaryExit is the price a crossed stop or target closes pos at. A position whose entry already lay
// past the boundary, such as a historical fill below a long's stop, closes at the mark instead.
func boundaryExit(pos model.Position, boundary, mark float64, target bool) float64 {
	entryBeyond := pos.AvgEntryPrice < boundary
	if pos.Direction == model.Short {
		entryBeyond = pos.AvgEntryPrice > boundary
	}
	if target {
		entryBeyond = !entryBeyond
	}
	if entryBeyond {
		return mark
	}
	return boundary
}

// UpdatePositions marks open positions to prices and closes those whose stop or target was crossed,
// at the boundary price, or at the mark when the position was entered beyond that boundary. Repeating
// a call with the same prices and time changes nothing.
func (l *Ledger) UpdatePositions(st *State, prices map[string]float64, at time.Time) (Result, error) {
	for symbol, price := range prices {
		if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			return Result{}, model.NewValidationError("prices", "price for "+symbol+" must be positive")
		}
	}

	symbols := make([]string, 0, len(st.Positions))
	for _, pos := range st.Positions {
		symbols = append(symbols, pos.Symbol)
	}
	slices.Sort(symbols)

	var res Result
	for _, symbol := range symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		i := st.position(symbol)
		pos := st.Positions[i]
		if pos.MarkPrice != price {
			pos.MarkPrice = price
			pos.UpdatedAt = at
			st.Positions[i] = pos
			res.Positions = append(res.Positions, pos)
		}

		var (
			exit   float64
			source model.TradeSource
		)
		switch {
		case pos.StopCrossed(price):
			exit, source = boundaryExit(pos, pos.StopLoss, price, false), model.SourceStopLoss
		case pos.TargetCrossed(price):
			exit, source = boundaryExit(pos, pos.TakeProfit, price, true), model.SourceTakeProfit
		default:
			continue
		}

		fill := model.Fill{
			Symbol:            symbol,
			Direction:         pos.Direction.Opposite(),
			Mode:              st.Portfolio.ExecutionMode,
			ReferencePrice:    exit,
			Price:             exit,
			RequestedQuantity: pos.Quantity,
			Quantity:          pos.Quantity,
			FilledAt:          at,
		}
		closed, err := l.applyFill(st, fill, FillMeta{SignalPrice: exit, Source: source})
		if err != nil {
			return Result{}, err
		}
		res.Trades = append(res.Trades, closed.Trades...)
		res.Positions = append(res.Positions, closed.Positions...)
		res.RealizedPnL += closed.RealizedPnL
	}

	res.EquityPoint = l.mark(st, at, false)
	return res, nil
}
