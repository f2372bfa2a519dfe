package backtest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/marketdata"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/paper"
)

type PriceSource interface {
	PriceAt(ctx context.Context, symbol string, ts time.Time) (float64, error)
}

// Trader is the part of paper.Service a replay drives.
type Trader interface {
	CreatePortfolio(ctx context.Context, cfg config.PortfolioConfig) (model.Portfolio, error)
	OpenSymbols(ctx context.Context, name string) ([]string, error)
	UpdatePositions(ctx context.Context, name string, prices map[string]float64, at time.Time) (paper.UpdateResult, error)
	ExecuteSignal(ctx context.Context, name string, sig model.Signal) (paper.TradeResult, error)
	GetStatus(ctx context.Context, name string) (paper.Status, error)
}

type IntervalProfit struct {
	Balance float64   `json:"balance"`
	Profit  float64   `json:"profit"`
	Ts      time.Time `json:"ts"`
}

type Report struct {
	Portfolio string           `json:"portfolio"`
	Executed  int              `json:"executed"`
	Rejected  int              `json:"rejected"`
	Failed    int              `json:"failed"`
	Intervals []IntervalProfit `json:"intervals"`
	Status    paper.Status     `json:"status"`
}

// Clock is the simulated time a replay moves forward. Pass Now to paper.WithClock.
type Clock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Replay walks the backtest interval one bar at a time: open positions are marked at the start of each
// bar, then the signals stamped within that bar are executed in timestamp order.
type Replay struct {
	logger logger.Logger
	trader Trader
	prices PriceSource
	clock  *Clock
	cfg    config.BacktestConfig

	report  Report
	lastDay time.Time
}

func NewReplay(logger logger.Logger, trader Trader, prices PriceSource, clock *Clock, cfg config.BacktestConfig) *Replay {
	return &Replay{
		logger: logger,
		trader: trader,
		prices: prices,
		clock:  clock,
		cfg:    cfg,
	}
}

func (r *Replay) Run(ctx context.Context) (Report, error) {
	from, to := r.cfg.From.UTC(), r.cfg.To.UTC()
	name := r.cfg.Portfolio.Name
	r.report = Report{Portfolio: name}

	r.clock.Set(from)
	if _, err := r.trader.CreatePortfolio(ctx, r.cfg.Portfolio); err != nil {
		return r.report, fmt.Errorf("%w: can't create backtest portfolio", err)
	}

	signals := slices.Clone(r.cfg.Signals)
	slices.SortStableFunc(signals, func(a, b model.Signal) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	next := 0

	step := cmp.Or(r.cfg.MarketData.BarDuration, time.Hour)
	for _, interval := range SplitIntoWeeks(from, to) {
		r.logger.Infof("Interval: %s - %s", interval.Start, interval.End)
		for _, h := range DivideIntoSteps(interval.Start, interval.End, step) {
			if err := ctx.Err(); err != nil {
				return r.report, err
			}
			if err := r.step(ctx, h); err != nil {
				return r.report, err
			}

			until := h.Add(step)
			for next < len(signals) && signals[next].Timestamp.Before(until) {
				if err := r.execute(ctx, signals[next]); err != nil {
					return r.report, err
				}
				next++
			}
		}
	}

	if err := r.step(ctx, to); err != nil {
		return r.report, err
	}
	for ; next < len(signals); next++ {
		if err := r.execute(ctx, signals[next]); err != nil {
			return r.report, err
		}
	}
	if err := r.record(ctx, to); err != nil {
		return r.report, err
	}

	status, err := r.trader.GetStatus(ctx, name)
	if err != nil {
		return r.report, fmt.Errorf("%w: can't read final status", err)
	}
	r.report.Status = status
	return r.report, nil
}

// step moves the clock to h, records the daily balance and marks open positions.
func (r *Replay) step(ctx context.Context, h time.Time) error {
	r.clock.Set(h)
	if day := h.Truncate(24 * time.Hour); day != r.lastDay {
		if !r.lastDay.IsZero() {
			if err := r.record(ctx, h); err != nil {
				return err
			}
		}
		r.lastDay = day
	}
	return r.mark(ctx, h)
}

func (r *Replay) mark(ctx context.Context, h time.Time) error {
	name := r.cfg.Portfolio.Name
	symbols, err := r.trader.OpenSymbols(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: can't list open symbols", err)
	}
	if len(symbols) == 0 {
		return nil
	}

	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		price, err := r.prices.PriceAt(ctx, symbol, h)
		if errors.Is(err, marketdata.ErrNoBars) {
			r.logger.Warnf("no price for %s at %s", symbol, h)
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: can't get price for %s", err, symbol)
		}
		prices[symbol] = price
	}
	if len(prices) == 0 {
		return nil
	}

	res, err := r.trader.UpdatePositions(ctx, name, prices, h)
	if err != nil {
		return fmt.Errorf("%w: can't mark positions", err)
	}
	for _, t := range res.Trades {
		r.logger.Infof("Closed %s %f %s at %f (%s)", t.Direction, t.Quantity, t.Symbol, t.FillPrice, t.Source)
	}
	return nil
}

// execute runs one signal. Rejections and failed fills are counted, storage errors abort the replay.
func (r *Replay) execute(ctx context.Context, sig model.Signal) error {
	r.clock.Set(maxTime(sig.Timestamp, r.clock.Now()))
	res, err := r.trader.ExecuteSignal(ctx, r.cfg.Portfolio.Name, sig)
	switch {
	case err == nil:
		r.report.Executed++
		r.logger.Infof("Executed %s %s: %f at %f", sig.Direction, sig.Symbol, res.Fill.Quantity, res.Fill.Price)
		return nil
	case errors.Is(err, model.ErrPersistence), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: can't execute signal for %s", err, sig.Symbol)
	case errors.Is(err, model.ErrRiskLimitViolation), errors.Is(err, model.ErrBreakerTripped), errors.Is(err, model.ErrValidation):
		r.report.Rejected++
		r.logger.Infof("Rejected %s %s: %s", sig.Direction, sig.Symbol, err)
	default:
		r.report.Failed++
		r.logger.Warnf("%s: signal for %s failed", err, sig.Symbol)
	}
	return nil
}

func (r *Replay) record(ctx context.Context, ts time.Time) error {
	status, err := r.trader.GetStatus(ctx, r.cfg.Portfolio.Name)
	if err != nil {
		return fmt.Errorf("%w: can't read status", err)
	}
	balance := status.Portfolio.Equity
	r.logger.Infof("Portfolio balance: %f on %s", balance, ts)
	info := IntervalProfit{
		Balance: balance,
		Profit:  balance - status.Portfolio.StartingCapital,
		Ts:      ts,
	}
	// a later record for the same instant supersedes the earlier one
	if n := len(r.report.Intervals); n > 0 && r.report.Intervals[n-1].Ts.Equal(ts) {
		r.report.Intervals[n-1] = info
		return nil
	}
	r.report.Intervals = append(r.report.Intervals, info)
	return nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
