package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
)

// GetBars returns bars with open time in [from, to), reading the cache first.
func (c *Client) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("invalid interval")
	}
	from, to = from.UTC(), to.UTC()
	ex := c.ExchangeSymbol(symbol)

	expected := int(to.Sub(from) / c.cfg.BarDuration)
	if c.cache != nil {
		bars, err := c.cache.GetBars(ctx, ex, c.cfg.Interval, from, to)
		if err != nil {
			c.logger.Warnf("%s: can't read cached bars for %s", err, ex)
		} else if len(bars) > 0 && len(bars) >= expected {
			return bars, nil
		}
	}

	var bars []model.Bar
	start := from
	for start.Before(to) {
		batch, err := c.fetchKlines(ctx, symbol, start, to)
		if err != nil {
			return nil, err
		}
		for _, b := range batch {
			if !b.OpenTime.Before(from) && b.OpenTime.Before(to) {
				bars = append(bars, b)
			}
		}
		if len(batch) < _klinesLimit {
			break
		}
		start = batch[len(batch)-1].CloseTime
	}
	c.logger.Debugf("fetched %d bars for %s [%s, %s)", len(bars), ex, from, to)

	if c.cache != nil && len(bars) > 0 {
		// only closed bars are cached
		closed := bars
		for len(closed) > 0 && closed[len(closed)-1].CloseTime.After(time.Now()) {
			closed = closed[:len(closed)-1]
		}
		if err := c.cache.SaveBars(ctx, ex, c.cfg.Interval, closed); err != nil {
			c.logger.Warnf("%s: can't cache bars for %s", err, ex)
		}
	}
	return bars, nil
}

// BarsAround returns the bar covering ts together with its neighbours.
func (c *Client) BarsAround(ctx context.Context, symbol string, ts time.Time) ([]model.Bar, error) {
	start := ts.UTC().Truncate(c.cfg.BarDuration)
	return c.GetBars(ctx, symbol, start.Add(-c.cfg.BarDuration), start.Add(2*c.cfg.BarDuration))
}

var ErrNoBars = errors.New("no bars")

// PriceAt is the last price known at ts: the close of the latest finished
// bar, or the open of the bar covering ts when none finished yet.
func (c *Client) PriceAt(ctx context.Context, symbol string, ts time.Time) (float64, error) {
	bars, err := c.BarsAround(ctx, symbol, ts)
	if err != nil {
		return 0, err
	}
	return priceAt(bars, ts)
}

func priceAt(bars []model.Bar, ts time.Time) (float64, error) {
	var last *model.Bar
	for i := range bars {
		b := &bars[i]
		if !b.CloseTime.After(ts) {
			last = b
			continue
		}
		if b.Covers(ts) && last == nil {
			return b.Open, nil
		}
	}
	if last == nil {
		return 0, fmt.Errorf("%w: at %s", ErrNoBars, ts)
	}
	return last.Close, nil
}
