package marketdata

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/jmoiron/sqlx"
)

// BarCache keeps fetched bars so replays do not hit the exchange twice.
type BarCache interface {
	GetBars(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.Bar, error)
	SaveBars(ctx context.Context, symbol, interval string, bars []model.Bar) error
}

const (
	_queryBars = `SELECT open_time, close_time, open, high, low, close, volume FROM bars
		WHERE symbol = ? AND bar_interval = ? AND open_time >= ? AND open_time < ? ORDER BY open_time`
	_saveBar = `INSERT INTO bars (symbol, bar_interval, open_time, close_time, open, high, low, close, volume)
		VALUES (:symbol, :bar_interval, :open_time, :close_time, :open, :high, :low, :close, :volume)
		ON CONFLICT (symbol, bar_interval, open_time) DO NOTHING`
)

type barRow struct {
	Symbol   string `db:"symbol"`
	Interval string `db:"bar_interval"`
	model.Bar
}

type SQLBarCache struct {
	db *sqlx.DB
}

func NewSQLBarCache(db *sqlx.DB) *SQLBarCache {
	return &SQLBarCache{db: db}
}

func (c *SQLBarCache) GetBars(ctx context.Context, symbol, interval string, from, to time.Time) ([]model.Bar, error) {
	var bars []model.Bar
	if err := c.db.SelectContext(ctx, &bars, c.db.Rebind(_queryBars), symbol, interval, from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("%w: can't query bars", err)
	}
	return bars, nil
}

func (c *SQLBarCache) SaveBars(ctx context.Context, symbol, interval string, bars []model.Bar) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: can't begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, b := range bars {
		b.OpenTime, b.CloseTime = b.OpenTime.UTC(), b.CloseTime.UTC()
		if _, err := tx.NamedExecContext(ctx, _saveBar, barRow{Symbol: symbol, Interval: interval, Bar: b}); err != nil {
			return fmt.Errorf("%w: can't save bar", err)
		}
	}
	return tx.Commit()
}

type MemoryBarCache struct {
	mu   sync.RWMutex
	bars map[string]map[int64]model.Bar // symbol/interval -> open time
}

func NewMemoryBarCache() *MemoryBarCache {
	return &MemoryBarCache{bars: make(map[string]map[int64]model.Bar)}
}

func (c *MemoryBarCache) GetBars(_ context.Context, symbol, interval string, from, to time.Time) ([]model.Bar, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []model.Bar
	for _, b := range c.bars[symbol+"/"+interval] {
		if !b.OpenTime.Before(from) && b.OpenTime.Before(to) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b model.Bar) int { return a.OpenTime.Compare(b.OpenTime) })
	return out, nil
}

func (c *MemoryBarCache) SaveBars(_ context.Context, symbol, interval string, bars []model.Bar) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := symbol + "/" + interval
	m, ok := c.bars[key]
	if !ok {
		m = make(map[int64]model.Bar)
		c.bars[key] = m
	}
	for _, b := range bars {
		m[b.OpenTime.UnixMilli()] = b
	}
	return nil
}
