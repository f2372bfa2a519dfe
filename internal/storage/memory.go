package storage

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
)

type memData struct {
	portfolios map[string]model.Portfolio // by id
	names      map[string]string          // name -> id
	positions  map[string]model.Position  // by id
	trades     map[string][]model.Trade
	events     map[string][]model.RiskAuditEvent
	curves     map[string][]model.EquityPoint
}

// clone copies the maps only. The history slices share their backing arrays with the published data:
// writers are serialized and only append past the published length, which no snapshot can see, and
// readers hand out copies.
func (d *memData) clone() *memData {
	return &memData{
		portfolios: maps.Clone(d.portfolios),
		names:      maps.Clone(d.names),
		positions:  maps.Clone(d.positions),
		trades:     maps.Clone(d.trades),
		events:     maps.Clone(d.events),
		curves:     maps.Clone(d.curves),
	}
}

// MemoryStore keeps everything in process. Writers work on a copy that replaces the current data on
// commit, so readers always see a whole transaction or none of it.
type MemoryStore struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	data    *memData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			portfolios: make(map[string]model.Portfolio),
			names:      make(map[string]string),
			positions:  make(map[string]model.Position),
			trades:     make(map[string][]model.Trade),
			events:     make(map[string][]model.RiskAuditEvent),
			curves:     make(map[string][]model.EquityPoint),
		},
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) current() *memData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *MemoryStore) CreatePortfolio(ctx context.Context, p model.Portfolio, initial model.EquityPoint) error {
	return s.WriteTx(ctx, func(tx Tx) error {
		d := tx.(*memTx).d
		if _, ok := d.names[p.Name]; ok {
			return fmt.Errorf("%w: %s", model.ErrPortfolioExists, p.Name)
		}
		d.portfolios[p.ID] = p
		d.names[p.Name] = p.ID
		return tx.AppendEquityPoint(ctx, initial)
	})
}

func (s *MemoryStore) ReadTx(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return model.NewPersistenceError("begin read", err)
	}
	return fn(&memTx{d: s.current()})
}

func (s *MemoryStore) WriteTx(ctx context.Context, fn func(Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return model.NewPersistenceError("begin write", err)
	}

	d := s.current().clone()
	if err := fn(&memTx{d: d}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return model.NewPersistenceError("commit", err)
	}

	s.mu.Lock()
	s.data = d
	s.mu.Unlock()
	return nil
}

type memTx struct {
	d *memData
}

func (t *memTx) requirePortfolio(op, id string) error {
	if _, ok := t.d.portfolios[id]; !ok {
		return model.NewPersistenceError(op, fmt.Errorf("unknown portfolio %q", id))
	}
	return nil
}

func (t *memTx) GetPortfolio(_ context.Context, name string) (model.Portfolio, error) {
	id, ok := t.d.names[name]
	if !ok {
		return model.Portfolio{}, fmt.Errorf("%w: %s", model.ErrPortfolioNotFound, name)
	}
	return t.d.portfolios[id], nil
}

func (t *memTx) ListPortfolios(_ context.Context) ([]model.Portfolio, error) {
	out := slices.Collect(maps.Values(t.d.portfolios))
	slices.SortFunc(out, func(a, b model.Portfolio) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (t *memTx) GetOpenPositions(_ context.Context, portfolioID string) ([]model.Position, error) {
	var out []model.Position
	for _, p := range t.d.positions {
		if p.PortfolioID == portfolioID && p.Status == model.PositionOpen {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.Position) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Symbol, b.Symbol)
	})
	return out, nil
}

func (t *memTx) GetTradeHistory(_ context.Context, portfolioID string, limit int) ([]model.Trade, error) {
	trades := t.d.trades[portfolioID]
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return slices.Clone(trades), nil
}

func (t *memTx) GetEquityCurve(_ context.Context, portfolioID string) ([]model.EquityPoint, error) {
	return slices.Clone(t.d.curves[portfolioID]), nil
}

func (t *memTx) GetLastEquityPoint(_ context.Context, portfolioID string) (*model.EquityPoint, error) {
	curve := t.d.curves[portfolioID]
	if len(curve) == 0 {
		return nil, nil
	}
	p := curve[len(curve)-1]
	return &p, nil
}

func (t *memTx) GetRiskAuditEvents(_ context.Context, portfolioID string, since time.Time, limit int) ([]model.RiskAuditEvent, error) {
	events := t.d.events[portfolioID]
	var out []model.RiskAuditEvent
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].CreatedAt.Before(since) {
			continue
		}
		out = append(out, events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) UpdatePortfolio(_ context.Context, p model.Portfolio) error {
	old, ok := t.d.portfolios[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrPortfolioNotFound, p.Name)
	}
	// identity and configuration are fixed at creation
	p.Name = old.Name
	p.StartingCapital = old.StartingCapital
	p.RiskLimits = old.RiskLimits
	p.CreatedAt = old.CreatedAt
	t.d.portfolios[p.ID] = p
	return nil
}

func (t *memTx) SavePosition(_ context.Context, p model.Position) error {
	if err := t.requirePortfolio("save position", p.PortfolioID); err != nil {
		return err
	}
	t.d.positions[p.ID] = p
	return nil
}

func (t *memTx) AppendTrade(_ context.Context, tr model.Trade) error {
	if err := t.requirePortfolio("append trade", tr.PortfolioID); err != nil {
		return err
	}
	trades := t.d.trades[tr.PortfolioID]
	if n := len(trades); n > 0 && trades[n-1].Seq >= tr.Seq {
		return model.NewPersistenceError("append trade", fmt.Errorf("duplicate trade seq %d", tr.Seq))
	}
	t.d.trades[tr.PortfolioID] = append(trades, tr)
	return nil
}

func (t *memTx) AppendRiskAuditEvent(_ context.Context, e model.RiskAuditEvent) error {
	if err := t.requirePortfolio("append risk audit event", e.PortfolioID); err != nil {
		return err
	}
	t.d.events[e.PortfolioID] = append(t.d.events[e.PortfolioID], e)
	return nil
}

func (t *memTx) AppendEquityPoint(_ context.Context, p model.EquityPoint) error {
	if err := t.requirePortfolio("append equity point", p.PortfolioID); err != nil {
		return err
	}
	curve := t.d.curves[p.PortfolioID]
	if n := len(curve); n > 0 && curve[n-1].Seq >= p.Seq {
		return model.NewPersistenceError("append equity point", fmt.Errorf("duplicate equity seq %d", p.Seq))
	}
	t.d.curves[p.PortfolioID] = append(curve, p)
	return nil
}
