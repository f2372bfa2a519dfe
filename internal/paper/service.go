package paper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/execution"
	"github.com/STTM-NSU/paper-trader/internal/ledger"
	"github.com/STTM-NSU/paper-trader/internal/lock"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/performance"
	"github.com/STTM-NSU/paper-trader/internal/risk"
	"github.com/STTM-NSU/paper-trader/internal/storage"
	"github.com/STTM-NSU/paper-trader/internal/telemetry"
)

// BarSource supplies the bars historical fills are priced from.
type BarSource interface {
	BarsAround(ctx context.Context, symbol string, ts time.Time) ([]model.Bar, error)
}

// Service is the entry point for signals, status reads and breaker resets. Writes to one portfolio are
// serialized through the locker and committed in a single storage transaction.
type Service struct {
	logger     logger.Logger
	store      storage.Store
	locker     lock.Locker
	simulator  *execution.Simulator
	ledger     *ledger.Ledger
	risk       *risk.Manager
	calculator *performance.Calculator
	cfg        config.MetricsConfig

	bars      BarSource
	telemetry *telemetry.Metrics
	now       func() time.Time
}

type Option func(*Service)

func WithBarSource(b BarSource) Option {
	return func(s *Service) { s.bars = b }
}

func WithTelemetry(m *telemetry.Metrics) Option {
	return func(s *Service) { s.telemetry = m }
}

func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(logger logger.Logger,
	store storage.Store,
	simulator *execution.Simulator,
	riskManager *risk.Manager,
	cfg config.MetricsConfig,
	opts ...Option,
) *Service {
	s := &Service{
		logger:     logger,
		store:      store,
		locker:     lock.NewLocal(),
		simulator:  simulator,
		ledger:     ledger.New(logger, simulator.FeePct()),
		risk:       riskManager,
		calculator: performance.NewCalculator(cfg.PeriodsPerYear),
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockKey(name string) string {
	return "portfolio:" + name
}

func (s *Service) lock(ctx context.Context, name string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, lockKey(name))
	if err != nil {
		return nil, fmt.Errorf("%w: can't lock portfolio %s", err, name)
	}
	return unlock, nil
}

func load(ctx context.Context, r storage.Reader, name string) (ledger.State, error) {
	p, err := r.GetPortfolio(ctx, name)
	if err != nil {
		return ledger.State{}, err
	}
	positions, err := r.GetOpenPositions(ctx, p.ID)
	if err != nil {
		return ledger.State{}, err
	}
	last, err := r.GetLastEquityPoint(ctx, p.ID)
	if err != nil {
		return ledger.State{}, err
	}
	return ledger.State{Portfolio: p, Positions: positions, LastPoint: last}, nil
}

func (s *Service) loadActive(ctx context.Context, name string) (ledger.State, error) {
	var st ledger.State
	err := s.store.ReadTx(ctx, func(r storage.Reader) error {
		var err error
		st, err = load(ctx, r, name)
		return err
	})
	if err != nil {
		return ledger.State{}, err
	}
	if !st.Portfolio.Active {
		return ledger.State{}, fmt.Errorf("%w: %s", model.ErrPortfolioInactive, name)
	}
	return st, nil
}

// CreatePortfolio validates cfg, fills defaults and stores a fresh armed portfolio with its first equity point.
func (s *Service) CreatePortfolio(ctx context.Context, cfg config.PortfolioConfig) (model.Portfolio, error) {
	if err := cfg.ValidateAndSetup(); err != nil {
		return model.Portfolio{}, err
	}
	st := ledger.State{Portfolio: ledger.NewPortfolio(cfg, s.now())}
	initial := s.ledger.InitialPoint(&st)
	if err := s.store.CreatePortfolio(ctx, st.Portfolio, initial); err != nil {
		return model.Portfolio{}, err
	}
	s.logger.Infof("portfolio %s created: capital %v, mode %s", st.Portfolio.Name, st.Portfolio.StartingCapital, st.Portfolio.ExecutionMode)
	s.telemetry.SetPortfolio(st.Portfolio)
	return st.Portfolio, nil
}

// EnsurePortfolio creates the portfolio unless one with the same name already exists.
func (s *Service) EnsurePortfolio(ctx context.Context, cfg config.PortfolioConfig) error {
	_, err := s.CreatePortfolio(ctx, cfg)
	if errors.Is(err, model.ErrPortfolioExists) {
		s.logger.Debugf("portfolio %s already exists", cfg.Name)
		return nil
	}
	return err
}

func (s *Service) ListPortfolios(ctx context.Context) ([]model.Portfolio, error) {
	var out []model.Portfolio
	err := s.store.ReadTx(ctx, func(r storage.Reader) error {
		var err error
		out, err = r.ListPortfolios(ctx)
		return err
	})
	return out, err
}

// OpenSymbols lists the symbols with an open position, sorted.
func (s *Service) OpenSymbols(ctx context.Context, name string) ([]string, error) {
	var symbols []string
	err := s.store.ReadTx(ctx, func(r storage.Reader) error {
		st, err := load(ctx, r, name)
		if err != nil {
			return err
		}
		for _, pos := range st.Positions {
			symbols = append(symbols, pos.Symbol)
		}
		return nil
	})
	slices.Sort(symbols)
	return symbols, err
}

func (s *Service) DeactivatePortfolio(ctx context.Context, name string) error {
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.WriteTx(ctx, func(tx storage.Tx) error {
		p, err := tx.GetPortfolio(ctx, name)
		if err != nil {
			return err
		}
		if !p.Active {
			return nil
		}
		p.Active = false
		p.UpdatedAt = s.now().UTC()
		s.logger.Infof("portfolio %s deactivated", name)
		return tx.UpdatePortfolio(ctx, p)
	})
}

// changes is everything one operation writes; it is committed in one transaction.
type changes struct {
	portfolio model.Portfolio
	positions []model.Position
	trades    []model.Trade
	point     *model.EquityPoint
	events    []model.RiskAuditEvent
}

func (s *Service) commit(ctx context.Context, c changes) error {
	return s.store.WriteTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdatePortfolio(ctx, c.portfolio); err != nil {
			return err
		}
		for _, pos := range c.positions {
			if err := tx.SavePosition(ctx, pos); err != nil {
				return err
			}
		}
		for _, t := range c.trades {
			if err := tx.AppendTrade(ctx, t); err != nil {
				return err
			}
		}
		if c.point != nil {
			if err := tx.AppendEquityPoint(ctx, *c.point); err != nil {
				return err
			}
		}
		for _, e := range c.events {
			if err := tx.AppendRiskAuditEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// evaluateBreaker counts critical events in the breaker window, stored and pending, and trips the breaker
// of st when a condition holds. The trip event, if any, is appended to pending.
func (s *Service) evaluateBreaker(ctx context.Context, st *ledger.State, pending []model.RiskAuditEvent, at time.Time) ([]model.RiskAuditEvent, error) {
	if st.Portfolio.CircuitBreaker.Tripped() {
		return pending, nil
	}

	since := s.risk.CriticalWindowStart(st.Portfolio.CircuitBreaker, at)
	var stored []model.RiskAuditEvent
	err := s.store.ReadTx(ctx, func(r storage.Reader) error {
		var err error
		stored, err = r.GetRiskAuditEvents(ctx, st.Portfolio.ID, since, 0)
		return err
	})
	if err != nil {
		return pending, err
	}

	n := risk.CountCritical(stored, since) + risk.CountCritical(pending, since)
	b, ev := s.risk.EvaluateBreaker(st.Portfolio, n, at)
	st.Portfolio.CircuitBreaker = b
	if ev != nil {
		pending = append(pending, *ev)
		s.telemetry.ObserveBreakerTrip(st.Portfolio.Name)
	}
	return pending, nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
