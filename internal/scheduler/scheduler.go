package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/paper"
	"github.com/robfig/cron/v3"
)

type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

type Portfolios interface {
	ListPortfolios(ctx context.Context) ([]model.Portfolio, error)
	OpenSymbols(ctx context.Context, name string) ([]string, error)
	UpdatePositions(ctx context.Context, name string, prices map[string]float64, at time.Time) (paper.UpdateResult, error)
}

// Scheduler periodically marks every active portfolio with open positions to market.
type Scheduler struct {
	cron   *cron.Cron
	cfg    config.SchedulerConfig
	logger logger.Logger
	svc    Portfolios
	prices PriceSource
	now    func() time.Time
}

type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugf("cron: %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorf("%s: cron: %s %v", err, msg, keysAndValues)
}

func New(cfg config.SchedulerConfig, svc Portfolios, prices PriceSource, logger logger.Logger) *Scheduler {
	cl := cronLogger{l: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		cfg:    cfg,
		logger: logger,
		svc:    svc,
		prices: prices,
		now:    time.Now,
	}
}

// Start registers the mark job; jobs run with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.MarkSpec, func() {
		if err := s.MarkAll(ctx); err != nil {
			s.logger.Errorf("%s: mark to market", err)
		}
	}); err != nil {
		return fmt.Errorf("%w: can't schedule mark job %q", err, s.cfg.MarkSpec)
	}
	s.logger.Infof("scheduler started: mark %s", s.cfg.MarkSpec)
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Infof("scheduler stopped")
}

// MarkAll fetches prices for every open symbol in one request and updates each portfolio. A failing
// portfolio does not stop the others.
func (s *Scheduler) MarkAll(ctx context.Context) error {
	portfolios, err := s.svc.ListPortfolios(ctx)
	if err != nil {
		return err
	}

	open := make(map[string][]string)
	var all []string
	for _, p := range portfolios {
		if !p.Active {
			continue
		}
		symbols, err := s.svc.OpenSymbols(ctx, p.Name)
		if err != nil {
			s.logger.Errorf("%s: can't list symbols of %s", err, p.Name)
			continue
		}
		if len(symbols) == 0 {
			continue
		}
		open[p.Name] = symbols
		all = append(all, symbols...)
	}
	if len(all) == 0 {
		return nil
	}
	slices.Sort(all)
	all = slices.Compact(all)

	prices, err := s.prices.GetPrices(ctx, all)
	if err != nil {
		return fmt.Errorf("%w: can't get prices", err)
	}

	at := s.now()
	var errs []error
	for name, symbols := range open {
		sub := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			if p, ok := prices[sym]; ok {
				sub[sym] = p
			}
		}
		res, err := s.svc.UpdatePositions(ctx, name, sub, at)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		for _, t := range res.Trades {
			s.logger.Infof("portfolio %s: %s closed %s at %v", name, t.Source, t.Symbol, t.FillPrice)
		}
		for _, e := range res.Events {
			if e.Action == model.ActionBreakerTripped {
				s.logger.Warnf("portfolio %s: %s", name, e.Message)
			}
		}
	}
	return errors.Join(errs...)
}
