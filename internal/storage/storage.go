package storage

import (
	"context"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/model"
)

type Reader interface {
	GetPortfolio(ctx context.Context, name string) (model.Portfolio, error)
	ListPortfolios(ctx context.Context) ([]model.Portfolio, error)
	GetOpenPositions(ctx context.Context, portfolioID string) ([]model.Position, error)
	// GetTradeHistory returns the latest limit trades in execution order; limit <= 0 returns all.
	GetTradeHistory(ctx context.Context, portfolioID string, limit int) ([]model.Trade, error)
	GetEquityCurve(ctx context.Context, portfolioID string) ([]model.EquityPoint, error)
	GetLastEquityPoint(ctx context.Context, portfolioID string) (*model.EquityPoint, error)
	// GetRiskAuditEvents returns events created at or after since, newest first.
	GetRiskAuditEvents(ctx context.Context, portfolioID string, since time.Time, limit int) ([]model.RiskAuditEvent, error)
}

type Tx interface {
	Reader
	UpdatePortfolio(ctx context.Context, p model.Portfolio) error
	SavePosition(ctx context.Context, p model.Position) error
	AppendTrade(ctx context.Context, t model.Trade) error
	AppendRiskAuditEvent(ctx context.Context, e model.RiskAuditEvent) error
	AppendEquityPoint(ctx context.Context, p model.EquityPoint) error
}

// Store is the persistence collaborator. Everything written inside one WriteTx commits together or
// not at all; ReadTx observes a consistent snapshot.
type Store interface {
	CreatePortfolio(ctx context.Context, p model.Portfolio, initial model.EquityPoint) error
	ReadTx(ctx context.Context, fn func(Reader) error) error
	WriteTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}
