package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	_portfolioColumns = `id, name, starting_capital, cash, equity, peak_equity, day_start_equity, day_started_at,
		execution_mode, max_position_size_pct, max_total_exposure_pct, max_daily_loss_pct, max_drawdown_pct,
		breaker_state, breaker_reason, breaker_tripped_at, breaker_reset_at, trade_seq, equity_seq, active,
		created_at, updated_at`
	_positionColumns = `id, portfolio_id, symbol, direction, quantity, avg_entry_price, stop_loss, take_profit,
		mark_price, realized_pnl, status, opened_at, closed_at, updated_at`
	_tradeColumns = `id, portfolio_id, position_id, seq, symbol, direction, kind, source, signal_price, fill_price,
		requested_quantity, quantity, slippage, latency_ms, partial, fee, realized_pnl, executed_at`
	_eventColumns = `id, portfolio_id, rule, severity, value, limit_value, action, message, trade_id, created_at`
	_pointColumns = `portfolio_id, seq, ts, equity, cash, peak_equity`
)

const (
	_queryPortfolio       = "SELECT " + _portfolioColumns + " FROM portfolios WHERE name = ?"
	_queryPortfolios      = "SELECT " + _portfolioColumns + " FROM portfolios ORDER BY created_at, name"
	_queryPortfolioExists = "SELECT COUNT(*) FROM portfolios WHERE name = ?"
	_queryOpenPositions   = "SELECT " + _positionColumns + " FROM positions WHERE portfolio_id = ? AND status = 'open' ORDER BY opened_at, symbol"
	_queryTrades          = "SELECT " + _tradeColumns + " FROM trades WHERE portfolio_id = ? ORDER BY seq DESC"
	_queryEquityCurve     = "SELECT " + _pointColumns + " FROM equity_points WHERE portfolio_id = ? ORDER BY seq"
	_queryLastPoint       = "SELECT " + _pointColumns + " FROM equity_points WHERE portfolio_id = ? ORDER BY seq DESC LIMIT 1"
	_queryEvents          = "SELECT " + _eventColumns + " FROM risk_audit_events WHERE portfolio_id = ? AND created_at >= ? ORDER BY created_at DESC, id"

	_insertPortfolio = `INSERT INTO portfolios (` + _portfolioColumns + `) VALUES (
		:id, :name, :starting_capital, :cash, :equity, :peak_equity, :day_start_equity, :day_started_at,
		:execution_mode, :max_position_size_pct, :max_total_exposure_pct, :max_daily_loss_pct, :max_drawdown_pct,
		:breaker_state, :breaker_reason, :breaker_tripped_at, :breaker_reset_at, :trade_seq, :equity_seq, :active,
		:created_at, :updated_at)`
	_updatePortfolio = `UPDATE portfolios SET
		cash = :cash,
		equity = :equity,
		peak_equity = :peak_equity,
		day_start_equity = :day_start_equity,
		day_started_at = :day_started_at,
		execution_mode = :execution_mode,
		breaker_state = :breaker_state,
		breaker_reason = :breaker_reason,
		breaker_tripped_at = :breaker_tripped_at,
		breaker_reset_at = :breaker_reset_at,
		trade_seq = :trade_seq,
		equity_seq = :equity_seq,
		active = :active,
		updated_at = :updated_at
		WHERE id = :id`
	_savePosition = `INSERT INTO positions (` + _positionColumns + `) VALUES (
		:id, :portfolio_id, :symbol, :direction, :quantity, :avg_entry_price, :stop_loss, :take_profit,
		:mark_price, :realized_pnl, :status, :opened_at, :closed_at, :updated_at)
		ON CONFLICT (id)
		DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avg_entry_price = EXCLUDED.avg_entry_price,
			stop_loss = EXCLUDED.stop_loss,
			take_profit = EXCLUDED.take_profit,
			mark_price = EXCLUDED.mark_price,
			realized_pnl = EXCLUDED.realized_pnl,
			status = EXCLUDED.status,
			closed_at = EXCLUDED.closed_at,
			updated_at = EXCLUDED.updated_at`
	_insertTrade = `INSERT INTO trades (` + _tradeColumns + `) VALUES (
		:id, :portfolio_id, :position_id, :seq, :symbol, :direction, :kind, :source, :signal_price, :fill_price,
		:requested_quantity, :quantity, :slippage, :latency_ms, :partial, :fee, :realized_pnl, :executed_at)`
	_insertEvent = `INSERT INTO risk_audit_events (` + _eventColumns + `) VALUES (
		:id, :portfolio_id, :rule, :severity, :value, :limit_value, :action, :message, :trade_id, :created_at)`
	_insertPoint = `INSERT INTO equity_points (` + _pointColumns + `) VALUES (
		:portfolio_id, :seq, :ts, :equity, :cash, :peak_equity)`
)

type SQLStore struct {
	db     *sqlx.DB
	logger logger.Logger
}

func NewSQLStore(db *sqlx.DB, logger logger.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: logger,
	}
}

// OpenSQLite opens a file database with foreign keys enforced and a single writer connection.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: can't open sqlite %s", err, path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreatePortfolio(ctx context.Context, p model.Portfolio, initial model.EquityPoint) error {
	return s.WriteTx(ctx, func(tx Tx) error {
		t := tx.(*sqlTx)
		var n int
		if err := t.tx.GetContext(ctx, &n, t.tx.Rebind(_queryPortfolioExists), p.Name); err != nil {
			return model.NewPersistenceError("create portfolio", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", model.ErrPortfolioExists, p.Name)
		}
		if _, err := t.tx.NamedExecContext(ctx, _insertPortfolio, normalizePortfolio(p)); err != nil {
			return model.NewPersistenceError("create portfolio", err)
		}
		return t.AppendEquityPoint(ctx, initial)
	})
}

func (s *SQLStore) ReadTx(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return model.NewPersistenceError("begin read", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	return fn(&sqlTx{tx: tx})
}

func (s *SQLStore) WriteTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.NewPersistenceError("begin write", err)
	}
	if err := fn(&sqlTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Errorf("can't rollback: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return model.NewPersistenceError("commit", err)
	}
	return nil
}

type sqlTx struct {
	tx *sqlx.Tx
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func normalizePortfolio(p model.Portfolio) model.Portfolio {
	p.DayStartedAt = utc(p.DayStartedAt)
	p.TrippedAt = utcPtr(p.TrippedAt)
	p.ResetAt = utcPtr(p.ResetAt)
	p.CreatedAt = utc(p.CreatedAt)
	p.UpdatedAt = utc(p.UpdatedAt)
	return p
}

func (t *sqlTx) GetPortfolio(ctx context.Context, name string) (model.Portfolio, error) {
	var p model.Portfolio
	if err := t.tx.GetContext(ctx, &p, t.tx.Rebind(_queryPortfolio), name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, fmt.Errorf("%w: %s", model.ErrPortfolioNotFound, name)
		}
		return p, model.NewPersistenceError("get portfolio", err)
	}
	return p, nil
}

func (t *sqlTx) ListPortfolios(ctx context.Context) ([]model.Portfolio, error) {
	var out []model.Portfolio
	if err := t.tx.SelectContext(ctx, &out, _queryPortfolios); err != nil {
		return nil, model.NewPersistenceError("list portfolios", err)
	}
	return out, nil
}

func (t *sqlTx) GetOpenPositions(ctx context.Context, portfolioID string) ([]model.Position, error) {
	var out []model.Position
	if err := t.tx.SelectContext(ctx, &out, t.tx.Rebind(_queryOpenPositions), portfolioID); err != nil {
		return nil, model.NewPersistenceError("get open positions", err)
	}
	return out, nil
}

func (t *sqlTx) GetTradeHistory(ctx context.Context, portfolioID string, limit int) ([]model.Trade, error) {
	query, args := _queryTrades, []any{portfolioID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var out []model.Trade
	if err := t.tx.SelectContext(ctx, &out, t.tx.Rebind(query), args...); err != nil {
		return nil, model.NewPersistenceError("get trade history", err)
	}
	slices.Reverse(out)
	return out, nil
}

func (t *sqlTx) GetEquityCurve(ctx context.Context, portfolioID string) ([]model.EquityPoint, error) {
	var out []model.EquityPoint
	if err := t.tx.SelectContext(ctx, &out, t.tx.Rebind(_queryEquityCurve), portfolioID); err != nil {
		return nil, model.NewPersistenceError("get equity curve", err)
	}
	return out, nil
}

func (t *sqlTx) GetLastEquityPoint(ctx context.Context, portfolioID string) (*model.EquityPoint, error) {
	var p model.EquityPoint
	if err := t.tx.GetContext(ctx, &p, t.tx.Rebind(_queryLastPoint), portfolioID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, model.NewPersistenceError("get last equity point", err)
	}
	return &p, nil
}

func (t *sqlTx) GetRiskAuditEvents(ctx context.Context, portfolioID string, since time.Time, limit int) ([]model.RiskAuditEvent, error) {
	query, args := _queryEvents, []any{portfolioID, utc(since)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var out []model.RiskAuditEvent
	if err := t.tx.SelectContext(ctx, &out, t.tx.Rebind(query), args...); err != nil {
		return nil, model.NewPersistenceError("get risk audit events", err)
	}
	return out, nil
}

func (t *sqlTx) UpdatePortfolio(ctx context.Context, p model.Portfolio) error {
	res, err := t.tx.NamedExecContext(ctx, _updatePortfolio, normalizePortfolio(p))
	if err != nil {
		return model.NewPersistenceError("update portfolio", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.NewPersistenceError("update portfolio", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrPortfolioNotFound, p.Name)
	}
	return nil
}

func (t *sqlTx) SavePosition(ctx context.Context, p model.Position) error {
	p.OpenedAt = utc(p.OpenedAt)
	p.ClosedAt = utcPtr(p.ClosedAt)
	p.UpdatedAt = utc(p.UpdatedAt)
	if _, err := t.tx.NamedExecContext(ctx, _savePosition, p); err != nil {
		return model.NewPersistenceError("save position", err)
	}
	return nil
}

func (t *sqlTx) AppendTrade(ctx context.Context, tr model.Trade) error {
	tr.ExecutedAt = utc(tr.ExecutedAt)
	if _, err := t.tx.NamedExecContext(ctx, _insertTrade, tr); err != nil {
		return model.NewPersistenceError("append trade", err)
	}
	return nil
}

func (t *sqlTx) AppendRiskAuditEvent(ctx context.Context, e model.RiskAuditEvent) error {
	e.CreatedAt = utc(e.CreatedAt)
	if _, err := t.tx.NamedExecContext(ctx, _insertEvent, e); err != nil {
		return model.NewPersistenceError("append risk audit event", err)
	}
	return nil
}

func (t *sqlTx) AppendEquityPoint(ctx context.Context, p model.EquityPoint) error {
	p.Ts = utc(p.Ts)
	if _, err := t.tx.NamedExecContext(ctx, _insertPoint, p); err != nil {
		return model.NewPersistenceError("append equity point", err)
	}
	return nil
}
