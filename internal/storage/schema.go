package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is shared by postgres and sqlite: only types both understand are used.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS portfolios (
		id                     TEXT PRIMARY KEY,
		name                   TEXT NOT NULL UNIQUE,
		starting_capital       DOUBLE PRECISION NOT NULL,
		cash                   DOUBLE PRECISION NOT NULL,
		equity                 DOUBLE PRECISION NOT NULL,
		peak_equity            DOUBLE PRECISION NOT NULL,
		day_start_equity       DOUBLE PRECISION NOT NULL,
		day_started_at         TIMESTAMP NOT NULL,
		execution_mode         TEXT NOT NULL,
		max_position_size_pct  DOUBLE PRECISION NOT NULL,
		max_total_exposure_pct DOUBLE PRECISION NOT NULL,
		max_daily_loss_pct     DOUBLE PRECISION NOT NULL,
		max_drawdown_pct       DOUBLE PRECISION NOT NULL,
		breaker_state          TEXT NOT NULL,
		breaker_reason         TEXT NOT NULL DEFAULT '',
		breaker_tripped_at     TIMESTAMP NULL,
		breaker_reset_at       TIMESTAMP NULL,
		trade_seq              BIGINT NOT NULL DEFAULT 0,
		equity_seq             BIGINT NOT NULL DEFAULT 0,
		active                 BOOLEAN NOT NULL,
		created_at             TIMESTAMP NOT NULL,
		updated_at             TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id              TEXT PRIMARY KEY,
		portfolio_id    TEXT NOT NULL REFERENCES portfolios (id),
		symbol          TEXT NOT NULL,
		direction       TEXT NOT NULL,
		quantity        DOUBLE PRECISION NOT NULL,
		avg_entry_price DOUBLE PRECISION NOT NULL,
		stop_loss       DOUBLE PRECISION NOT NULL,
		take_profit     DOUBLE PRECISION NOT NULL,
		mark_price      DOUBLE PRECISION NOT NULL,
		realized_pnl    DOUBLE PRECISION NOT NULL,
		status          TEXT NOT NULL,
		opened_at       TIMESTAMP NOT NULL,
		closed_at       TIMESTAMP NULL,
		updated_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS positions_portfolio_status ON positions (portfolio_id, status)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id                 TEXT PRIMARY KEY,
		portfolio_id       TEXT NOT NULL REFERENCES portfolios (id),
		position_id        TEXT NOT NULL,
		seq                BIGINT NOT NULL,
		symbol             TEXT NOT NULL,
		direction          TEXT NOT NULL,
		kind               TEXT NOT NULL,
		source             TEXT NOT NULL,
		signal_price       DOUBLE PRECISION NOT NULL,
		fill_price         DOUBLE PRECISION NOT NULL,
		requested_quantity DOUBLE PRECISION NOT NULL,
		quantity           DOUBLE PRECISION NOT NULL,
		slippage           DOUBLE PRECISION NOT NULL,
		latency_ms         BIGINT NOT NULL,
		partial            BOOLEAN NOT NULL,
		fee                DOUBLE PRECISION NOT NULL,
		realized_pnl       DOUBLE PRECISION NULL,
		executed_at        TIMESTAMP NOT NULL,
		UNIQUE (portfolio_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS risk_audit_events (
		id           TEXT PRIMARY KEY,
		portfolio_id TEXT NOT NULL REFERENCES portfolios (id),
		rule         TEXT NOT NULL,
		severity     TEXT NOT NULL,
		value        DOUBLE PRECISION NOT NULL,
		limit_value  DOUBLE PRECISION NOT NULL,
		action       TEXT NOT NULL,
		message      TEXT NOT NULL,
		trade_id     TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS risk_audit_events_portfolio_created ON risk_audit_events (portfolio_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS equity_points (
		portfolio_id TEXT NOT NULL REFERENCES portfolios (id),
		seq          BIGINT NOT NULL,
		ts           TIMESTAMP NOT NULL,
		equity       DOUBLE PRECISION NOT NULL,
		cash         DOUBLE PRECISION NOT NULL,
		peak_equity  DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (portfolio_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS bars (
		symbol       TEXT NOT NULL,
		bar_interval TEXT NOT NULL,
		open_time    TIMESTAMP NOT NULL,
		close_time   TIMESTAMP NOT NULL,
		open         DOUBLE PRECISION NOT NULL,
		high         DOUBLE PRECISION NOT NULL,
		low          DOUBLE PRECISION NOT NULL,
		close        DOUBLE PRECISION NOT NULL,
		volume       DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (symbol, bar_interval, open_time)
	)`,
}

func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: can't apply schema", err)
		}
	}
	return nil
}
