package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/postgres"
	"github.com/jmoiron/sqlx"
)

// OpenDB connects to the database cfg selects and applies the schema. It returns nil for the memory driver.
func OpenDB(ctx context.Context, cfg config.StorageConfig, logger logger.Logger) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case config.Memory:
		return nil, nil
	case config.Postgres:
		pgConfig := postgres.NewConfigFromEnv().Setup()
		logger.Debugf("trying to connect to db with: %s", pgConfig)
		db, err = postgres.NewDB(ctx, pgConfig)
	case config.SQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: can't create sqlite dir", err)
			}
		}
		db, err = OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open returns the portfolio store cfg selects together with its database, nil for the memory driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger logger.Logger) (Store, *sqlx.DB, error) {
	db, err := OpenDB(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if db == nil {
		return NewMemoryStore(), nil, nil
	}
	return NewSQLStore(db, logger), db, nil
}
