package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/jmoiron/sqlx"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "postgres"), logger.NewNop()), mock
}

var portfolioRowColumns = []string{
	"id", "name", "starting_capital", "cash", "equity", "peak_equity", "day_start_equity", "day_started_at",
	"execution_mode", "max_position_size_pct", "max_total_exposure_pct", "max_daily_loss_pct", "max_drawdown_pct",
	"breaker_state", "breaker_reason", "breaker_tripped_at", "breaker_reset_at", "trade_seq", "equity_seq", "active",
	"created_at", "updated_at",
}

func TestSQLGetPortfolio(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`(?s)SELECT .* FROM portfolios WHERE name = \$1`).
					WithArgs("main").
					WillReturnRows(sqlmock.NewRows(portfolioRowColumns).AddRow(
						"p1", "main", 1000.0, 900.0, 950.0, 1000.0, 1000.0, now,
						"realistic", 5.0, 80.0, 5.0, 10.0,
						"TRIPPED", "drawdown", now, nil, int64(4), int64(6), true,
						now, now,
					))
				mock.ExpectRollback()
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`(?s)SELECT .* FROM portfolios WHERE name = \$1`).
					WithArgs("main").
					WillReturnRows(sqlmock.NewRows(portfolioRowColumns))
				mock.ExpectRollback()
			},
			wantErr: model.ErrPortfolioNotFound,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`(?s)SELECT .* FROM portfolios`).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: model.ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.mockSetup(mock)

			var got model.Portfolio
			err := s.ReadTx(context.Background(), func(r Reader) error {
				var err error
				got, err = r.GetPortfolio(context.Background(), "main")
				return err
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.ExecutionMode != model.ModeRealistic || !got.Tripped() || got.TrippedAt == nil || got.ResetAt != nil {
					t.Errorf("portfolio = %+v", got)
				}
				if got.MaxDrawdownPct != 10 || got.TradeSeq != 4 {
					t.Errorf("portfolio = %+v", got)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLWriteTxCommitsOrRollsBack(t *testing.T) {
	p, _ := testPortfolio("main")
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE portfolios SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO trades`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`(?s)INSERT INTO positions .* ON CONFLICT \(id\)`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WriteTx(ctx, func(tx Tx) error {
			if err := tx.UpdatePortfolio(ctx, p); err != nil {
				return err
			}
			if err := tx.AppendTrade(ctx, model.Trade{ID: "t", PortfolioID: p.ID, Seq: 1}); err != nil {
				return err
			}
			return tx.SavePosition(ctx, model.Position{ID: "pos", PortfolioID: p.ID})
		})
		if err != nil {
			t.Fatalf("WriteTx: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("insert fails", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE portfolios SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO trades`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := s.WriteTx(ctx, func(tx Tx) error {
			if err := tx.UpdatePortfolio(ctx, p); err != nil {
				return err
			}
			return tx.AppendTrade(ctx, model.Trade{ID: "t", PortfolioID: p.ID, Seq: 1})
		})
		var perr *model.PersistenceError
		if !errors.As(err, &perr) || perr.Op != "append trade" {
			t.Fatalf("err = %v, want append trade PersistenceError", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("commit fails", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO risk_audit_events`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := s.WriteTx(ctx, func(tx Tx) error {
			return tx.AppendRiskAuditEvent(ctx, model.RiskAuditEvent{ID: "e", PortfolioID: p.ID})
		})
		if !errors.Is(err, model.ErrPersistence) {
			t.Fatalf("err = %v, want ErrPersistence", err)
		}
	})

	t.Run("missing portfolio", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE portfolios SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.WriteTx(ctx, func(tx Tx) error { return tx.UpdatePortfolio(ctx, p) })
		if !errors.Is(err, model.ErrPortfolioNotFound) {
			t.Fatalf("err = %v, want ErrPortfolioNotFound", err)
		}
	})
}

func TestSQLCreatePortfolioExists(t *testing.T) {
	s, mock := newMockStore(t)
	p, initial := testPortfolio("main")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM portfolios WHERE name = \$1`).
		WithArgs("main").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	if err := s.CreatePortfolio(context.Background(), p, initial); !errors.Is(err, model.ErrPortfolioExists) {
		t.Fatalf("err = %v, want ErrPortfolioExists", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLTradeHistoryIsChronological(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "portfolio_id", "position_id", "seq", "symbol", "direction", "kind", "source", "signal_price", "fill_price",
		"requested_quantity", "quantity", "slippage", "latency_ms", "partial", "fee", "realized_pnl", "executed_at"}

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM trades WHERE portfolio_id = \$1 ORDER BY seq DESC LIMIT \$2`).
		WithArgs("p1", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("t5", "p1", "x", int64(5), "BTC", "short", "close", "signal", 1.0, 1.0, 1.0, 1.0, 0.0, int64(0), false, 0.0, 3.5, now).
			AddRow("t4", "p1", "x", int64(4), "BTC", "long", "open", "signal", 1.0, 1.0, 1.0, 1.0, 0.0, int64(0), false, 0.0, nil, now))
	mock.ExpectRollback()

	var trades []model.Trade
	err := s.ReadTx(context.Background(), func(r Reader) error {
		var err error
		trades, err = r.GetTradeHistory(context.Background(), "p1", 2)
		return err
	})
	if err != nil {
		t.Fatalf("ReadTx: %v", err)
	}
	if len(trades) != 2 || trades[0].Seq != 4 || trades[1].Seq != 5 {
		t.Fatalf("trades = %+v", trades)
	}
	if trades[0].Closed() || !trades[1].Closed() {
		t.Errorf("realized pnl mapping wrong: %+v", trades)
	}
}
