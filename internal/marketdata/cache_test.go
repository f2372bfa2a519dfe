package marketdata

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/jmoiron/sqlx"
)

func TestMemoryBarCache(t *testing.T) {
	c := NewMemoryBarCache()
	ctx := context.Background()
	bars := []model.Bar{
		{OpenTime: _t0.Add(time.Hour), CloseTime: _t0.Add(2 * time.Hour), Close: 2},
		{OpenTime: _t0, CloseTime: _t0.Add(time.Hour), Close: 1},
	}
	if err := c.SaveBars(ctx, "BTCUSDT", "1h", bars); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetBars(ctx, "BTCUSDT", "1h", _t0, _t0.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Close != 1 || got[1].Close != 2 {
		t.Errorf("got %+v", got)
	}

	other, _ := c.GetBars(ctx, "BTCUSDT", "4h", _t0, _t0.Add(2*time.Hour))
	if len(other) != 0 {
		t.Errorf("interval leak: %+v", other)
	}
}

func TestSQLBarCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	c := NewSQLBarCache(sqlx.NewDb(db, "postgres"))
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM bars")).
		WithArgs("BTCUSDT", "1h", _t0, _t0.Add(time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"open_time", "close_time", "open", "high", "low", "close", "volume"}).
			AddRow(_t0, _t0.Add(time.Hour), 1.0, 2.0, 0.5, 1.5, 10.0))

	got, err := c.GetBars(ctx, "BTCUSDT", "1h", _t0, _t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(got) != 1 || got[0].Close != 1.5 {
		t.Errorf("got %+v", got)
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bars")).
		WithArgs("BTCUSDT", "1h", _t0, _t0.Add(time.Hour), 1.0, 2.0, 0.5, 1.5, 10.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := c.SaveBars(ctx, "BTCUSDT", "1h", got); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
