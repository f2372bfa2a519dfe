package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/execution"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/paper"
	"github.com/STTM-NSU/paper-trader/internal/risk"
	"github.com/STTM-NSU/paper-trader/internal/storage"
	"github.com/STTM-NSU/paper-trader/internal/telemetry"
	"github.com/bytedance/sonic"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	nop := logger.NewNop()
	m := telemetry.New()
	svc := paper.NewService(nop,
		storage.NewMemoryStore(),
		execution.NewSimulator(nop, config.DefaultExecutionConfig(), execution.NewRand(1)),
		risk.NewManager(nop, config.DefaultRiskConfig()),
		config.MetricsConfig{PeriodsPerYear: 365, TradeHistoryLimit: 10, AuditHistoryLimit: 10},
		paper.WithTelemetry(m),
	)
	srv := httptest.NewServer(NewRouter(svc, m.Handler(), nop))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

const _signal = `{"symbol":"BTC","direction":"long","confidence":80,"entry_price":50000,"stop_loss":49000}`

func TestPortfolioLifecycle(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/portfolios"

	code, body := do(t, http.MethodPost, base, `{"name":"alpha","starting_capital":100000}`)
	if code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, body)
	}
	var p model.Portfolio
	if err := sonic.Unmarshal(body, &p); err != nil {
		t.Fatal(err)
	}
	if p.Name != "alpha" || p.Cash != 100000 || p.MaxPositionSizePct != 5 {
		t.Errorf("created = %+v", p)
	}

	if code, _ := do(t, http.MethodPost, base, `{"name":"alpha","starting_capital":100000}`); code != http.StatusConflict {
		t.Errorf("duplicate create: %d", code)
	}

	code, body = do(t, http.MethodPost, base+"/alpha/signals", _signal)
	if code != http.StatusOK {
		t.Fatalf("signal: %d %s", code, body)
	}
	var res paper.TradeResult
	if err := sonic.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if res.Fill.Quantity != 0.1 || res.Fill.Price != 50000 {
		t.Errorf("fill = %+v", res.Fill)
	}

	code, body = do(t, http.MethodPost, base+"/alpha/prices", `{"prices":{"BTC":51000}}`)
	if code != http.StatusOK {
		t.Fatalf("prices: %d %s", code, body)
	}

	code, body = do(t, http.MethodGet, base+"/alpha", "")
	if code != http.StatusOK {
		t.Fatalf("status: %d %s", code, body)
	}
	var st paper.Status
	if err := sonic.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Positions) != 1 || st.Portfolio.Equity != 100100 || st.UnrealizedPnL != 100 {
		t.Errorf("status = %+v", st)
	}
	if !strings.Contains(string(body), `"profit_factor":"N/A"`) {
		t.Errorf("profit factor not rendered as N/A: %s", body)
	}

	code, body = do(t, http.MethodPost, base+"/alpha/breaker/reset", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"ARMED"`) {
		t.Errorf("reset: %d %s", code, body)
	}

	code, body = do(t, http.MethodGet, base, "")
	if code != http.StatusOK || !strings.Contains(string(body), `"alpha"`) {
		t.Errorf("list: %d %s", code, body)
	}

	if code, _ := do(t, http.MethodDelete, base+"/alpha", ""); code != http.StatusNoContent {
		t.Errorf("deactivate: %d", code)
	}
	if code, body := do(t, http.MethodPost, base+"/alpha/signals", _signal); code != http.StatusConflict {
		t.Errorf("signal on inactive: %d %s", code, body)
	}

	code, body = do(t, http.MethodGet, srv.URL+"/metrics", "")
	if code != http.StatusOK || !strings.Contains(string(body), "paper_trader_signals_total") {
		t.Errorf("metrics: %d", code)
	}
}

func TestErrorResponses(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/portfolios"
	if code, body := do(t, http.MethodPost, base, `{"name":"alpha","starting_capital":100000}`); code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, body)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
		rule   string
	}{
		{"oversized signal", http.MethodPost, "/alpha/signals",
			`{"symbol":"BTC","direction":"long","confidence":80,"entry_price":50000,"stop_loss":49000,"quantity":1}`,
			http.StatusUnprocessableEntity, "risk_limit_violation", "max_position_size"},
		{"invalid signal", http.MethodPost, "/alpha/signals",
			`{"symbol":"BTC","direction":"up","confidence":80,"entry_price":50000,"stop_loss":49000}`,
			http.StatusBadRequest, "validation_error", ""},
		{"bad json", http.MethodPost, "/alpha/signals", `{`, http.StatusBadRequest, "validation_error", ""},
		{"unknown portfolio", http.MethodGet, "/nope", "", http.StatusNotFound, "portfolio_not_found", ""},
		{"empty prices", http.MethodPost, "/alpha/prices", `{"prices":{}}`, http.StatusBadRequest, "validation_error", ""},
		{"bad price", http.MethodPost, "/alpha/prices", `{"prices":{"BTC":-1}}`, http.StatusBadRequest, "validation_error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, tt.method, base+tt.path, tt.body)
			if code != tt.status {
				t.Fatalf("status = %d, want %d: %s", code, tt.status, body)
			}
			var er ErrorResponse
			if err := sonic.Unmarshal(body, &er); err != nil {
				t.Fatal(err)
			}
			if er.Code != tt.code || er.Rule != tt.rule {
				t.Errorf("error = %+v", er)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewValidationError("x", "bad"), http.StatusBadRequest},
		{fmt.Errorf("%w: a", model.ErrPortfolioNotFound), http.StatusNotFound},
		{&model.RiskLimitViolation{Rule: model.RuleMaxDrawdown}, http.StatusUnprocessableEntity},
		{&model.BreakerTrippedError{Reason: "dd"}, http.StatusUnprocessableEntity},
		{&model.BreakerResetDeniedError{Reason: "dd"}, http.StatusConflict},
		{fmt.Errorf("%w: no bar", model.ErrInsufficientMarketData), http.StatusUnprocessableEntity},
		{model.NewPersistenceError("commit", errors.New("disk")), http.StatusInternalServerError},
		{fmt.Errorf("%w: can't lock", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPricesRequestTime(t *testing.T) {
	var req PricesRequest
	if err := sonic.UnmarshalString(`{"prices":{"BTC":1},"at":"2025-03-03T10:00:00Z"}`, &req); err != nil {
		t.Fatal(err)
	}
	if !req.At.Equal(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("at = %s", req.At)
	}
}
