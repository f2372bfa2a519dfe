package api

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/STTM-NSU/paper-trader/internal/paper"
	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
)

type Service interface {
	CreatePortfolio(ctx context.Context, cfg config.PortfolioConfig) (model.Portfolio, error)
	ListPortfolios(ctx context.Context) ([]model.Portfolio, error)
	GetStatus(ctx context.Context, name string) (paper.Status, error)
	ExecuteSignal(ctx context.Context, name string, sig model.Signal) (paper.TradeResult, error)
	UpdatePositions(ctx context.Context, name string, prices map[string]float64, at time.Time) (paper.UpdateResult, error)
	ResetBreaker(ctx context.Context, name string) (model.CircuitBreaker, error)
	DeactivatePortfolio(ctx context.Context, name string) error
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Rule  string `json:"rule,omitempty"`
}

type PricesRequest struct {
	Prices map[string]float64 `json:"prices"`
	At     time.Time          `json:"at"`
}

type Handler struct {
	svc    Service
	logger logger.Logger
}

// NewRouter registers the portfolio API under /api/v1. metrics is mounted at /metrics when not nil.
func NewRouter(svc Service, metrics http.Handler, logger logger.Logger) *mux.Router {
	h := &Handler{svc: svc, logger: logger}

	router := mux.NewRouter()
	router.Use(h.recovery, h.logging)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/portfolios", h.ListPortfolios).Methods(http.MethodGet)
	api.HandleFunc("/portfolios", h.CreatePortfolio).Methods(http.MethodPost)
	api.HandleFunc("/portfolios/{name}", h.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/portfolios/{name}", h.DeactivatePortfolio).Methods(http.MethodDelete)
	api.HandleFunc("/portfolios/{name}/signals", h.ExecuteSignal).Methods(http.MethodPost)
	api.HandleFunc("/portfolios/{name}/prices", h.UpdatePositions).Methods(http.MethodPost)
	api.HandleFunc("/portfolios/{name}/breaker/reset", h.ResetBreaker).Methods(http.MethodPost)

	return router
}

func (h *Handler) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPortfolios(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Portfolio{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var cfg config.PortfolioConfig
	if !h.decode(w, r, &cfg) {
		return
	}
	p, err := h.svc.CreatePortfolio(r.Context(), cfg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStatus(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) DeactivatePortfolio(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivatePortfolio(r.Context(), mux.Vars(r)["name"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ExecuteSignal(w http.ResponseWriter, r *http.Request) {
	var sig model.Signal
	if !h.decode(w, r, &sig) {
		return
	}
	res, err := h.svc.ExecuteSignal(r.Context(), mux.Vars(r)["name"], sig)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) UpdatePositions(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Prices) == 0 {
		h.writeError(w, model.NewValidationError("prices", "is required"))
		return
	}
	res, err := h.svc.UpdatePositions(r.Context(), mux.Vars(r)["name"], req.Prices, req.At)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.ResetBreaker(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, b)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, model.NewValidationError("body", "is not valid json: "+err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		h.logger.Errorf("%s: can't encode response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Debugf("%s: can't write response", err)
	}
}

// StatusOf maps the error taxonomy to HTTP status codes and stable error codes.
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, model.ErrPortfolioNotFound):
		return http.StatusNotFound, "portfolio_not_found"
	case errors.Is(err, model.ErrPortfolioExists):
		return http.StatusConflict, "portfolio_exists"
	case errors.Is(err, model.ErrPortfolioInactive):
		return http.StatusConflict, "portfolio_inactive"
	case errors.Is(err, model.ErrBreakerTripped):
		return http.StatusUnprocessableEntity, "breaker_tripped"
	case errors.Is(err, model.ErrRiskLimitViolation):
		return http.StatusUnprocessableEntity, "risk_limit_violation"
	case errors.Is(err, model.ErrBreakerResetDenied):
		return http.StatusConflict, "breaker_reset_denied"
	case errors.Is(err, model.ErrInsufficientMarketData):
		return http.StatusUnprocessableEntity, "insufficient_market_data"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, model.ErrPersistence):
		return http.StatusInternalServerError, "persistence_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, code := StatusOf(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var v *model.RiskLimitViolation
	if errors.As(err, &v) {
		resp.Rule = string(v.Rule)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("%s: request failed", err)
	}
	h.writeJSON(w, status, resp)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.logger.Debugf("%s %s - %d - %s", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

func (h *Handler) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Errorf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
