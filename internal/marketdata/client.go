package marketdata

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/model"
	"github.com/bytedance/sonic"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const (
	_tickerPriceURL = "/api/v3/ticker/price"
	_klinesURL      = "/api/v3/klines"
	_klinesLimit    = 1000
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Client reads prices and OHLCV bars from a Binance-compatible REST API.
type Client struct {
	c           *resty.Client
	cfg         config.MarketDataConfig
	logger      logger.Logger
	rateLimiter ratelimit.Limiter
	cache       BarCache
}

func decodeJSON(r io.Reader, v any) error {
	return sonic.ConfigDefault.NewDecoder(r).Decode(v)
}

// NewClient builds a client; cache may be nil.
func NewClient(cfg config.MarketDataConfig, cache BarCache, logger logger.Logger) *Client {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.Address).
		SetTimeout(cfg.Timeout).
		AddContentTypeDecoder("json", decodeJSON)

	return &Client{
		c:           client,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: ratelimit.New(cfg.RequestsPerMinute, ratelimit.Per(time.Minute)),
		cache:       cache,
	}
}

func (c *Client) Close() error {
	return c.c.Close()
}

// ExchangeSymbol maps a signal symbol (BTC) to the exchange pair (BTCUSDT).
func (c *Client) ExchangeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if c.cfg.SymbolSuffix != "" && !strings.HasSuffix(s, c.cfg.SymbolSuffix) {
		s += c.cfg.SymbolSuffix
	}
	return s
}

func (c *Client) get(ctx context.Context, url string, params map[string]string, result any) error {
	c.rateLimiter.Take()
	resp, err := c.c.R().
		SetQueryParams(params).
		SetResult(result).
		SetError(&apiError{}).
		SetContext(ctx).
		Get(url)
	if err != nil {
		return fmt.Errorf("%w: can't send request %s", err, url)
	}
	defer resp.Body.Close()

	c.logger.Debugf("got response %s status: %s, %s", url, resp.Status(), resp.Duration())

	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Msg != "" {
			return fmt.Errorf("%s (code %d): %s request error", e.Msg, e.Code, url)
		}
		return fmt.Errorf("%s request error: %s", url, resp.Status())
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%s unexpected request error: %s", url, resp.Status())
	}
	return nil
}

func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid price %q", s)
	}
	return v, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var res tickerPrice
	if err := c.get(ctx, _tickerPriceURL, map[string]string{"symbol": c.ExchangeSymbol(symbol)}, &res); err != nil {
		return 0, err
	}
	return parsePrice(res.Price)
}

// GetPrices returns last prices keyed by the symbols as given.
func (c *Client) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	bySymbol := make(map[string]string, len(symbols))
	exchange := make([]string, 0, len(symbols))
	for _, s := range symbols {
		ex := c.ExchangeSymbol(s)
		if _, ok := bySymbol[ex]; !ok {
			exchange = append(exchange, ex)
		}
		bySymbol[ex] = s
	}
	param, err := sonic.MarshalString(exchange)
	if err != nil {
		return nil, fmt.Errorf("%w: can't encode symbols", err)
	}

	var res []tickerPrice
	if err := c.get(ctx, _tickerPriceURL, map[string]string{"symbols": param}, &res); err != nil {
		return nil, err
	}
	for _, t := range res {
		s, ok := bySymbol[t.Symbol]
		if !ok {
			continue
		}
		v, err := parsePrice(t.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, t.Symbol)
		}
		out[s] = v
	}
	return out, nil
}

func num(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected kline field %T", v)
	}
}

// parseKline reads one kline row: [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []any) (model.Bar, error) {
	if len(row) < 7 {
		return model.Bar{}, fmt.Errorf("short kline row of %d fields", len(row))
	}
	var f [7]float64
	for i := range f {
		v, err := num(row[i])
		if err != nil {
			return model.Bar{}, err
		}
		f[i] = v
	}
	return model.Bar{
		OpenTime: time.UnixMilli(int64(f[0])).UTC(),
		// exchange close time is the last millisecond of the bar
		CloseTime: time.UnixMilli(int64(f[6]) + 1).UTC(),
		Open:      f[1],
		High:      f[2],
		Low:       f[3],
		Close:     f[4],
		Volume:    f[5],
	}, nil
}

func (c *Client) fetchKlines(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	var rows [][]any
	params := map[string]string{
		"symbol":    c.ExchangeSymbol(symbol),
		"interval":  c.cfg.Interval,
		"startTime": strconv.FormatInt(from.UnixMilli(), 10),
		"endTime":   strconv.FormatInt(to.UnixMilli()-1, 10),
		"limit":     strconv.Itoa(_klinesLimit),
	}
	if err := c.get(ctx, _klinesURL, params, &rows); err != nil {
		return nil, err
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, row := range rows {
		b, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("%w: can't parse kline", err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}
