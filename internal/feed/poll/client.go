// Package poll implements the HTTP polling fallback for market data:
// K-line snapshots, trade ticks and order-book depth. Every provider
// envelope shape is normalized at this boundary; transient failures are
// retried with exponential backoff, permanent ones surface immediately.
package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"silvermon/internal/model"
	"silvermon/internal/provider"
)

// Error classification for callers and the retry loop.
var (
	// ErrTransient marks timeouts, 429 and 5xx responses: retried.
	ErrTransient = errors.New("poll: transient error")
	// ErrPermanent marks other 4xx and unrecognized response schemas:
	// never retried.
	ErrPermanent = errors.New("poll: permanent error")
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryBase  = 500 * time.Millisecond
	defaultRetryCeil  = 8 * time.Second
)

// Config configures a polling client for one provider base URL.
type Config struct {
	BaseURL    string
	Market     model.Market
	Timeout    time.Duration
	MaxRetries int

	// RetryBase is the initial backoff delay, doubled per attempt up to
	// an 8s ceiling. Defaults to 500ms.
	RetryBase time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client fetches market data over HTTP.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a polling client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: hc}
}

// Klines fetches a bounded K-line snapshot:
// GET /kline?symbol=&interval=&limit=.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) (model.Series, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", fmt.Sprint(limit))

	body, err := c.get(ctx, "/kline", q)
	if err != nil {
		return nil, err
	}
	return normalizeKlines(body)
}

// TradeTick fetches the most recent trade price:
// GET /trade-tick?symbol=.
func (c *Client) TradeTick(ctx context.Context, symbol string) (model.Tick, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	body, err := c.get(ctx, "/trade-tick", q)
	if err != nil {
		return model.Tick{}, err
	}
	return c.normalizeTick(body)
}

// DepthTick fetches an order-book snapshot:
// GET /depth-tick?symbol=.
func (c *Client) DepthTick(ctx context.Context, symbol string) (model.Depth, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	body, err := c.get(ctx, "/depth-tick", q)
	if err != nil {
		return model.Depth{}, err
	}
	return c.normalizeDepth(body)
}

// get performs the request with the transient-retry policy.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.cfg.BaseURL + path + "?" + q.Encode()

	var lastErr error
	delay := c.cfg.RetryBase
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > defaultRetryCeil {
				delay = defaultRetryCeil
			}
		}

		body, err := c.doOnce(ctx, u)
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: retries exhausted: %v", ErrTransient, lastErr)
}

func (c *Client) doOnce(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, truncate(body))
	}
}

// wireBar mirrors the provider K-line object shape with flexible numbers.
type wireBar struct {
	TS       provider.Number `json:"ts"`
	Open     provider.Number `json:"open"`
	Close    provider.Number `json:"close"`
	High     provider.Number `json:"high"`
	Low      provider.Number `json:"low"`
	Volume   provider.Number `json:"volume"`
	Turnover provider.Number `json:"turnover"`
}

// normalizeKlines maps every known K-line envelope to a Series:
// a bare array, {data: [...]}, or a {code, data} envelope. Anything else
// is a loud permanent error rather than silently empty data.
func normalizeKlines(body []byte) (model.Series, error) {
	var rows []wireBar

	if err := json.Unmarshal(body, &rows); err == nil {
		return toSeries(rows), nil
	}

	var wrapped struct {
		Code *int            `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil || len(wrapped.Data) == 0 {
		return nil, fmt.Errorf("%w: unrecognized kline envelope: %s", ErrPermanent, truncate(body))
	}
	if wrapped.Code != nil && *wrapped.Code != 0 {
		return nil, fmt.Errorf("%w: kline envelope code %d", ErrPermanent, *wrapped.Code)
	}
	if err := json.Unmarshal(wrapped.Data, &rows); err != nil {
		return nil, fmt.Errorf("%w: kline data: %v", ErrPermanent, err)
	}
	return toSeries(rows), nil
}

func toSeries(rows []wireBar) model.Series {
	bars := make(model.Series, len(rows))
	for i, r := range rows {
		bars[i] = model.Bar{
			TS:       int64(r.TS.Float()),
			Open:     r.Open.Float(),
			Close:    r.Close.Float(),
			High:     r.High.Float(),
			Low:      r.Low.Float(),
			Volume:   r.Volume.Float(),
			Turnover: r.Turnover.Float(),
		}
	}
	return bars
}

// normalizeTick parses the {ret, data:{tick_list:[...]}} envelope. Only
// ret == 200 with a non-empty tick_list is a valid tick.
func (c *Client) normalizeTick(body []byte) (model.Tick, error) {
	var env struct {
		Ret  int `json:"ret"`
		Data struct {
			TickList []struct {
				Code  string          `json:"code"`
				Price provider.Number `json:"price"`
			} `json:"tick_list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return model.Tick{}, fmt.Errorf("%w: tick envelope: %v", ErrPermanent, err)
	}
	if env.Ret != 200 || len(env.Data.TickList) == 0 {
		return model.Tick{}, fmt.Errorf("%w: tick envelope ret=%d list=%d",
			ErrPermanent, env.Ret, len(env.Data.TickList))
	}
	first := env.Data.TickList[0]
	return model.Tick{
		Market: c.cfg.Market,
		Symbol: first.Code,
		Price:  first.Price.Float(),
		TS:     time.Now().UTC(),
	}, nil
}

// normalizeDepth parses the analogous {ret, data:{depth_list:[...]}}
// envelope.
func (c *Client) normalizeDepth(body []byte) (model.Depth, error) {
	var env struct {
		Ret  int `json:"ret"`
		Data struct {
			DepthList []struct {
				Code string               `json:"code"`
				Bids [][2]provider.Number `json:"bids"`
				Asks [][2]provider.Number `json:"asks"`
			} `json:"depth_list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return model.Depth{}, fmt.Errorf("%w: depth envelope: %v", ErrPermanent, err)
	}
	if env.Ret != 200 || len(env.Data.DepthList) == 0 {
		return model.Depth{}, fmt.Errorf("%w: depth envelope ret=%d list=%d",
			ErrPermanent, env.Ret, len(env.Data.DepthList))
	}
	first := env.Data.DepthList[0]
	d := model.Depth{Market: c.cfg.Market, Symbol: first.Code, TS: time.Now().UTC()}
	for _, b := range first.Bids {
		d.Bids = append(d.Bids, model.DepthLevel{Price: b[0].Float(), Volume: b[1].Float()})
	}
	for _, a := range first.Asks {
		d.Asks = append(d.Asks, model.DepthLevel{Price: a[0].Float(), Volume: a[1].Float()})
	}
	return d, nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
