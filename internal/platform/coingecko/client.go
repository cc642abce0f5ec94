// Package coingecko is the REST client for the public CoinGecko v3 API, which
// supplies reference prices, OHLC candles and the markets listing.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

const rateLimitKey = "coingecko"

// Config holds client settings.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.coingecko.com/api/v3".
	BaseURL string
	// APIKey is sent as x-cg-demo-api-key when set.
	APIKey          string
	Timeout         time.Duration
	RateLimit       int
	RateLimitWindow time.Duration
}

// Client calls the CoinGecko API. When a RateLimiter is attached every
// request waits for a slot in the shared window first.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// NewClient creates a client. limiter may be nil.
func NewClient(cfg Config, limiter domain.RateLimiter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

// SimplePriceRaw returns the undecoded /simple/price payload for ids,
// including the 24h change, volume, high and low.
func (c *Client) SimplePriceRaw(ctx context.Context, ids ...string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("coingecko: simple price: no ids: %w", domain.ErrInvalidInput)
	}
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_change", "true")
	params.Set("include_24hr_vol", "true")
	params.Set("include_high_24h", "true")
	params.Set("include_low_24h", "true")

	body, err := c.doGet(ctx, "/simple/price?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("coingecko: simple price: %w", err)
	}
	return body, nil
}

// SimplePrice is SimplePriceRaw decoded.
func (c *Client) SimplePrice(ctx context.Context, ids ...string) (domain.PriceFeedResponse, error) {
	body, err := c.SimplePriceRaw(ctx, ids...)
	if err != nil {
		return nil, err
	}
	var out domain.PriceFeedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("coingecko: decode simple price: %w: %v", domain.ErrDecode, err)
	}
	return out, nil
}

// OHLCRaw returns the undecoded [ts, o, h, l, c] tuples for id over days.
func (c *Client) OHLCRaw(ctx context.Context, id string, days int) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("coingecko: ohlc: empty id: %w", domain.ErrInvalidInput)
	}
	if days <= 0 {
		days = 90
	}
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("days", strconv.Itoa(days))

	path := fmt.Sprintf("/coins/%s/ohlc?%s", url.PathEscape(id), params.Encode())
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("coingecko: ohlc %s: %w", id, err)
	}
	return body, nil
}

// apiMarket is one row of /coins/markets. Numeric fields can be null.
type apiMarket struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	CurrentPrice             *float64 `json:"current_price"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
	MarketCap                *float64 `json:"market_cap"`
	TotalVolume              *float64 `json:"total_volume"`
	High24h                  *float64 `json:"high_24h"`
	Low24h                   *float64 `json:"low_24h"`
}

func (m apiMarket) toDomain() domain.MarketSummary {
	return domain.MarketSummary{
		ID:                       m.ID,
		Symbol:                   strings.ToUpper(m.Symbol),
		Name:                     m.Name,
		CurrentPrice:             deref(m.CurrentPrice),
		PriceChangePercentage24h: deref(m.PriceChangePercentage24h),
		MarketCap:                deref(m.MarketCap),
		TotalVolume:              deref(m.TotalVolume),
		High24h:                  deref(m.High24h),
		Low24h:                   deref(m.Low24h),
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// Markets returns the top perPage coins by market cap.
func (c *Client) Markets(ctx context.Context, perPage int) ([]domain.MarketSummary, error) {
	if perPage <= 0 {
		perPage = 20
	}
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", "1")
	params.Set("sparkline", "false")
	params.Set("price_change_percentage", "24h")

	body, err := c.doGet(ctx, "/coins/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("coingecko: markets: %w", err)
	}

	var rows []apiMarket
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("coingecko: decode markets: %w: %v", domain.ErrDecode, err)
	}
	out := make([]domain.MarketSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// doGet performs a GET request and returns the body. Transport failures and
// non-2xx statuses wrap domain.ErrUpstreamFetch.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil && c.cfg.RateLimit > 0 {
		if err := c.limiter.Wait(ctx, rateLimitKey, c.cfg.RateLimit, c.cfg.RateLimitWindow); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrUpstreamFetch, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %w: status 429", domain.ErrUpstreamFetch, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrUpstreamFetch, resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
