// Package rates resolves currency exchange rates for wallet merge and
// conversion. It asks a live HTTP source first, caches answers, and falls
// back to a static table for common pairs when the source is unreachable.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"ledgerd/internal/cache"
	"ledgerd/internal/core"
)

// Source yields the multiplier that converts an amount in from-currency to
// to-currency. Implementations fail with core.ErrRateUnavailable when no
// rate can be obtained.
type Source interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// fallbackRates is the documented static table used when the live source is
// unreachable. Only common pairs are covered; anything else fails with
// core.ErrRateUnavailable once the live fetch has failed.
var fallbackRates = map[string]string{
	"USD/EUR": "0.92",
	"EUR/USD": "1.09",
	"USD/GBP": "0.79",
	"GBP/USD": "1.27",
	"USD/JPY": "150.4",
	"JPY/USD": "0.00665",
	"USD/VND": "24350",
	"VND/USD": "0.0000411",
	"EUR/GBP": "0.855",
	"GBP/EUR": "1.17",
}

const (
	fetchAttempts = 3
	retryDelay    = 500 * time.Millisecond
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      *cache.TTLCache[decimal.Decimal]
}

// NewClient builds a rate client against a latest-rates endpoint. The base
// currency is appended to baseURL, and the response carries a
// conversion_rates object keyed by currency code.
func NewClient(baseURL string, cacheTTL time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		cache:      cache.New[decimal.Decimal](256, cacheTTL),
	}
}

func (c *Client) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if !core.ValidCurrency(from) || !core.ValidCurrency(to) {
		return decimal.Zero, core.ErrInvalidCurrency
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := from + "/" + to
	if rate, ok := c.cache.Get(key); ok {
		return rate, nil
	}

	rate, err := c.fetchRate(ctx, from, to)
	if err == nil {
		c.cache.Set(key, rate)
		return rate, nil
	}
	slog.WarnContext(ctx, "Live exchange rate fetch failed, trying fallback table",
		"from", from,
		"to", to,
		"error", err)

	if s, ok := fallbackRates[key]; ok {
		rate := decimal.RequireFromString(s)
		slog.InfoContext(ctx, "Using fallback exchange rate",
			"from", from,
			"to", to,
			"rate", rate)
		return rate, nil
	}

	return decimal.Zero, fmt.Errorf("no rate for %s: %w", key, core.ErrRateUnavailable)
}

func (c *Client) fetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		rate, err := c.fetchOnce(ctx, from, to)
		if err == nil {
			return rate, nil
		}
		lastErr = err
		slog.DebugContext(ctx, "Exchange rate fetch attempt failed",
			"attempt", attempt+1,
			"error", err)
	}
	return decimal.Zero, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, from, to string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+from, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	var body struct {
		ConversionRates map[string]decimal.Decimal `json:"conversion_rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode rates: %w", err)
	}

	// Cache every pair the response covers; later lookups with the same base
	// currency stay local.
	for code, rate := range body.ConversionRates {
		if core.ValidCurrency(code) && rate.IsPositive() {
			c.cache.Set(from+"/"+code, rate)
		}
	}

	rate, ok := body.ConversionRates[to]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("currency %s missing from rate response", to)
	}
	return rate, nil
}

// Static is a fixed-table Source for tests and offline use.
type Static map[string]decimal.Decimal

func (s Static) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := s[from+"/"+to]
	if !ok {
		return decimal.Zero, core.ErrRateUnavailable
	}
	return rate, nil
}
