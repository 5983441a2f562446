package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-move-alerts/internal/alerts"
	"price-move-alerts/internal/backoff"
)

const dexTokensPath = "/latest/dex/tokens/"

// DexScreenerOptions parameterise the DexScreener provider.
type DexScreenerOptions struct {
	BaseURL       string
	ChainID       string
	MaxAttempts   int
	RetryBase     time.Duration
	RateLimitBase time.Duration
	Timeout       time.Duration
	UserAgent     string
}

// DexScreener quotes tokens from the public DexScreener API.
type DexScreener struct {
	opts    DexScreenerOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewDexScreener constructs the provider.
func NewDexScreener(opts DexScreenerOptions, logger zerolog.Logger) *DexScreener {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if opts.RateLimitBase <= 0 {
		opts.RateLimitBase = 2 * time.Second
	}
	if opts.ChainID == "" {
		opts.ChainID = "solana"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com"
	}

	return &DexScreener{
		opts:    opts,
		logger:  logger.With().Str("component", "dexscreener").Logger(),
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: baseURL,
	}
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// Price implements Provider. 429 and 5xx answers and network failures are retried.
func (d *DexScreener) Price(ctx context.Context, token string) (decimal.Decimal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return decimal.Decimal{}, errors.New("token is required")
	}

	limited := backoff.Policy{Base: d.opts.RateLimitBase, Max: time.Minute}
	failing := backoff.Policy{Base: d.opts.RetryBase, Max: 30 * time.Second}
	logToken := alerts.TruncateToken(token, 6)

	var lastErr error
	for attempt := 0; attempt < d.opts.MaxAttempts; attempt++ {
		price, err := d.fetch(ctx, token)
		if err == nil {
			return price, nil
		}
		if errors.Is(err, ErrNoPrice) || ctx.Err() != nil {
			return decimal.Decimal{}, err
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return decimal.Decimal{}, err
		}
		lastErr = err
		if attempt == d.opts.MaxAttempts-1 {
			break
		}

		policy := failing
		if apiErr != nil && apiErr.StatusCode == http.StatusTooManyRequests {
			policy = limited
		}
		wait := policy.Delay(attempt)
		d.logger.Warn().Err(err).
			Str("token", logToken).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Msg("price fetch failed, retrying")
		if err := backoff.Sleep(ctx, wait); err != nil {
			return decimal.Decimal{}, err
		}
	}

	d.logger.Error().Err(lastErr).Str("token", logToken).Int("attempts", d.opts.MaxAttempts).Msg("price fetch gave up")
	return decimal.Decimal{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (d *DexScreener) fetch(ctx context.Context, token string) (decimal.Decimal, error) {
	endpoint := d.baseURL + dexTokensPath + url.PathEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var parsed dexResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode dexscreener response: %w", err)
	}
	return d.bestPrice(parsed.Pairs)
}

// bestPrice picks the highest-liquidity pair on the configured chain.
func (d *DexScreener) bestPrice(pairs []dexPair) (decimal.Decimal, error) {
	candidates := make([]dexPair, 0, len(pairs))
	for _, p := range pairs {
		if p.ChainID == d.opts.ChainID && p.PriceUSD != "" {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return decimal.Decimal{}, ErrNoPrice
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return liquidity(candidates[i]) > liquidity(candidates[j])
	})

	price, err := decimal.NewFromString(candidates[0].PriceUSD)
	if err != nil || !price.IsPositive() {
		d.logger.Warn().Str("price", candidates[0].PriceUSD).Msg("invalid price value received")
		return decimal.Decimal{}, ErrNoPrice
	}
	return price, nil
}

func liquidity(p dexPair) float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}

var _ Provider = (*DexScreener)(nil)
