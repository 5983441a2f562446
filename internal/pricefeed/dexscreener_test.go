package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testDex(url string) *DexScreener {
	return NewDexScreener(DexScreenerOptions{
		BaseURL:       url,
		MaxAttempts:   5,
		RetryBase:     time.Millisecond,
		RateLimitBase: time.Millisecond,
		Timeout:       time.Second,
		UserAgent:     "test",
	}, noopLogger())
}

func TestDexScreenerPicksDeepestSolanaPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, dexTokensPath) {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept header = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pairs":[
			{"chainId":"solana","dexId":"small","priceUsd":"1.10","liquidity":{"usd":100}},
			{"chainId":"ethereum","dexId":"eth","priceUsd":"9.99","liquidity":{"usd":999999}},
			{"chainId":"solana","dexId":"deep","priceUsd":"1.25","liquidity":{"usd":50000}},
			{"chainId":"solana","dexId":"noliq","priceUsd":"1.30"}
		]}`))
	}))
	defer srv.Close()

	price, err := testDex(srv.URL).Price(context.Background(), "Mint111")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("expected deepest pair price 1.25, got %s", price)
	}
}

func TestDexScreenerNoPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pairs":null}`))
	}))
	defer srv.Close()

	if _, err := testDex(srv.URL).Price(context.Background(), "Mint111"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestDexScreenerRejectsNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pairs":[{"chainId":"solana","priceUsd":"0"}]}`))
	}))
	defer srv.Close()

	if _, err := testDex(srv.URL).Price(context.Background(), "Mint111"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestDexScreenerRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"pairs":[{"chainId":"solana","priceUsd":"0.5"}]}`))
	}))
	defer srv.Close()

	price, err := testDex(srv.URL).Price(context.Background(), "Mint111")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("0.5")) || calls.Load() != 3 {
		t.Fatalf("unexpected price %s after %d calls", price, calls.Load())
	}
}

func TestDexScreenerGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := testDex(srv.URL).Price(context.Background(), "Mint111"); err == nil {
		t.Fatal("persistent 502 should fail")
	}
	if calls.Load() != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls.Load())
	}
}

func TestDexScreenerClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testDex(srv.URL).Price(context.Background(), "Mint111")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("400 must not be retried, got %d", calls.Load())
	}
}

func TestDexScreenerStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDexScreener(DexScreenerOptions{BaseURL: srv.URL, RetryBase: time.Hour, Timeout: time.Second}, noopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := d.Price(ctx, "Mint111"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancellation should abort the backoff wait")
	}
}

func TestAPIErrorIsRetryable(t *testing.T) {
	tests := []struct {
		code     int
		expected bool
	}{
		{500, true},
		{503, true},
		{429, true},
		{400, false},
		{404, false},
	}
	for _, tt := range tests {
		err := &APIError{StatusCode: tt.code}
		if got := err.IsRetryable(); got != tt.expected {
			t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
		}
	}
}
