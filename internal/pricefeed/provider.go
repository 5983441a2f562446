// Package pricefeed looks up current USD prices for tokens.
package pricefeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNoPrice means the source answered but had no usable quote for the token.
var ErrNoPrice = errors.New("pricefeed: no price available")

// Provider returns the current USD price of a token. Any error means the
// price is unavailable for this tick.
type Provider interface {
	Price(ctx context.Context, token string) (decimal.Decimal, error)
}

// APIError is a non-2xx answer from an HTTP price source.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("price api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
