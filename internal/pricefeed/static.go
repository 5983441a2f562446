package pricefeed

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Static serves scripted prices. Each token walks its sequence and then
// repeats the last value.
type Static struct {
	mu     sync.Mutex
	prices map[string][]decimal.Decimal
	errs   map[string]error
	calls  map[string]int
}

// NewStatic returns an empty provider.
func NewStatic() *Static {
	return &Static{
		prices: make(map[string][]decimal.Decimal),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// Set scripts the prices returned for token.
func (s *Static) Set(token string, prices ...decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[token] = append([]decimal.Decimal(nil), prices...)
	delete(s.errs, token)
}

// Fail makes token return err until Set is called again.
func (s *Static) Fail(token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[token] = err
}

// Calls counts lookups for token.
func (s *Static) Calls(token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[token]
}

// Price implements Provider.
func (s *Static) Price(ctx context.Context, token string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Decimal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[token]++
	if err, ok := s.errs[token]; ok {
		return decimal.Decimal{}, err
	}
	seq := s.prices[token]
	if len(seq) == 0 {
		return decimal.Decimal{}, ErrNoPrice
	}
	price := seq[0]
	if len(seq) > 1 {
		s.prices[token] = seq[1:]
	}
	return price, nil
}

var _ Provider = (*Static)(nil)
