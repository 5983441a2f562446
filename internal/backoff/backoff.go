// Package backoff holds the retry timing helpers shared by price lookups,
// baseline acquisition and alert delivery.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// DefaultJitterPct is applied by Policy when JitterPct is left at zero.
const DefaultJitterPct = 0.2

// Policy describes a bounded exponential backoff.
type Policy struct {
	Base      time.Duration
	Max       time.Duration
	Attempts  int
	JitterPct float64
}

// Delay returns the jittered wait before retry number attempt (zero based).
func (p Policy) Delay(attempt int) time.Duration {
	return Jitter(p.Raw(attempt), p.jitter())
}

// Raw returns min(Base*2^attempt, Max) without jitter.
func (p Policy) Raw(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
		if delay <= 0 {
			// overflow
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}

// MaxAttempts returns the attempt budget, at least one.
func (p Policy) MaxAttempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

func (p Policy) jitter() float64 {
	if p.JitterPct <= 0 {
		return DefaultJitterPct
	}
	return p.JitterPct
}

// Jitter spreads d uniformly over [d-d*pct, d+d*pct], never below zero.
func Jitter(d time.Duration, pct float64) time.Duration {
	if d <= 0 || pct <= 0 {
		if d < 0 {
			return 0
		}
		return d
	}
	spread := float64(d) * pct * (rand.Float64()*2 - 1)
	out := time.Duration(float64(d) + spread)
	if out < 0 {
		return 0
	}
	return out
}

// Sleep waits for d or until ctx is done, whichever comes first.
// A cancelled ctx returns ctx.Err() so the caller abandons the retry.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
