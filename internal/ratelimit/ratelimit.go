// Package ratelimit admits caller commands through per-caller token buckets.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultPerMinute is the command budget per caller.
	DefaultPerMinute = 20
	// DefaultIdle is how long an untouched bucket survives Cleanup.
	DefaultIdle = time.Hour
)

// Decision is the outcome of one TryConsume.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one bucket per caller. Buckets start full.
type Limiter struct {
	perMinute int
	idle      time.Duration
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New builds a limiter refilling perMinute tokens per minute.
func New(perMinute int, idle time.Duration, now func() time.Time) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	if idle <= 0 {
		idle = DefaultIdle
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		perMinute: perMinute,
		idle:      idle,
		now:       now,
		buckets:   make(map[string]*bucket),
	}
}

func (l *Limiter) bucketLocked(caller string, now time.Time) *bucket {
	b, ok := l.buckets[caller]
	if !ok {
		lim := rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.perMinute)
		b = &bucket{limiter: lim}
		l.buckets[caller] = b
	}
	b.lastSeen = now
	return b
}

// TryConsume takes one token for caller when available. A denied call consumes nothing.
func (l *Limiter) TryConsume(caller string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucketLocked(caller, now)

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false}
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: ceilMillis(wait),
		}
	}
	return Decision{
		Allowed:   true,
		Remaining: remaining(b.limiter, now),
	}
}

// Remaining reports the whole tokens caller could spend now.
func (l *Limiter) Remaining(caller string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[caller]
	if !ok {
		return l.perMinute
	}
	return remaining(b.limiter, l.now())
}

// Reset refills caller's bucket.
func (l *Limiter) Reset(caller string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, caller)
}

// Cleanup evicts buckets idle for longer than the idle horizon.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for caller, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, caller)
			evicted++
		}
	}
	return evicted
}

// Len is the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func remaining(lim *rate.Limiter, now time.Time) int {
	tokens := lim.TokensAt(now)
	if tokens <= 0 {
		return 0
	}
	return int(math.Floor(tokens))
}

func ceilMillis(d time.Duration) time.Duration {
	if rem := d % time.Millisecond; rem != 0 {
		d += time.Millisecond - rem
	}
	return d
}
