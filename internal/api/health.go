package api

import (
	"sync"
	"time"

	"price-move-alerts/internal/service"
)

// HealthSnapshot is the body of the health routes.
type HealthSnapshot struct {
	Status         string    `json:"status"`
	Version        string    `json:"version"`
	UptimeSeconds  int64     `json:"uptimeSeconds"`
	ActiveMonitors int       `json:"activeMonitors"`
	Tokens         int       `json:"tokens"`
	LastPoll       time.Time `json:"lastPoll,omitempty"`
	LastPollMillis int64     `json:"lastPollMillis"`
	Polls          int64     `json:"polls"`
}

// Health tracks poll progress for the readiness routes.
type Health struct {
	version    string
	staleAfter time.Duration
	now        func() time.Time
	started    time.Time

	mu   sync.RWMutex
	last service.PollStats
	n    int64
}

// NewHealth starts the uptime clock. staleAfter bounds the age of the last poll
// before readiness fails; zero disables the check.
func NewHealth(version string, staleAfter time.Duration, now func() time.Time) *Health {
	if now == nil {
		now = time.Now
	}
	return &Health{
		version:    version,
		staleAfter: staleAfter,
		now:        now,
		started:    now(),
	}
}

// Observe records a finished poll. It satisfies service.PollObserver.
func (h *Health) Observe(st service.PollStats) {
	h.mu.Lock()
	h.last = st
	h.n++
	h.mu.Unlock()
}

// Ready reports whether a poll has completed recently.
func (h *Health) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return false
	}
	if h.staleAfter > 0 && h.now().Sub(h.last.At) > h.staleAfter {
		return false
	}
	return true
}

// Snapshot renders the current state.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Status:         "ok",
		Version:        h.version,
		UptimeSeconds:  int64(h.now().Sub(h.started) / time.Second),
		ActiveMonitors: h.last.Active,
		Tokens:         h.last.Tokens,
		LastPoll:       h.last.At,
		LastPollMillis: h.last.Duration.Milliseconds(),
		Polls:          h.n,
	}
}
