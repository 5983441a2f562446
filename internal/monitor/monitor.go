// Package monitor defines the tracked unit: one token watched for one owner
// relative to a baseline price.
package monitor

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-move-alerts/internal/alerts"
)

// DefaultWindow is how long a monitor stays live after its baseline.
const DefaultWindow = 24 * time.Hour

// Identity keys a monitor. Owner is empty in single-user mode.
type Identity struct {
	Owner string
	Token string
}

// Key is the document map key for the identity.
func (id Identity) Key() string {
	return id.Owner + "/" + id.Token
}

func (id Identity) String() string {
	if id.Owner == "" {
		return id.Token
	}
	return id.Key()
}

// ParseKey reverses Identity.Key.
func ParseKey(key string) (Identity, bool) {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return Identity{}, false
	}
	return Identity{Owner: key[:idx], Token: key[idx+1:]}, key[idx+1:] != ""
}

// Phase is the lifecycle position of a monitor.
type Phase string

const (
	PhasePendingBaseline Phase = "PENDING_BASELINE"
	PhaseActive          Phase = "ACTIVE"
	PhaseExpired         Phase = "EXPIRED"
	PhaseStopped         Phase = "STOPPED"
)

// Monitor is the persisted record for one identity.
type Monitor struct {
	Owner         string          `json:"owner,omitempty"`
	Token         string          `json:"token"`
	BaselinePrice decimal.Decimal `json:"baselinePrice"`
	BaselineTime  time.Time       `json:"baselineTime"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	LastUpdated   time.Time       `json:"lastUpdated"`
	MaxPrice      decimal.Decimal `json:"maxPrice"`
	MinPrice      decimal.Decimal `json:"minPrice"`
	FiredAlerts   []alerts.Kind   `json:"firedAlerts"`
}

// New starts a monitor at baseline; min, max and last all equal the baseline.
func New(id Identity, baseline decimal.Decimal, now time.Time) Monitor {
	now = now.UTC()
	return Monitor{
		Owner:         id.Owner,
		Token:         id.Token,
		BaselinePrice: baseline,
		BaselineTime:  now,
		LastPrice:     baseline,
		LastUpdated:   now,
		MaxPrice:      baseline,
		MinPrice:      baseline,
		FiredAlerts:   []alerts.Kind{},
	}
}

// Identity returns the monitor's key pair.
func (m Monitor) Identity() Identity {
	return Identity{Owner: m.Owner, Token: m.Token}
}

// Baseline implements alerts.Subject.
func (m Monitor) Baseline() decimal.Decimal {
	return m.BaselinePrice
}

// HasFired implements alerts.Subject.
func (m Monitor) HasFired(kind alerts.Kind) bool {
	for _, k := range m.FiredAlerts {
		if k == kind {
			return true
		}
	}
	return false
}

// Observe records price, widening min/max.
func (m *Monitor) Observe(price decimal.Decimal, now time.Time) {
	m.LastPrice = price
	m.LastUpdated = now.UTC()
	if price.GreaterThan(m.MaxPrice) {
		m.MaxPrice = price
	}
	if price.LessThan(m.MinPrice) {
		m.MinPrice = price
	}
}

// MarkFired adds kind once and reports whether it was new.
func (m *Monitor) MarkFired(kind alerts.Kind) bool {
	if m.HasFired(kind) {
		return false
	}
	m.FiredAlerts = append(m.FiredAlerts, kind)
	return true
}

// Clone returns a deep copy safe to hand to callers.
func (m Monitor) Clone() Monitor {
	out := m
	out.FiredAlerts = append([]alerts.Kind{}, m.FiredAlerts...)
	return out
}

// Elapsed is the time since the baseline was recorded.
func (m Monitor) Elapsed(now time.Time) time.Duration {
	return now.Sub(m.BaselineTime)
}

// Live reports whether now is still inside the window.
func (m Monitor) Live(now time.Time, window time.Duration) bool {
	return m.Elapsed(now) < window
}

// Remaining is the time left in the window, floored at zero.
func (m Monitor) Remaining(now time.Time, window time.Duration) time.Duration {
	left := window - m.Elapsed(now)
	if left < 0 {
		return 0
	}
	return left
}

// PercentChange of the last price against the baseline.
func (m Monitor) PercentChange() decimal.Decimal {
	return alerts.PercentChange(m.BaselinePrice, m.LastPrice)
}

// Normalize drops unknown kinds and duplicates and restores the min/max bracket.
// It is applied to records read back from storage.
func (m *Monitor) Normalize() {
	seen := make(map[alerts.Kind]bool, len(m.FiredAlerts))
	kept := make([]alerts.Kind, 0, len(m.FiredAlerts))
	for _, k := range m.FiredAlerts {
		if !alerts.Valid(k) || seen[k] {
			continue
		}
		seen[k] = true
		kept = append(kept, k)
	}
	m.FiredAlerts = kept

	if m.MaxPrice.LessThan(m.LastPrice) {
		m.MaxPrice = m.LastPrice
	}
	if m.MinPrice.IsZero() || m.MinPrice.GreaterThan(m.LastPrice) {
		m.MinPrice = m.LastPrice
	}
}
