package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"price-move-alerts/internal/alerts"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertBracket(t *testing.T, m Monitor) {
	t.Helper()
	if m.MinPrice.GreaterThan(m.LastPrice) || m.LastPrice.GreaterThan(m.MaxPrice) {
		t.Fatalf("bracket violated: min=%s last=%s max=%s", m.MinPrice, m.LastPrice, m.MaxPrice)
	}
}

func TestNewStartsAtBaseline(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Identity{Owner: "42", Token: "T"}, dec("1.5"), now)

	if !m.MinPrice.Equal(m.BaselinePrice) || !m.MaxPrice.Equal(m.BaselinePrice) || !m.LastPrice.Equal(m.BaselinePrice) {
		t.Fatalf("expected min=max=last=baseline, got %+v", m)
	}
	assertBracket(t, m)
	if len(m.FiredAlerts) != 0 {
		t.Fatal("new monitor has no fired alerts")
	}
}

func TestObserveKeepsBracket(t *testing.T) {
	now := time.Now()
	m := New(Identity{Token: "T"}, dec("1"), now)
	for _, p := range []string{"1.2", "0.8", "1.05", "3", "0.1"} {
		m.Observe(dec(p), now)
		assertBracket(t, m)
	}
	if !m.MaxPrice.Equal(dec("3")) || !m.MinPrice.Equal(dec("0.1")) {
		t.Fatalf("unexpected extrema min=%s max=%s", m.MinPrice, m.MaxPrice)
	}
}

func TestMarkFiredIdempotent(t *testing.T) {
	m := New(Identity{Token: "T"}, dec("1"), time.Now())
	if !m.MarkFired(alerts.Up30) {
		t.Fatal("first mark should be new")
	}
	if m.MarkFired(alerts.Up30) {
		t.Fatal("second mark should be a no-op")
	}
	if len(m.FiredAlerts) != 1 {
		t.Fatalf("expected one fired alert, got %v", m.FiredAlerts)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := New(Identity{Token: "T"}, dec("1"), time.Now())
	m.MarkFired(alerts.Up30)
	c := m.Clone()
	c.MarkFired(alerts.Down30)
	if len(m.FiredAlerts) != 1 {
		t.Fatal("clone shares fired slice with original")
	}
}

func TestLiveAndRemaining(t *testing.T) {
	now := time.Now()
	m := New(Identity{Token: "T"}, dec("1"), now.Add(-DefaultWindow-time.Millisecond))
	if m.Live(now, DefaultWindow) {
		t.Fatal("monitor past window must not be live")
	}
	if m.Remaining(now, DefaultWindow) != 0 {
		t.Fatal("remaining should floor at zero")
	}

	fresh := New(Identity{Token: "T"}, dec("1"), now)
	if !fresh.Live(now, DefaultWindow) {
		t.Fatal("fresh monitor must be live")
	}
}

func TestNormalizeDropsUnknownKinds(t *testing.T) {
	m := New(Identity{Token: "T"}, dec("1"), time.Now())
	m.FiredAlerts = []alerts.Kind{alerts.Up30, "UP_500", alerts.Up30}
	m.Normalize()
	if len(m.FiredAlerts) != 1 || m.FiredAlerts[0] != alerts.Up30 {
		t.Fatalf("unexpected kinds after normalize: %v", m.FiredAlerts)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	id := Identity{Owner: "123", Token: "abc"}
	back, ok := ParseKey(id.Key())
	if !ok || back != id {
		t.Fatalf("expected %v, got %v", id, back)
	}
	single, ok := ParseKey(Identity{Token: "abc"}.Key())
	if !ok || single.Owner != "" || single.Token != "abc" {
		t.Fatalf("single-user key parse failed: %v", single)
	}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Identity{Token: "T"}, dec("100"), start)
	m.Observe(dec("150"), start.Add(time.Hour))
	m.Observe(dec("80"), start.Add(2*time.Hour))
	m.MarkFired(alerts.Up30)

	s := Summarize(m, start.Add(24*time.Hour))
	if !s.MaxPercentChange.Equal(dec("50")) || !s.MinPercentChange.Equal(dec("-20")) {
		t.Fatalf("unexpected pct changes: %s %s", s.MaxPercentChange, s.MinPercentChange)
	}
	if s.Duration != 24*time.Hour {
		t.Fatalf("unexpected duration %s", s.Duration)
	}
	if !strings.Contains(s.Text(), "UP_30") {
		t.Fatalf("summary text should list fired alerts: %s", s.Text())
	}
}
