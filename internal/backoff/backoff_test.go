package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicyRawDoublesAndCaps(t *testing.T) {
	p := Policy{Base: time.Second, Max: 5 * time.Second}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for attempt, expected := range want {
		if got := p.Raw(attempt); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, expected, got)
		}
	}
}

func TestPolicyRawHugeAttemptStaysCapped(t *testing.T) {
	p := Policy{Base: time.Second, Max: time.Minute}
	if got := p.Raw(200); got != time.Minute {
		t.Fatalf("expected cap, got %s", got)
	}
}

func TestJitterStaysInRange(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 500; i++ {
		got := Jitter(d, 0.1)
		if got < 9*time.Second || got > 11*time.Second {
			t.Fatalf("jitter out of range: %s", got)
		}
	}
	if Jitter(-time.Second, 0.5) != 0 {
		t.Fatal("negative delay should clamp to zero")
	}
}

func TestMaxAttemptsAtLeastOne(t *testing.T) {
	if (Policy{}).MaxAttempts() != 1 {
		t.Fatal("zero attempts should mean one")
	}
	if (Policy{Attempts: 3}).MaxAttempts() != 3 {
		t.Fatal("attempts not honoured")
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancelled sleep should return immediately")
	}
}

func TestSleepCompletes(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
