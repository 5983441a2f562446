package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBurstThenDeny(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(20, time.Hour, c.Now)

	for i := 0; i < 20; i++ {
		d := l.TryConsume("u1")
		if !d.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
		if d.Remaining != 19-i {
			t.Fatalf("call %d: remaining=%d want %d", i+1, d.Remaining, 19-i)
		}
	}

	d := l.TryConsume("u1")
	if d.Allowed {
		t.Fatal("21st call should be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 3*time.Second+time.Millisecond {
		t.Fatalf("unexpected retryAfter %s", d.RetryAfter)
	}
	if d.RetryAfter%time.Millisecond != 0 {
		t.Fatalf("retryAfter should be whole milliseconds, got %s", d.RetryAfter)
	}

	c.Advance(3*time.Second + time.Millisecond)
	if d := l.TryConsume("u1"); !d.Allowed {
		t.Fatalf("call after refill should be allowed: %+v", d)
	}
}

func TestDeniedCallConsumesNothing(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(1, time.Hour, c.Now)

	if !l.TryConsume("u").Allowed {
		t.Fatal("first call allowed")
	}
	for i := 0; i < 5; i++ {
		if l.TryConsume("u").Allowed {
			t.Fatal("bucket is empty")
		}
	}
	c.Advance(time.Minute + time.Millisecond)
	if !l.TryConsume("u").Allowed {
		t.Fatal("denied calls must not push the refill further out")
	}
}

func TestCallersAreIndependent(t *testing.T) {
	c := &clock{now: time.Now()}
	l := New(2, time.Hour, c.Now)
	l.TryConsume("a")
	l.TryConsume("a")
	if l.TryConsume("a").Allowed {
		t.Fatal("a should be exhausted")
	}
	if !l.TryConsume("b").Allowed {
		t.Fatal("b has its own bucket")
	}
	if got := l.Remaining("nobody"); got != 2 {
		t.Fatalf("unknown caller should report a full bucket, got %d", got)
	}
}

func TestResetRefills(t *testing.T) {
	c := &clock{now: time.Now()}
	l := New(1, time.Hour, c.Now)
	l.TryConsume("a")
	if l.Remaining("a") != 0 {
		t.Fatal("expected empty bucket")
	}
	l.Reset("a")
	if !l.TryConsume("a").Allowed {
		t.Fatal("reset should refill")
	}
}

func TestCleanupEvictsIdle(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(20, time.Hour, c.Now)
	l.TryConsume("old")
	c.Advance(30 * time.Minute)
	l.TryConsume("recent")
	c.Advance(31 * time.Minute)

	if n := l.Cleanup(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 bucket left, got %d", l.Len())
	}
}
