package ratelimit

import (
	"context"
	"testing"
	"time"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func TestLimiterLockoutLifecycle(t *testing.T) {
	clock := &manualClock{now: t0}
	l := New(NewMemoryStore(), testPolicy(), clock.Now)
	ctx := context.Background()
	key := IdentifierKey("  Parent@Example.com ")

	for i := 1; i <= 5; i++ {
		d, err := l.CheckAndRecord(ctx, false, key)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d should not be blocked", i)
		}
		if i == 5 && !d.LockedNow(key) {
			t.Fatal("fifth failure should lock the key")
		}
		clock.now = clock.now.Add(time.Second)
	}

	d, err := l.Gate(ctx, key)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if d.Allowed {
		t.Fatal("sixth attempt should be blocked")
	}
	if d.RetryAfter != 15*time.Minute {
		t.Fatalf("expected 15m retry, got %v", d.RetryAfter)
	}

	d, _ = l.CheckAndRecord(ctx, true, key)
	if d.Allowed {
		t.Fatal("correct credentials during lockout must still be blocked")
	}

	clock.now = clock.now.Add(15 * time.Minute)
	d, _ = l.Gate(ctx, key)
	if !d.Allowed {
		t.Fatal("gate should open after lockout")
	}
	d, _ = l.CheckAndRecord(ctx, true, key)
	if !d.Allowed {
		t.Fatal("success after lockout should be allowed")
	}
	if _, ok, _ := l.Counter(ctx, key); ok {
		t.Fatal("success should reset the counter")
	}
}

func TestLimiterCombinesKeys(t *testing.T) {
	clock := &manualClock{now: t0}
	p := Policy{Threshold: 2, Window: time.Minute, Lockout: time.Minute}
	l := New(NewMemoryStore(), p, clock.Now)
	ctx := context.Background()
	addr := AddressKey("10.0.0.1")

	_, _ = l.CheckAndRecord(ctx, false, IdentifierKey("a@x.io"), addr)
	d, _ := l.CheckAndRecord(ctx, false, IdentifierKey("b@x.io"), addr)
	if !d.LockedNow(addr) || d.LockedNow(IdentifierKey("b@x.io")) {
		t.Fatalf("expected only the address key to lock: %+v", d.Locked)
	}

	d, _ = l.Gate(ctx, IdentifierKey("c@x.io"), addr)
	if d.Allowed {
		t.Fatal("locked address should block other identifiers")
	}
	d, _ = l.Gate(ctx, IdentifierKey("c@x.io"), "")
	if !d.Allowed {
		t.Fatal("empty keys are ignored")
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	if got := roundUpSeconds(1500 * time.Millisecond); got != 2*time.Second {
		t.Fatalf("expected 2s, got %v", got)
	}
	if got := roundUpSeconds(-time.Second); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
