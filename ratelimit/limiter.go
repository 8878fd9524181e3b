// Package ratelimit throttles login attempts per key with a fixed window
// followed by a lockout.
//
// Counter state lives behind [Store]; [MemoryStore] serves a single process
// and [RedisStore] is shared between processes. Both apply [Step] atomically
// per key, so concurrent attempts are never lost or double counted.
package ratelimit

import (
	"context"
	"math"
	"strings"
	"time"
)

// Decision is the combined verdict over every key of one attempt.
type Decision struct {
	Allowed bool
	// RetryAfter is whole seconds left on the longest active lockout.
	RetryAfter time.Duration
	// Attempts is the highest attempt count among the keys.
	Attempts int
	// Locked lists keys whose lockout started on this call.
	Locked []string
}

// LockedNow reports whether key was locked by this call.
func (d Decision) LockedNow(key string) bool {
	for _, k := range d.Locked {
		if k == key {
			return true
		}
	}
	return false
}

// Limiter applies one Policy to one Store.
type Limiter struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// New builds a Limiter. now may be nil for time.Now.
func New(store Store, policy Policy, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, policy: policy, now: now}
}

// Gate runs before credentials are checked. It only changes state when a key
// is already locked, in which case that attempt is counted and refused.
func (l *Limiter) Gate(ctx context.Context, keys ...string) (Decision, error) {
	return l.apply(ctx, Probe, keys)
}

// CheckAndRecord records the result of a credential check for every key.
// A success resets the keys unless one of them is locked.
func (l *Limiter) CheckAndRecord(ctx context.Context, success bool, keys ...string) (Decision, error) {
	o := Failure
	if success {
		o = Success
	}
	return l.apply(ctx, o, keys)
}

// Reset clears key, as an administrative unlock does.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// Counter returns the stored state of key.
func (l *Limiter) Counter(ctx context.Context, key string) (Counter, bool, error) {
	return l.store.Get(ctx, key)
}

// Policy returns the configured policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

func (l *Limiter) apply(ctx context.Context, o Outcome, keys []string) (Decision, error) {
	now := l.now()
	d := Decision{Allowed: true}
	for _, key := range keys {
		if key == "" {
			continue
		}
		res, err := l.store.Apply(ctx, key, o, now, l.policy)
		if err != nil {
			return Decision{}, err
		}
		if res.Counter.Attempts > d.Attempts {
			d.Attempts = res.Counter.Attempts
		}
		if res.LockedNow {
			d.Locked = append(d.Locked, key)
		}
		if res.Blocked {
			d.Allowed = false
			if ra := roundUpSeconds(res.RetryAfter(now)); ra > d.RetryAfter {
				d.RetryAfter = ra
			}
		}
	}
	return d, nil
}

func roundUpSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// IdentifierKey is the key for a normalized login identifier.
func IdentifierKey(identifier string) string {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return ""
	}
	return "id:" + identifier
}

// AddressKey is the key for a caller address.
func AddressKey(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	return "addr:" + addr
}
