package ratelimit

import (
	"errors"
	"time"
)

// ErrUnavailable wraps counter backend failures.
var ErrUnavailable = errors.New("rate limit backend unavailable")

// Policy configures the fixed window and the lockout that follows it.
type Policy struct {
	// Threshold is the number of failures inside Window that triggers a lockout.
	Threshold int
	Window    time.Duration
	Lockout   time.Duration
}

// DefaultPolicy is 5 failures per 15 minutes with a 15 minute lockout.
func DefaultPolicy() Policy {
	return Policy{Threshold: 5, Window: 15 * time.Minute, Lockout: 15 * time.Minute}
}

func (p Policy) Validate() error {
	if p.Threshold <= 0 {
		return errors.New("rate limit threshold must be > 0")
	}
	if p.Window <= 0 {
		return errors.New("rate limit window must be > 0")
	}
	if p.Lockout <= 0 {
		return errors.New("rate limit lockout must be > 0")
	}
	return nil
}

// Counter is the persisted state of one key. The zero Counter means no
// recent failures.
type Counter struct {
	Key         string
	WindowStart time.Time
	Attempts    int
	LockedUntil time.Time
}

// Empty reports whether c carries no state worth storing.
func (c Counter) Empty() bool {
	return c.Attempts == 0 && c.LockedUntil.IsZero()
}

// Current is the attempt count that still applies at now: zero once the
// lockout has ended or, without a lockout, once the window has passed.
func (c Counter) Current(now time.Time, p Policy) int {
	if !c.LockedUntil.IsZero() {
		if now.Before(c.LockedUntil) {
			return c.Attempts
		}
		return 0
	}
	if c.Attempts > 0 && !now.Before(c.WindowStart.Add(p.Window)) {
		return 0
	}
	return c.Attempts
}

// Outcome is what happened on the attempt being recorded.
type Outcome int

const (
	// Probe checks for an active lockout before credentials are verified.
	// It counts the attempt only when the key is locked.
	Probe Outcome = iota + 1
	Failure
	Success
)

func (o Outcome) String() string {
	switch o {
	case Probe:
		return "probe"
	case Failure:
		return "failure"
	case Success:
		return "success"
	default:
		return "unknown"
	}
}

// Result is the outcome of applying one attempt to a counter.
type Result struct {
	Counter Counter
	Blocked bool
	// LockedNow is true only on the attempt that crossed the threshold.
	LockedNow bool
}

// RetryAfter is the time left on the lockout, zero when not locked.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Counter.LockedUntil.After(now) {
		return r.Counter.LockedUntil.Sub(now)
	}
	return 0
}

// Step applies one attempt to c. Every Store must produce exactly what Step
// produces for the same input.
//
// An elapsed lockout, or an elapsed window with no lockout, resets the
// counter first. While locked, probes and failures are counted and blocked
// and successes are blocked without counting.
func Step(c Counter, o Outcome, now time.Time, p Policy) Result {
	if !c.LockedUntil.IsZero() && !now.Before(c.LockedUntil) {
		c = Counter{Key: c.Key}
	} else if c.LockedUntil.IsZero() && c.Attempts > 0 && !now.Before(c.WindowStart.Add(p.Window)) {
		c = Counter{Key: c.Key}
	}

	if c.LockedUntil.After(now) {
		if o != Success {
			c.Attempts++
		}
		return Result{Counter: c, Blocked: true}
	}

	switch o {
	case Success:
		return Result{Counter: Counter{Key: c.Key}}
	case Failure:
		if c.Attempts == 0 {
			c.WindowStart = now
		}
		c.Attempts++
		if c.Attempts >= p.Threshold {
			c.LockedUntil = now.Add(p.Lockout)
			return Result{Counter: c, LockedNow: true}
		}
	}
	return Result{Counter: c}
}

// expiresAt is when the stored counter stops mattering.
func expiresAt(c Counter, p Policy) time.Time {
	end := c.WindowStart.Add(p.Window)
	if c.LockedUntil.After(end) {
		end = c.LockedUntil
	}
	return end
}
