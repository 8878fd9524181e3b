// Package account holds the account lifecycle state machine.
//
// Transitions are pure: Apply takes a State and an Event and returns the next
// State. Persisting the result is the caller's job.
package account

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusPendingVerification Status = "pending_verification"
	StatusActive              Status = "active"
	StatusSuspended           Status = "suspended"
	StatusLocked              Status = "locked"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingVerification, StatusActive, StatusSuspended, StatusLocked:
		return true
	}
	return false
}

var (
	ErrInvalidTransition = errors.New("invalid account state transition")
	ErrNotVerified       = errors.New("account not verified")
	ErrSuspended         = errors.New("account suspended")
	ErrLocked            = errors.New("account locked")
)

// State is the slice of a user record owned by the state machine.
type State struct {
	Status           Status
	VerifiedAt       *time.Time
	FailedLoginCount int
	LockedUntil      *time.Time
}

// EventKind names a transition trigger.
type EventKind int

const (
	EventVerify EventKind = iota + 1
	EventExcessiveFailedLogins
	EventLockoutExpired
	EventAdminUnlock
	EventAdminSuspend
	EventAdminReinstate
	EventLoginFailed
	EventLoginSucceeded
)

func (k EventKind) String() string {
	switch k {
	case EventVerify:
		return "verify"
	case EventExcessiveFailedLogins:
		return "excessive_failed_logins"
	case EventLockoutExpired:
		return "lockout_expired"
	case EventAdminUnlock:
		return "admin_unlock"
	case EventAdminSuspend:
		return "admin_suspend"
	case EventAdminReinstate:
		return "admin_reinstate"
	case EventLoginFailed:
		return "login_failed"
	case EventLoginSucceeded:
		return "login_succeeded"
	default:
		return "unknown"
	}
}

// Event triggers a transition. LockedUntil is read by
// EventExcessiveFailedLogins (zero means locked until an admin unlocks),
// FailedCount by EventLoginFailed.
type Event struct {
	Kind        EventKind
	At          time.Time
	LockedUntil time.Time
	FailedCount int
}

// Apply returns the state after ev, or ErrInvalidTransition with s unchanged.
func Apply(s State, ev Event) (State, error) {
	next := s
	switch ev.Kind {
	case EventVerify:
		switch s.Status {
		case StatusActive:
			return s, nil
		case StatusPendingVerification:
			at := ev.At
			next.Status = StatusActive
			next.VerifiedAt = &at
			return next, nil
		}

	case EventExcessiveFailedLogins:
		if s.Status == StatusActive {
			next.Status = StatusLocked
			next.LockedUntil = nil
			if !ev.LockedUntil.IsZero() {
				until := ev.LockedUntil
				next.LockedUntil = &until
			}
			return next, nil
		}

	case EventLockoutExpired:
		if s.Status == StatusLocked && s.LockedUntil != nil && !ev.At.Before(*s.LockedUntil) {
			return unlocked(next), nil
		}

	case EventAdminUnlock:
		if s.Status == StatusLocked {
			return unlocked(next), nil
		}

	case EventAdminSuspend:
		if s.Status == StatusActive {
			next.Status = StatusSuspended
			return next, nil
		}

	case EventAdminReinstate:
		if s.Status == StatusSuspended {
			next.Status = StatusActive
			return next, nil
		}

	case EventLoginFailed:
		if ev.FailedCount < 0 {
			break
		}
		next.FailedLoginCount = ev.FailedCount
		return next, nil

	case EventLoginSucceeded:
		next.FailedLoginCount = 0
		return next, nil
	}

	return s, ErrInvalidTransition
}

func unlocked(s State) State {
	s.Status = StatusActive
	s.LockedUntil = nil
	s.FailedLoginCount = 0
	return s
}

// Gate decides whether an account may authenticate at now. A lock whose
// LockedUntil has passed is lifted and the new state returned with
// changed=true.
func Gate(s State, now time.Time) (next State, changed bool, err error) {
	switch s.Status {
	case StatusActive:
		return s, false, nil
	case StatusPendingVerification:
		return s, false, ErrNotVerified
	case StatusSuspended:
		return s, false, ErrSuspended
	case StatusLocked:
		next, err := Apply(s, Event{Kind: EventLockoutExpired, At: now})
		if err != nil {
			return s, false, ErrLocked
		}
		return next, true, nil
	default:
		return s, false, ErrInvalidTransition
	}
}

func (s Status) String() string { return string(s) }
