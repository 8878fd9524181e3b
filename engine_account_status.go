package guardian

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/guardian/account"
	"github.com/MrEthical07/guardian/ratelimit"
	"github.com/MrEthical07/guardian/session"
)

// VerifyAccount activates a PendingVerification account. Verifying an
// active account is a no-op.
func (e *Engine) VerifyAccount(ctx context.Context, userID string) error {
	err := e.transition(ctx, userID, account.EventVerify, false)
	if err == nil {
		e.metricInc(MetricVerificationSuccess)
	}
	return err
}

// SuspendAccount moves an active account to Suspended and revokes all of
// its sessions. Outstanding access tokens stay valid until they expire.
func (e *Engine) SuspendAccount(ctx context.Context, userID string) error {
	err := e.transition(ctx, userID, account.EventAdminSuspend, true)
	if err == nil {
		e.metricInc(MetricAccountSuspended)
	}
	return err
}

func (e *Engine) ReinstateAccount(ctx context.Context, userID string) error {
	err := e.transition(ctx, userID, account.EventAdminReinstate, false)
	if err == nil {
		e.metricInc(MetricAccountReinstated)
	}
	return err
}

// UnlockAccount lifts a lockout before it expires. The identifier's rate
// limit counter is cleared as well, so the next attempt is judged afresh.
// Accounts that are not locked only have their counter cleared.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	unlock := e.accountLocks.Lock(userID)
	defer unlock()

	u, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return e.dependencyFailure(ctx, "get_user_by_id", err, slog.String("user_id", userID))
	}
	if u == nil {
		return ErrUserNotFound
	}

	if err := e.limiter.Reset(ctx, ratelimit.IdentifierKey(u.Email)); err != nil {
		return e.dependencyFailure(ctx, "rate_limit_reset", err, slog.String("user_id", userID))
	}
	if u.Status != account.StatusLocked {
		return nil
	}
	if err := e.applyLocked(ctx, u, account.EventAdminUnlock); err != nil {
		return err
	}
	e.metricInc(MetricAccountUnlocked)
	return nil
}

// transition loads userID, applies kind and saves the result under the
// user's account lock.
func (e *Engine) transition(ctx context.Context, userID string, kind account.EventKind, revokeSessions bool) error {
	if e == nil {
		return ErrEngineNotReady
	}

	unlock := e.accountLocks.Lock(userID)
	defer unlock()

	u, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return e.dependencyFailure(ctx, "get_user_by_id", err, slog.String("user_id", userID))
	}
	if u == nil {
		return ErrUserNotFound
	}
	if err := e.applyLocked(ctx, u, kind); err != nil {
		return err
	}
	if revokeSessions {
		return e.revokeUserSessions(ctx, userID, session.ReasonAccountState, e.now())
	}
	return nil
}

// applyLocked must be called with the user's account lock held.
func (e *Engine) applyLocked(ctx context.Context, u *User, kind account.EventKind) error {
	now := e.now()
	prev := u.Status
	next, err := account.Apply(u.state(), account.Event{Kind: kind, At: now})
	if err != nil {
		e.emitAudit(ctx, auditEventAccountStatusChange, false, u.ID, "", err, func() map[string]string {
			return map[string]string{"event": kind.String(), "status": string(prev)}
		})
		return err
	}

	u.setState(next)
	u.UpdatedAt = now
	if err := e.users.SaveUser(ctx, u); err != nil {
		return e.dependencyFailure(ctx, "save_user", err, slog.String("user_id", u.ID))
	}

	e.emitAudit(ctx, auditEventAccountStatusChange, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{"event": kind.String(), "from": string(prev), "status": string(next.Status)}
	})
	return nil
}
