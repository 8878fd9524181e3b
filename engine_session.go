package guardian

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/guardian/session"
)

// Refresh redeems a refresh token for a new pair. Every refresh token can be
// redeemed once; presenting it again revokes its whole chain and returns
// ErrTokenReplayDetected. The new access token carries the user's current
// role.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		err = mapTokenError(err)
		e.refreshFailed(ctx, "", "", err)
		return nil, err
	}

	rec, chain, err := e.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.refreshFailed(ctx, claims.Subject, claims.ID, ErrTokenRevoked)
			return nil, ErrTokenRevoked
		}
		return nil, e.dependencyFailure(ctx, "get_session", err, slog.String("user_id", claims.Subject))
	}
	if chain == nil {
		e.refreshFailed(ctx, claims.Subject, claims.ID, ErrTokenRevoked)
		return nil, ErrTokenRevoked
	}
	if rec.UserID != claims.Subject {
		e.refreshFailed(ctx, claims.Subject, claims.ID, ErrTokenInvalid)
		return nil, ErrTokenInvalid
	}

	user, err := e.users.GetUserByID(ctx, rec.UserID)
	if err != nil {
		return nil, e.dependencyFailure(ctx, "get_user_by_id", err, slog.String("user_id", rec.UserID))
	}
	if user == nil {
		e.revokeChainQuietly(ctx, rec.ChainID, session.ReasonAccountState)
		e.refreshFailed(ctx, rec.UserID, rec.ID, ErrTokenRevoked)
		return nil, ErrTokenRevoked
	}
	if err := e.gateAccount(ctx, user); err != nil {
		if errors.Is(err, ErrDependencyUnavailable) {
			return nil, err
		}
		e.revokeChainQuietly(ctx, rec.ChainID, session.ReasonAccountState)
		e.refreshFailed(ctx, user.ID, rec.ID, err)
		return nil, err
	}

	pair, next, err := e.rotate(ctx, rec, chain, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, next, nil, nil)
	return pair, nil
}

func (e *Engine) rotate(ctx context.Context, rec *session.Record, chain *session.Chain, user *User) (*TokenPair, string, error) {
	now := e.now()
	oldID := rec.ID

	expiresAt := now.Add(e.config.JWT.RefreshTTL)
	if limit := e.lifetimeOf(chain.CreatedAt); limit.Before(expiresAt) {
		expiresAt = limit
	}
	if !now.Before(expiresAt) {
		e.refreshFailed(ctx, user.ID, oldID, ErrTokenExpired)
		return nil, "", ErrTokenExpired
	}

	next := session.Record{
		ID:        uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		Client:    rec.Client,
	}
	pair, err := e.signPair(user, next.ID, expiresAt.Sub(now))
	if err != nil {
		return nil, "", err
	}

	if _, err := e.sessions.Rotate(ctx, oldID, next, now); err != nil {
		switch {
		case errors.Is(err, session.ErrReplayDetected):
			e.metricInc(MetricReplayDetected)
			e.logger.LogAttrs(ctx, slog.LevelWarn, "guardian: refresh token replay, chain revoked",
				slog.String("user_id", user.ID), slog.String("chain_id", rec.ChainID))
			e.refreshFailed(ctx, user.ID, oldID, ErrTokenReplayDetected)
			return nil, "", ErrTokenReplayDetected
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrRevoked):
			e.refreshFailed(ctx, user.ID, oldID, ErrTokenRevoked)
			return nil, "", ErrTokenRevoked
		case errors.Is(err, session.ErrExpired):
			e.refreshFailed(ctx, user.ID, oldID, ErrTokenExpired)
			return nil, "", ErrTokenExpired
		default:
			return nil, "", e.dependencyFailure(ctx, "rotate_session", err, slog.String("user_id", user.ID))
		}
	}
	return pair, next.ID, nil
}

func (e *Engine) refreshFailed(ctx context.Context, userID, sessionID string, err error) {
	e.metricInc(MetricRefreshFailure)
	event := auditEventRefreshInvalid
	if errors.Is(err, ErrTokenReplayDetected) {
		event = auditEventRefreshReplayDetected
	}
	e.emitAudit(ctx, event, false, userID, sessionID, err, nil)
}

func (e *Engine) revokeChainQuietly(ctx context.Context, chainID, reason string) {
	if err := e.sessions.RevokeChain(ctx, chainID, reason, e.now()); err != nil && !errors.Is(err, session.ErrNotFound) {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "guardian: chain revocation failed",
			slog.String("chain_id", chainID), slog.String("error", err.Error()))
	}
}

// Logout revokes the chain of refreshToken. Tokens that are malformed,
// expired, unknown or already revoked are accepted silently.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}
	if err := e.sessions.Revoke(ctx, claims.ID, session.ReasonLogout, e.now()); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return e.dependencyFailure(ctx, "revoke_session", err, slog.String("user_id", claims.Subject))
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.Subject, claims.ID, nil, nil)
	return nil
}

// LogoutAll revokes every session of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	n, err := e.sessions.RevokeUser(ctx, userID, session.ReasonLogoutAll, e.now())
	if err != nil {
		return e.dependencyFailure(ctx, "revoke_user_sessions", err, slog.String("user_id", userID))
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"chains": strconv.Itoa(n)}
	})
	return nil
}

// RevokeSession revokes the chain containing sessionID. Unknown ids return
// ErrNotFound.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.Revoke(ctx, sessionID, session.ReasonAdmin, e.now()); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrNotFound
		}
		return e.dependencyFailure(ctx, "revoke_session", err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, "", sessionID, nil, nil)
	return nil
}

// SweepExpiredSessions deletes expired session records and returns how many
// were removed.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.Sweep(ctx, e.now())
	if err != nil {
		return 0, e.dependencyFailure(ctx, "sweep_sessions", err)
	}
	if n > 0 {
		e.logger.LogAttrs(ctx, slog.LevelInfo, "guardian: swept expired sessions", slog.Int("count", n))
	}
	return n, nil
}

// revokeUserSessions is used by account transitions that end all sessions.
func (e *Engine) revokeUserSessions(ctx context.Context, userID, reason string, now time.Time) error {
	if _, err := e.sessions.RevokeUser(ctx, userID, reason, now); err != nil {
		return e.dependencyFailure(ctx, "revoke_user_sessions", err, slog.String("user_id", userID))
	}
	return nil
}
