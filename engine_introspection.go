package guardian

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/guardian/ratelimit"
	"github.com/MrEthical07/guardian/session"
)

// SessionInfo describes one refresh session. It carries no token material.
type SessionInfo struct {
	SessionID string
	ChainID   string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Client    string
	// Active is false once the session was rotated, revoked or expired.
	Active bool
}

func sessionInfo(rec *session.Record, chain *session.Chain, now time.Time) SessionInfo {
	return SessionInfo{
		SessionID: rec.ID,
		ChainID:   rec.ChainID,
		UserID:    rec.UserID,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
		Client:    rec.Client,
		Active:    rec.Live(now) && (chain == nil || chain.RevokedAt == nil),
	}
}

// ListActiveSessions returns the user's sessions that can still be refreshed,
// oldest first. Each login contributes at most one: the head of its chain.
func (e *Engine) ListActiveSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserNotFound
	}
	now := e.now()
	recs, err := e.sessions.ListUser(ctx, userID, now)
	if err != nil {
		return nil, e.dependencyFailure(ctx, "list_sessions", err, slog.String("user_id", userID))
	}
	out := make([]SessionInfo, 0, len(recs))
	for i := range recs {
		out = append(out, sessionInfo(&recs[i], nil, now))
	}
	return out, nil
}

// GetActiveSessionCount is len(ListActiveSessions).
func (e *Engine) GetActiveSessionCount(ctx context.Context, userID string) (int, error) {
	sessions, err := e.ListActiveSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// GetSessionInfo looks up one session by id, active or not. Ids the store
// no longer knows return ErrNotFound.
func (e *Engine) GetSessionInfo(ctx context.Context, sessionID string) (*SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if sessionID == "" {
		return nil, ErrNotFound
	}
	rec, chain, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, e.dependencyFailure(ctx, "get_session", err)
	}
	info := sessionInfo(rec, chain, e.now())
	return &info, nil
}

// GetLoginAttempts returns the failed logins counted against email in the
// current window, or during an active lockout.
func (e *Engine) GetLoginAttempts(ctx context.Context, email string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	key := ratelimit.IdentifierKey(normalizeEmail(email))
	if key == "" {
		return 0, nil
	}
	c, ok, err := e.limiter.Counter(ctx, key)
	if err != nil {
		return 0, e.dependencyFailure(ctx, "rate_limit_counter", err)
	}
	if !ok {
		return 0, nil
	}
	return c.Current(e.now(), e.limiter.Policy()), nil
}
