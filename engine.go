package guardian

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MrEthical07/guardian/account"
	"github.com/MrEthical07/guardian/authz"
	internalaudit "github.com/MrEthical07/guardian/internal/audit"
	"github.com/MrEthical07/guardian/internal/keylock"
	"github.com/MrEthical07/guardian/jwt"
	"github.com/MrEthical07/guardian/password"
	"github.com/MrEthical07/guardian/ratelimit"
	"github.com/MrEthical07/guardian/session"
	"github.com/MrEthical07/guardian/verification"
)

// TokenTypeBearer is the TokenPair.TokenType of every issued pair.
const TokenTypeBearer = "Bearer"

// Engine is the identity, session and authorization core. It is safe for
// concurrent use; build it with New().Build().
type Engine struct {
	config    Config
	logger    *slog.Logger
	now       func() time.Time
	users     UserRepository
	grants    GrantRepository
	directory ResourceDirectory

	sessions      session.Store
	limiter       *ratelimit.Limiter
	verifications verification.Store

	hasher    password.Hasher
	policy    password.Policy
	dummyHash string
	tokens    *jwt.Manager
	table     *authz.Table
	validate  *validator.Validate

	// accountLocks serializes state transitions per user id.
	accountLocks keylock.Map

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// dependencyFailure logs err and returns it wrapped as ErrDependencyUnavailable.
func (e *Engine) dependencyFailure(ctx context.Context, op string, err error, attrs ...slog.Attr) error {
	e.metricInc(MetricDependencyFailure)
	attrs = append(attrs, slog.String("op", op), slog.String("error", err.Error()))
	e.logger.LogAttrs(ctx, slog.LevelError, "guardian: dependency failure", attrs...)
	return unavailable(err)
}

// Authenticate verifies email and password and opens a new session.
//
// Unknown emails and wrong passwords both return ErrInvalidCredentials after
// the same hashing work. Status errors are only reported once the password
// has been verified. A locked identifier returns a *RateLimitedError
// whatever the password.
func (e *Engine) Authenticate(ctx context.Context, email, pass string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	keys := e.limitKeys(ctx, email)

	d, err := e.limiter.Gate(ctx, keys...)
	if err != nil {
		return nil, e.dependencyFailure(ctx, "rate_limit_gate", err)
	}
	if !d.Allowed {
		return nil, e.rateLimited(ctx, "", d)
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, e.dependencyFailure(ctx, "get_user_by_email", err)
	}

	hash := e.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	ok, verr := e.hasher.Verify(pass, hash)
	if verr != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "guardian: stored password hash unreadable",
			slog.String("user_id", userIDOf(user)), slog.String("error", verr.Error()))
		ok = false
	}
	if !ok || user == nil {
		return nil, e.loginFailed(ctx, user, email, keys)
	}

	// Password is right: the account state decides from here on.
	if err := e.gateAccount(ctx, user); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", err, nil)
		return nil, err
	}

	d, err = e.limiter.CheckAndRecord(ctx, true, keys...)
	if err != nil {
		return nil, e.dependencyFailure(ctx, "rate_limit_record", err, slog.String("user_id", user.ID))
	}
	if !d.Allowed {
		return nil, e.rateLimited(ctx, user.ID, d)
	}

	e.afterLoginSuccess(ctx, user.ID, pass)

	pair, sessionID, err := e.openSession(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, sessionID, nil, nil)
	return pair, nil
}

func (e *Engine) rateLimited(ctx context.Context, userID string, d ratelimit.Decision) error {
	e.metricInc(MetricLoginRateLimited)
	err := &RateLimitedError{RetryAfter: d.RetryAfter}
	e.emitAudit(ctx, auditEventLoginRateLimited, false, userID, "", err, func() map[string]string {
		return map[string]string{"retry_after": d.RetryAfter.String()}
	})
	return err
}

// loginFailed records a failed credential check. The caller crossing the
// threshold locks the account; everyone else only counts.
func (e *Engine) loginFailed(ctx context.Context, user *User, email string, keys []string) error {
	e.metricInc(MetricLoginFailure)

	d, err := e.limiter.CheckAndRecord(ctx, false, keys...)
	if err != nil {
		return e.dependencyFailure(ctx, "rate_limit_record", err)
	}

	if user != nil {
		var lockUntil time.Time
		idKey := ratelimit.IdentifierKey(email)
		if e.config.Lockout.LockAccount && d.LockedNow(idKey) {
			// The account lock ends exactly when the identifier lock does.
			c, ok, err := e.limiter.Counter(ctx, idKey)
			if err != nil {
				return e.dependencyFailure(ctx, "rate_limit_counter", err, slog.String("user_id", user.ID))
			}
			lockUntil = e.now().Add(e.config.RateLimit.Lockout)
			if ok && !c.LockedUntil.IsZero() {
				lockUntil = c.LockedUntil
			}
		}
		if err := e.recordFailedLogin(ctx, user.ID, d.Attempts, lockUntil); err != nil {
			return err
		}
	}

	e.emitAudit(ctx, auditEventLoginFailure, false, userIDOf(user), "", ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

// recordFailedLogin stores the failure count and, when lockUntil is set,
// locks the account and revokes its sessions.
func (e *Engine) recordFailedLogin(ctx context.Context, userID string, attempts int, lockUntil time.Time) error {
	unlock := e.accountLocks.Lock(userID)
	defer unlock()

	u, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return e.dependencyFailure(ctx, "get_user_by_id", err, slog.String("user_id", userID))
	}
	if u == nil {
		return nil
	}

	now := e.now()
	state, err := account.Apply(u.state(), account.Event{Kind: account.EventLoginFailed, At: now, FailedCount: attempts})
	if err != nil {
		return nil
	}
	locked := false
	if !lockUntil.IsZero() {
		if next, err := account.Apply(state, account.Event{Kind: account.EventExcessiveFailedLogins, At: now, LockedUntil: lockUntil}); err == nil {
			state = next
			locked = true
		}
	}

	u.setState(state)
	u.UpdatedAt = now
	if err := e.users.SaveUser(ctx, u); err != nil {
		return e.dependencyFailure(ctx, "save_user", err, slog.String("user_id", userID))
	}

	if locked {
		e.metricInc(MetricAccountLockedOut)
		e.logger.LogAttrs(ctx, slog.LevelWarn, "guardian: account locked after failed logins",
			slog.String("user_id", userID), slog.Int("attempts", attempts))
		e.emitAudit(ctx, auditEventAccountLocked, true, userID, "", nil, func() map[string]string {
			return map[string]string{"locked_until": state.LockedUntil.UTC().Format(time.RFC3339)}
		})
		if _, err := e.sessions.RevokeUser(ctx, userID, session.ReasonAccountState, now); err != nil {
			return e.dependencyFailure(ctx, "revoke_user_sessions", err, slog.String("user_id", userID))
		}
	}
	return nil
}

// gateAccount applies account.Gate and persists a lifted lock.
func (e *Engine) gateAccount(ctx context.Context, user *User) error {
	if user.Status == account.StatusActive {
		return nil
	}

	unlock := e.accountLocks.Lock(user.ID)
	defer unlock()

	u, err := e.users.GetUserByID(ctx, user.ID)
	if err != nil {
		return e.dependencyFailure(ctx, "get_user_by_id", err, slog.String("user_id", user.ID))
	}
	if u == nil {
		return ErrInvalidCredentials
	}

	next, changed, err := account.Gate(u.state(), e.now())
	if err != nil {
		return err
	}
	if changed {
		u.setState(next)
		u.UpdatedAt = e.now()
		if err := e.users.SaveUser(ctx, u); err != nil {
			return e.dependencyFailure(ctx, "save_user", err, slog.String("user_id", u.ID))
		}
		e.emitAudit(ctx, auditEventAccountStatusChange, true, u.ID, "", nil, func() map[string]string {
			return map[string]string{"event": account.EventLockoutExpired.String(), "status": string(next.Status)}
		})
	}
	*user = *u
	return nil
}

// afterLoginSuccess clears the failure count and upgrades a legacy hash.
// Failures here are logged and do not fail the login.
func (e *Engine) afterLoginSuccess(ctx context.Context, userID, pass string) {
	unlock := e.accountLocks.Lock(userID)
	defer unlock()

	u, err := e.users.GetUserByID(ctx, userID)
	if err != nil || u == nil {
		return
	}

	dirty := false
	if u.FailedLoginCount != 0 {
		if next, err := account.Apply(u.state(), account.Event{Kind: account.EventLoginSucceeded, At: e.now()}); err == nil {
			u.setState(next)
			dirty = true
		}
	}
	if e.config.Password.UpgradeOnLogin {
		if needs, err := e.hasher.NeedsUpgrade(u.PasswordHash); err == nil && needs {
			if h, err := e.hasher.Hash(pass); err == nil {
				u.PasswordHash = h
				dirty = true
				e.metricInc(MetricPasswordRehash)
			}
		}
	}
	if !dirty {
		return
	}
	u.UpdatedAt = e.now()
	if err := e.users.SaveUser(ctx, u); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "guardian: post-login update failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

// openSession starts a rotation chain and signs its first token pair.
func (e *Engine) openSession(ctx context.Context, user *User) (*TokenPair, string, error) {
	now := e.now()
	id := uuid.NewString()
	expiresAt := now.Add(e.config.JWT.RefreshTTL)

	pair, err := e.signPair(user, id, expiresAt.Sub(now))
	if err != nil {
		return nil, "", err
	}

	chain := session.Chain{ID: id, UserID: user.ID, CreatedAt: now}
	rec := session.Record{
		ID:        id,
		UserID:    user.ID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		Client:    clientMetadataFromContext(ctx),
	}
	if err := e.sessions.Create(ctx, chain, rec); err != nil {
		return nil, "", e.dependencyFailure(ctx, "create_session", err, slog.String("user_id", user.ID))
	}
	e.metricInc(MetricSessionCreated)
	return pair, id, nil
}

func (e *Engine) signPair(user *User, refreshID string, refreshTTL time.Duration) (*TokenPair, error) {
	access, err := e.tokens.IssueAccess(user.ID, string(user.Role), uuid.NewString(), e.config.JWT.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := e.tokens.IssueRefresh(user.ID, string(user.Role), refreshID, refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		TokenType:        TokenTypeBearer,
	}, nil
}

// VerifyAccess checks an access token without touching storage.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricVerifyAccessLatency, time.Since(start)) }()
	}

	c, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, mapTokenError(err)
	}
	role := Role(c.Role)
	if !role.Valid() {
		return nil, ErrTokenInvalid
	}
	return &Claims{
		Subject:   c.Subject,
		Role:      role,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
		ID:        c.ID,
	}, nil
}

func mapTokenError(err error) error {
	if errors.Is(err, jwt.ErrExpired) {
		return ErrTokenExpired
	}
	return ErrTokenInvalid
}

// limitKeys picks the counters for one login attempt. Without a caller
// address, address scope falls back to the identifier so attempts are never
// left uncounted.
func (e *Engine) limitKeys(ctx context.Context, email string) []string {
	id := ratelimit.IdentifierKey(email)
	addr := ratelimit.AddressKey(clientIPFromContext(ctx))
	if addr == "" {
		return []string{id}
	}
	switch e.config.RateLimit.Scope {
	case ScopeAddress:
		return []string{addr}
	case ScopeBoth:
		return []string{id, addr}
	default:
		return []string{id}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func userIDOf(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
