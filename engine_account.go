package guardian

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/guardian/account"
	"github.com/MrEthical07/guardian/session"
)

// Register creates an account. The password is checked against the policy
// before any hashing happens. New accounts start in PendingVerification
// unless Account.AutoVerify is set, in which case they are verified on the
// spot. The returned User never carries the password hash.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if err := e.validate.Var(email, "required,email,max=254"); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrInvalidEmail, nil)
		return nil, ErrInvalidEmail
	}
	if !req.Role.Valid() || (req.Role == RoleAdmin && !e.config.Account.AllowAdminRegistration) {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrInvalidRole, func() map[string]string {
			return map[string]string{"role": string(req.Role)}
		})
		return nil, ErrInvalidRole
	}
	if err := e.policy.Check(req.Password); err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         req.Role,
		Status:       account.StatusPendingVerification,
		Profile:      cloneProfile(req.Profile),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if e.config.Account.AutoVerify {
		next, err := account.Apply(u.state(), account.Event{Kind: account.EventVerify, At: now})
		if err != nil {
			return nil, err
		}
		u.setState(next)
	}

	if err := e.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrDuplicateEmail, nil)
			return nil, ErrDuplicateEmail
		}
		return nil, e.dependencyFailure(ctx, "create_user", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{"role": string(u.Role), "status": string(u.Status)}
	})

	out := *u
	out.PasswordHash = ""
	return &out, nil
}

// ChangePassword replaces the password of userID after checking the current
// one. Every session of the user is revoked on success.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
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

	ok, err := e.hasher.Verify(oldPassword, u.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if err := e.policy.Check(newPassword); err != nil {
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", err, nil)
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	now := e.now()
	u.PasswordHash = hash
	u.UpdatedAt = now
	if err := e.users.SaveUser(ctx, u); err != nil {
		return e.dependencyFailure(ctx, "save_user", err, slog.String("user_id", userID))
	}
	if err := e.revokeUserSessions(ctx, userID, session.ReasonPasswordChange, now); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, userID, "", nil, nil)
	return nil
}

func cloneProfile(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// lifetimeOf is how long a chain created at createdAt may keep rotating.
func (e *Engine) lifetimeOf(createdAt time.Time) time.Time {
	return createdAt.Add(e.config.Session.AbsoluteLifetime)
}
