package guardian

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/guardian/account"
	"github.com/MrEthical07/guardian/verification"
)

// RequestVerification issues a single-use verification token for a
// PendingVerification account. Delivering it (usually by email) is the
// caller's job; only a hash of its secret is stored.
func (e *Engine) RequestVerification(ctx context.Context, userID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	u, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", e.dependencyFailure(ctx, "get_user_by_id", err, slog.String("user_id", userID))
	}
	if u == nil {
		return "", ErrUserNotFound
	}
	if u.Status != account.StatusPendingVerification {
		return "", ErrInvalidTransition
	}

	token, id, secretHash, err := verification.NewToken()
	if err != nil {
		return "", err
	}
	ttl := e.config.Account.VerificationTTL
	rec := verification.Record{
		UserID:     u.ID,
		SecretHash: secretHash,
		ExpiresAt:  e.now().Add(ttl),
	}
	if err := e.verifications.Save(ctx, id, rec, ttl); err != nil {
		return "", e.dependencyFailure(ctx, "save_verification", err, slog.String("user_id", u.ID))
	}

	e.metricInc(MetricVerificationRequest)
	e.emitAudit(ctx, auditEventVerificationRequest, true, u.ID, "", nil, nil)
	return token, nil
}

// ConfirmVerification consumes token and activates its account. Unknown,
// expired, already used and mistyped tokens all return
// ErrVerificationInvalid.
func (e *Engine) ConfirmVerification(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	id, secretHash, err := verification.ParseToken(token)
	if err != nil {
		return e.verificationFailed(ctx, "")
	}

	rec, err := e.verifications.Consume(ctx, id, secretHash, e.config.Account.VerificationMaxAttempts, e.now())
	if err != nil {
		if errors.Is(err, verification.ErrUnavailable) {
			return e.dependencyFailure(ctx, "consume_verification", err)
		}
		return e.verificationFailed(ctx, "")
	}

	if err := e.VerifyAccount(ctx, rec.UserID); err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidTransition) {
			return e.verificationFailed(ctx, rec.UserID)
		}
		return err
	}

	e.emitAudit(ctx, auditEventVerificationConfirm, true, rec.UserID, "", nil, nil)
	return nil
}

func (e *Engine) verificationFailed(ctx context.Context, userID string) error {
	e.metricInc(MetricVerificationFailure)
	e.emitAudit(ctx, auditEventVerificationConfirm, false, userID, "", ErrVerificationInvalid, nil)
	return ErrVerificationInvalid
}
