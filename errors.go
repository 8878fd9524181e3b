package guardian

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/guardian/account"
	"github.com/MrEthical07/guardian/password"
)

var (
	// ErrWeakPassword is returned before hashing when a password fails the policy.
	ErrWeakPassword = password.ErrWeakPassword
	// ErrDuplicateEmail is returned by Register for an email already on file.
	ErrDuplicateEmail = errors.New("email already registered")
	ErrInvalidEmail   = errors.New("invalid email")
	ErrInvalidRole    = errors.New("invalid role")
	// ErrInvalidCredentials covers both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrAccountNotVerified = account.ErrNotVerified
	ErrAccountSuspended   = account.ErrSuspended
	ErrAccountLocked      = account.ErrLocked
	ErrInvalidTransition  = account.ErrInvalidTransition

	// ErrRateLimited is matched by every *RateLimitedError.
	ErrRateLimited = errors.New("too many attempts")

	ErrTokenExpired        = errors.New("token expired")
	ErrTokenInvalid        = errors.New("token invalid")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrTokenReplayDetected = errors.New("refresh token replay detected")

	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")

	// ErrDependencyUnavailable wraps every storage or network failure. The
	// engine never falls back to a default decision when it is returned.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	ErrUserNotFound        = errors.New("user not found")
	ErrVerificationInvalid = errors.New("verification token invalid")
	ErrEngineNotReady      = errors.New("engine not initialized")
)

// RateLimitedError carries the wait before another attempt may succeed.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
}
