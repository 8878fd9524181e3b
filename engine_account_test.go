package guardian_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/account"
)

func pendingEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	cfg.Account.AutoVerify = false
	return newTestEnv(t, cfg)
}

func TestVerificationFlow(t *testing.T) {
	env := pendingEnv(t)
	u := env.register(t, "a@example.com", guardian.RoleParent)
	ctx := context.Background()

	token, err := env.engine.RequestVerification(ctx, u.ID)
	if err != nil {
		t.Fatalf("RequestVerification: %v", err)
	}
	if err := env.engine.ConfirmVerification(ctx, token); err != nil {
		t.Fatalf("ConfirmVerification: %v", err)
	}
	stored := env.user(t, u.ID)
	if stored.Status != account.StatusActive || stored.VerifiedAt == nil {
		t.Fatalf("status=%s verified_at=%v", stored.Status, stored.VerifiedAt)
	}
	env.login(t, "a@example.com")

	// Tokens are single use.
	if err := env.engine.ConfirmVerification(ctx, token); !errors.Is(err, guardian.ErrVerificationInvalid) {
		t.Fatalf("reused token: %v", err)
	}
	// Active accounts cannot request another.
	if _, err := env.engine.RequestVerification(ctx, u.ID); !errors.Is(err, guardian.ErrInvalidTransition) {
		t.Fatalf("request on active account: %v", err)
	}
}

func TestVerificationRejections(t *testing.T) {
	env := pendingEnv(t)
	u := env.register(t, "a@example.com", guardian.RoleParent)
	ctx := context.Background()

	if _, err := env.engine.RequestVerification(ctx, "missing"); !errors.Is(err, guardian.ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
	for _, bad := range []string{"", "garbage", "not-a-uuid.secret"} {
		if err := env.engine.ConfirmVerification(ctx, bad); !errors.Is(err, guardian.ErrVerificationInvalid) {
			t.Fatalf("ConfirmVerification(%q) = %v", bad, err)
		}
	}

	token, err := env.engine.RequestVerification(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	id, _, _ := strings.Cut(token, ".")
	wrong := id + "." + strings.Repeat("A", 43)
	for i := 0; i < 5; i++ {
		if err := env.engine.ConfirmVerification(ctx, wrong); !errors.Is(err, guardian.ErrVerificationInvalid) {
			t.Fatalf("mistyped secret: %v", err)
		}
	}
	// Too many wrong guesses burn the token.
	if err := env.engine.ConfirmVerification(ctx, token); !errors.Is(err, guardian.ErrVerificationInvalid) {
		t.Fatalf("burned token accepted: %v", err)
	}

	token, err = env.engine.RequestVerification(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(24*time.Hour + time.Second)
	if err := env.engine.ConfirmVerification(ctx, token); !errors.Is(err, guardian.ErrVerificationInvalid) {
		t.Fatalf("expired token accepted: %v", err)
	}
	if got := env.user(t, u.ID).Status; got != account.StatusPendingVerification {
		t.Fatalf("status = %s", got)
	}
}

func TestConfirmVerificationWithCancelledContext(t *testing.T) {
	env := pendingEnv(t)
	u := env.register(t, "a@example.com", guardian.RoleParent)

	token, err := env.engine.RequestVerification(context.Background(), u.ID)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := env.engine.ConfirmVerification(ctx, token); !errors.Is(err, guardian.ErrDependencyUnavailable) {
		t.Fatalf("cancelled confirm: %v", err)
	}
	// The token was not consumed.
	if err := env.engine.ConfirmVerification(context.Background(), token); err != nil {
		t.Fatalf("confirm after cancel: %v", err)
	}
}

func TestVerifyAccountIsIdempotent(t *testing.T) {
	env := pendingEnv(t)
	u := env.register(t, "a@example.com", guardian.RoleParent)
	ctx := context.Background()

	if err := env.engine.VerifyAccount(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	first := env.user(t, u.ID).VerifiedAt
	env.clock.Advance(time.Hour)
	if err := env.engine.VerifyAccount(ctx, u.ID); err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if !env.user(t, u.ID).VerifiedAt.Equal(*first) {
		t.Fatal("verifying twice moved VerifiedAt")
	}
}

func TestSuspendAndReinstate(t *testing.T) {
	env := newTestEnv(t, testConfig())
	u := env.register(t, "a@example.com", guardian.RoleParent)
	pair, _ := env.login(t, "a@example.com")
	ctx := context.Background()

	if err := env.engine.SuspendAccount(ctx, u.ID); err != nil {
		t.Fatalf("SuspendAccount: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, "a@example.com", testPassword); !errors.Is(err, guardian.ErrAccountSuspended) {
		t.Fatalf("login while suspended: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, guardian.ErrAccountSuspended) {
		t.Fatalf("refresh after suspension: %v", err)
	}
	if err := env.engine.SuspendAccount(ctx, u.ID); !errors.Is(err, guardian.ErrInvalidTransition) {
		t.Fatalf("double suspend: %v", err)
	}

	if err := env.engine.ReinstateAccount(ctx, u.ID); err != nil {
		t.Fatalf("ReinstateAccount: %v", err)
	}
	env.login(t, "a@example.com")
	if err := env.engine.ReinstateAccount(ctx, u.ID); !errors.Is(err, guardian.ErrInvalidTransition) {
		t.Fatalf("reinstate active: %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(*testEnv, string)
		op    func(*guardian.Engine, context.Context, string) error
		want  error
		final account.Status
	}{
		{
			name:  "pending cannot be suspended",
			op:    (*guardian.Engine).SuspendAccount,
			want:  guardian.ErrInvalidTransition,
			final: account.StatusPendingVerification,
		},
		{
			name:  "pending cannot be reinstated",
			op:    (*guardian.Engine).ReinstateAccount,
			want:  guardian.ErrInvalidTransition,
			final: account.StatusPendingVerification,
		},
		{
			name: "suspended cannot be verified",
			setup: func(env *testEnv, id string) {
				_ = env.engine.VerifyAccount(ctx, id)
				_ = env.engine.SuspendAccount(ctx, id)
			},
			op:    (*guardian.Engine).VerifyAccount,
			want:  guardian.ErrInvalidTransition,
			final: account.StatusSuspended,
		},
		{
			name:  "unlock of a pending account only clears counters",
			op:    (*guardian.Engine).UnlockAccount,
			final: account.StatusPendingVerification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := pendingEnv(t)
			u := env.register(t, "a@example.com", guardian.RoleParent)
			if tt.setup != nil {
				tt.setup(env, u.ID)
			}
			err := tt.op(env.engine, ctx, u.ID)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if got := env.user(t, u.ID).Status; got != tt.final {
				t.Fatalf("status = %s, want %s", got, tt.final)
			}
		})
	}

	env := newTestEnv(t, testConfig())
	for _, op := range []func(*guardian.Engine, context.Context, string) error{
		(*guardian.Engine).VerifyAccount,
		(*guardian.Engine).SuspendAccount,
		(*guardian.Engine).ReinstateAccount,
		(*guardian.Engine).UnlockAccount,
	} {
		if err := op(env.engine, ctx, "missing"); !errors.Is(err, guardian.ErrUserNotFound) {
			t.Fatalf("unknown user: %v", err)
		}
	}
}

func TestUnlockAccountLiftsLockout(t *testing.T) {
	env := newTestEnv(t, testConfig())
	u := env.register(t, "a@example.com", guardian.RoleParent)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Authenticate(ctx, "a@example.com", "Wrong-Horse-9")
	}
	if got := env.user(t, u.ID).Status; got != account.StatusLocked {
		t.Fatalf("status = %s", got)
	}

	if err := env.engine.UnlockAccount(ctx, u.ID); err != nil {
		t.Fatalf("UnlockAccount: %v", err)
	}
	stored := env.user(t, u.ID)
	if stored.Status != account.StatusActive || stored.LockedUntil != nil || stored.FailedLoginCount != 0 {
		t.Fatalf("after unlock: %+v", stored)
	}
	// The rate limit counter went with the lock.
	env.login(t, "a@example.com")
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, testConfig())
	u := env.register(t, "a@example.com", guardian.RoleParent)
	ctx := context.Background()

	if err := env.engine.ChangePassword(ctx, u.ID, "Wrong-Horse-9", "Battery-Staple-7"); !errors.Is(err, guardian.ErrInvalidCredentials) {
		t.Fatalf("wrong old password: %v", err)
	}
	if err := env.engine.ChangePassword(ctx, u.ID, testPassword, "weak"); !errors.Is(err, guardian.ErrWeakPassword) {
		t.Fatalf("weak new password: %v", err)
	}
	if err := env.engine.ChangePassword(ctx, "missing", testPassword, "Battery-Staple-7"); !errors.Is(err, guardian.ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}

	if err := env.engine.ChangePassword(ctx, u.ID, testPassword, "Battery-Staple-7"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, "a@example.com", testPassword); !errors.Is(err, guardian.ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, "a@example.com", "Battery-Staple-7"); err != nil {
		t.Fatalf("new password: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[guardian.MetricPasswordChangeSuccess] != 1 || snap.Counters[guardian.MetricPasswordChangeInvalidOld] != 1 {
		t.Fatalf("password change counters: %v", snap.Counters)
	}
}
