package internaldefs

import (
	"github.com/MrEthical07/guardian"
)

type CounterDef struct {
	ID   guardian.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   guardian.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: guardian.MetricLoginSuccess, Name: "guardian_login_success_total", Help: "Successful logins."},
	{ID: guardian.MetricLoginFailure, Name: "guardian_login_failure_total", Help: "Logins rejected for bad credentials or account state."},
	{ID: guardian.MetricLoginRateLimited, Name: "guardian_login_rate_limited_total", Help: "Logins refused by an active lockout."},
	{ID: guardian.MetricAccountLockedOut, Name: "guardian_account_locked_out_total", Help: "Accounts locked by excessive failed logins."},
	{ID: guardian.MetricRefreshSuccess, Name: "guardian_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: guardian.MetricRefreshFailure, Name: "guardian_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: guardian.MetricReplayDetected, Name: "guardian_refresh_replay_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: guardian.MetricSessionCreated, Name: "guardian_session_created_total", Help: "Rotation chains started by login."},
	{ID: guardian.MetricSessionRevoked, Name: "guardian_session_revoked_total", Help: "Rotation chains revoked."},
	{ID: guardian.MetricLogout, Name: "guardian_logout_total", Help: "Single-session logouts."},
	{ID: guardian.MetricLogoutAll, Name: "guardian_logout_all_total", Help: "Logouts of every session of a user."},
	{ID: guardian.MetricRegisterSuccess, Name: "guardian_register_success_total", Help: "Accounts registered."},
	{ID: guardian.MetricRegisterDuplicate, Name: "guardian_register_duplicate_total", Help: "Registrations rejected for a taken email."},
	{ID: guardian.MetricVerificationRequest, Name: "guardian_verification_request_total", Help: "Email verification tokens issued."},
	{ID: guardian.MetricVerificationSuccess, Name: "guardian_verification_success_total", Help: "Accounts verified."},
	{ID: guardian.MetricVerificationFailure, Name: "guardian_verification_failure_total", Help: "Rejected verification tokens."},
	{ID: guardian.MetricAccountSuspended, Name: "guardian_account_suspended_total", Help: "Accounts suspended by an administrator."},
	{ID: guardian.MetricAccountReinstated, Name: "guardian_account_reinstated_total", Help: "Suspended accounts reinstated."},
	{ID: guardian.MetricAccountUnlocked, Name: "guardian_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: guardian.MetricPasswordChangeSuccess, Name: "guardian_password_change_success_total", Help: "Password changes."},
	{ID: guardian.MetricPasswordChangeInvalidOld, Name: "guardian_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: guardian.MetricPasswordRehash, Name: "guardian_password_rehash_total", Help: "Stored hashes upgraded after login."},
	{ID: guardian.MetricAuthzAllow, Name: "guardian_authz_allow_total", Help: "Authorization decisions that allowed access."},
	{ID: guardian.MetricAuthzDeny, Name: "guardian_authz_deny_total", Help: "Authorization decisions that denied access."},
	{ID: guardian.MetricAuthzNotFound, Name: "guardian_authz_not_found_total", Help: "Authorization decisions answered as not found."},
	{ID: guardian.MetricDependencyFailure, Name: "guardian_dependency_failure_total", Help: "Operations failed by an unavailable store or repository."},
}

var HistogramDefs = []HistogramDef{
	{ID: guardian.MetricVerifyAccessLatency, Name: "guardian_verify_access_latency_seconds", Help: "Access token verification latency."},
	{ID: guardian.MetricAuthorizeLatency, Name: "guardian_authorize_latency_seconds", Help: "Authorization decision latency."},
}

// HistogramBounds are the finite upper bounds, in seconds, of the first
// seven buckets. The eighth bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names every bucket, +Inf included, for exporters
// that publish one series per bucket.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

const AuditDroppedName = "guardian_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
