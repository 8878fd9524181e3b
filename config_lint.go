package guardian

import (
	"errors"
	"strings"
	"time"
)

// LintSeverity ranks configuration warnings.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning flags a valid but risky setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

type LintResult []LintWarning

func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins every warning at or above min into one error, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	ws := r.BySeverity(min)
	if len(ws) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(ws))
	for _, w := range ws {
		msgs = append(msgs, w.Code+": "+w.Message)
	}
	return errors.New("config lint: " + strings.Join(msgs, "; "))
}

// Lint reports settings that pass Validate but weaken security.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.Leeway > 30*time.Second {
		add("leeway_large", LintWarn, "JWT leeway above 30s accepts tokens stamped well ahead of this clock")
	}
	if c.JWT.AccessTTL > 15*time.Minute {
		add("access_ttl_long", LintWarn, "access tokens cannot be revoked; keep them short")
	}
	if c.JWT.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintInfo, "refresh tokens live longer than 30 days")
	}
	if c.JWT.SigningMethod == "hs256" {
		add("signing_hs256", LintInfo, "hs256 shares the signing key with every verifier")
	}
	if c.Password.Memory < 19*1024 {
		add("argon2_memory_low", LintWarn, "argon2id memory below 19 MiB")
	}
	if c.Password.AcceptBcrypt && !c.Password.UpgradeOnLogin {
		add("legacy_hash_kept", LintInfo, "bcrypt hashes are accepted but never upgraded")
	}
	if c.RateLimit.Threshold > 10 {
		add("rate_limit_threshold_high", LintWarn, "more than 10 failures allowed per window")
	}
	if !c.Lockout.LockAccount {
		add("account_lock_disabled", LintInfo, "lockouts throttle the identifier but leave the account active")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintWarn, "security events are not audited")
	}
	if c.Account.AllowAdminRegistration {
		sev := LintWarn
		if c.Account.AutoVerify {
			sev = LintHigh
		}
		add("admin_self_registration", sev, "anyone can register an admin account")
	}
	for _, class := range []string{ClassChild, ClassObservation} {
		if !c.Authorization.policyFor(class).HideExistence {
			add("child_existence_exposed", LintWarn, "unrelated callers can probe whether "+class+" resources exist")
			break
		}
	}

	return ws
}
