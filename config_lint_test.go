package guardian

import (
	"testing"
	"time"

	"github.com/MrEthical07/guardian/authz"
)

func TestLint_DefaultConfigHasNoHighWarnings(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Fatalf("default config should not fail AsError(LintHigh): %v", err)
	}
	codes := cfg.Lint().Codes()
	for _, unwanted := range []string{"audit_disabled", "access_ttl_long", "child_existence_exposed", "argon2_memory_low"} {
		if containsCode(codes, unwanted) {
			t.Errorf("default config should not warn %q", unwanted)
		}
	}
}

func TestLint_LargeLeeway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.Leeway = 90 * time.Second
	if !containsCode(cfg.Lint().Codes(), "leeway_large") {
		t.Error("expected leeway_large warning")
	}
}

func TestLint_LongAccessTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.AccessTTL = time.Hour
	if !containsCode(cfg.Lint().Codes(), "access_ttl_long") {
		t.Error("expected access_ttl_long warning")
	}
}

func TestLint_AuditDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = false
	if !containsCode(cfg.Lint().Codes(), "audit_disabled") {
		t.Error("expected audit_disabled warning")
	}
}

func TestLint_ExposedChildExistence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Authorization.ClassPolicies[ClassChild] = authz.ClassPolicy{HideExistence: false}
	if !containsCode(cfg.Lint().Codes(), "child_existence_exposed") {
		t.Error("expected child_existence_exposed warning")
	}
}

func TestLint_AdminSelfRegistrationSeverity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Account.AllowAdminRegistration = true
	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Fatalf("admin registration without auto verify should only warn: %v", err)
	}

	cfg.Account.AutoVerify = true
	high := cfg.Lint().BySeverity(LintHigh)
	if len(high) != 1 || high[0].Code != "admin_self_registration" {
		t.Fatalf("expected one HIGH admin_self_registration warning, got %+v", high)
	}
	if cfg.Lint().AsError(LintHigh) == nil {
		t.Fatal("expected AsError(LintHigh) to fail")
	}
}

func TestLint_BySeverityFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = false
	cfg.Lockout.LockAccount = false
	for _, w := range cfg.Lint().BySeverity(LintWarn) {
		if w.Severity < LintWarn {
			t.Errorf("BySeverity(LintWarn) returned %s warning %q", w.Severity, w.Code)
		}
	}
}

// helpers

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
