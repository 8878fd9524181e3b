package guardian

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// configEnv holds raw GUARDIAN_* values. Unset variables keep the value
// from DefaultConfig.
type configEnv struct {
	AccessTTL     *time.Duration `env:"GUARDIAN_JWT_ACCESS_TTL"`
	RefreshTTL    *time.Duration `env:"GUARDIAN_JWT_REFRESH_TTL"`
	SigningMethod *string        `env:"GUARDIAN_JWT_SIGNING_METHOD"`
	// Keys are base64 encoded, or PEM when they start with "-----BEGIN".
	PrivateKey  string         `env:"GUARDIAN_JWT_PRIVATE_KEY"`
	PrivateFile string         `env:"GUARDIAN_JWT_PRIVATE_KEY_FILE"`
	PublicKey   string         `env:"GUARDIAN_JWT_PUBLIC_KEY"`
	Issuer      *string        `env:"GUARDIAN_JWT_ISSUER"`
	Audience    *string        `env:"GUARDIAN_JWT_AUDIENCE"`
	Leeway      *time.Duration `env:"GUARDIAN_JWT_LEEWAY"`
	KeyID       *string        `env:"GUARDIAN_JWT_KEY_ID"`

	Argon2Memory   *uint32 `env:"GUARDIAN_PASSWORD_MEMORY_KB"`
	Argon2Time     *uint32 `env:"GUARDIAN_PASSWORD_TIME"`
	AcceptBcrypt   *bool   `env:"GUARDIAN_PASSWORD_ACCEPT_BCRYPT"`
	UpgradeOnLogin *bool   `env:"GUARDIAN_PASSWORD_UPGRADE_ON_LOGIN"`
	MinLength      *int    `env:"GUARDIAN_PASSWORD_MIN_LENGTH"`

	SessionLifetime *time.Duration `env:"GUARDIAN_SESSION_ABSOLUTE_LIFETIME"`

	RateThreshold *int           `env:"GUARDIAN_RATE_LIMIT_THRESHOLD"`
	RateWindow    *time.Duration `env:"GUARDIAN_RATE_LIMIT_WINDOW"`
	RateLockout   *time.Duration `env:"GUARDIAN_RATE_LIMIT_LOCKOUT"`
	RateScope     *string        `env:"GUARDIAN_RATE_LIMIT_SCOPE"`
	LockAccount   *bool          `env:"GUARDIAN_LOCKOUT_LOCK_ACCOUNT"`

	AutoVerify      *bool          `env:"GUARDIAN_ACCOUNT_AUTO_VERIFY"`
	VerificationTTL *time.Duration `env:"GUARDIAN_ACCOUNT_VERIFICATION_TTL"`

	AuditEnabled   *bool `env:"GUARDIAN_AUDIT_ENABLED"`
	MetricsEnabled *bool `env:"GUARDIAN_METRICS_ENABLED"`
	LatencyEnabled *bool `env:"GUARDIAN_METRICS_LATENCY"`
}

// LoadConfigFromEnv returns DefaultConfig overridden by GUARDIAN_* variables.
// The result is not validated; Build does that.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := DefaultConfig()
	set(&cfg.JWT.AccessTTL, raw.AccessTTL)
	set(&cfg.JWT.RefreshTTL, raw.RefreshTTL)
	if raw.SigningMethod != nil {
		cfg.JWT.SigningMethod = strings.ToLower(strings.TrimSpace(*raw.SigningMethod))
	}
	set(&cfg.JWT.Issuer, raw.Issuer)
	set(&cfg.JWT.Audience, raw.Audience)
	set(&cfg.JWT.Leeway, raw.Leeway)
	set(&cfg.JWT.KeyID, raw.KeyID)

	switch {
	case raw.PrivateKey != "":
		key, err := decodeKey(raw.PrivateKey)
		if err != nil {
			return Config{}, fmt.Errorf("GUARDIAN_JWT_PRIVATE_KEY: %w", err)
		}
		cfg.JWT.PrivateKey = key
	case raw.PrivateFile != "":
		key, err := os.ReadFile(raw.PrivateFile)
		if err != nil {
			return Config{}, fmt.Errorf("GUARDIAN_JWT_PRIVATE_KEY_FILE: %w", err)
		}
		cfg.JWT.PrivateKey = key
	}
	if raw.PublicKey != "" {
		key, err := decodeKey(raw.PublicKey)
		if err != nil {
			return Config{}, fmt.Errorf("GUARDIAN_JWT_PUBLIC_KEY: %w", err)
		}
		cfg.JWT.PublicKey = key
	}

	set(&cfg.Password.Memory, raw.Argon2Memory)
	set(&cfg.Password.Time, raw.Argon2Time)
	set(&cfg.Password.AcceptBcrypt, raw.AcceptBcrypt)
	set(&cfg.Password.UpgradeOnLogin, raw.UpgradeOnLogin)
	set(&cfg.Password.MinLength, raw.MinLength)

	set(&cfg.Session.AbsoluteLifetime, raw.SessionLifetime)

	set(&cfg.RateLimit.Threshold, raw.RateThreshold)
	set(&cfg.RateLimit.Window, raw.RateWindow)
	set(&cfg.RateLimit.Lockout, raw.RateLockout)
	if raw.RateScope != nil {
		cfg.RateLimit.Scope = RateLimitScope(strings.ToLower(strings.TrimSpace(*raw.RateScope)))
	}
	set(&cfg.Lockout.LockAccount, raw.LockAccount)

	set(&cfg.Account.AutoVerify, raw.AutoVerify)
	set(&cfg.Account.VerificationTTL, raw.VerificationTTL)

	set(&cfg.Audit.Enabled, raw.AuditEnabled)
	set(&cfg.Metrics.Enabled, raw.MetricsEnabled)
	set(&cfg.Metrics.EnableLatencyHistograms, raw.LatencyEnabled)

	return cfg, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func decodeKey(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "-----BEGIN") {
		return []byte(v), nil
	}
	key, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("expected base64 or PEM: %w", err)
	}
	return key, nil
}
