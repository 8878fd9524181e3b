package guardian

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/guardian/authz"
	"github.com/MrEthical07/guardian/password"
	"github.com/MrEthical07/guardian/ratelimit"
)

// Config controls every engine component. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	JWT           JWTConfig
	Password      PasswordConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Lockout       LockoutConfig
	Account       AccountConfig
	Authorization AuthorizationConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration // clock skew allowed on iat; never on exp
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// AcceptBcrypt verifies legacy bcrypt hashes alongside argon2id.
	AcceptBcrypt bool
	BcryptCost   int
	// UpgradeOnLogin rehashes with the current argon2id parameters after a
	// successful login whose stored hash is weaker or legacy.
	UpgradeOnLogin bool

	MinLength      int
	MaxLength      int
	MinCharClasses int
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	// AbsoluteLifetime caps every refresh token of a chain at chain creation
	// plus this duration, however often it rotates.
	AbsoluteLifetime time.Duration
	RedisPrefix      string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitScope selects which keys count login failures.
type RateLimitScope string

const (
	ScopeIdentifier RateLimitScope = "identifier"
	ScopeAddress    RateLimitScope = "address"
	ScopeBoth       RateLimitScope = "both"
)

type RateLimitConfig struct {
	Threshold   int
	Window      time.Duration
	Lockout     time.Duration
	Scope       RateLimitScope
	RedisPrefix string
}

func (c RateLimitConfig) policy() ratelimit.Policy {
	return ratelimit.Policy{Threshold: c.Threshold, Window: c.Window, Lockout: c.Lockout}
}

// LockoutConfig couples the identifier lockout to the account state.
type LockoutConfig struct {
	// LockAccount moves the account to Locked when its identifier key locks.
	LockAccount bool
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

type AccountConfig struct {
	// AutoVerify activates new accounts at registration.
	AutoVerify bool
	// AllowAdminRegistration lets Register create admin accounts.
	AllowAdminRegistration bool

	VerificationTTL         time.Duration
	VerificationMaxAttempts int
	VerificationRedisPrefix string
}

/*
====================================
AUTHORIZATION CONFIG
====================================
*/

type AuthorizationConfig struct {
	// RoleActions lists the actions each non-admin role may perform on
	// resources it is related to.
	RoleActions map[Role][]Action
	// ClassPolicies configures each resource class; classes not listed use
	// DefaultPolicy.
	ClassPolicies map[string]authz.ClassPolicy
	DefaultPolicy authz.ClassPolicy
}

func (c AuthorizationConfig) policyFor(class string) authz.ClassPolicy {
	if p, ok := c.ClassPolicies[class]; ok {
		return p
	}
	return c.DefaultPolicy
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT.PrivateKey must still be
// supplied.
func DefaultConfig() Config {
	argon := password.DefaultConfig()
	policy := password.DefaultPolicy()
	limits := ratelimit.DefaultPolicy()

	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "guardian",
		},
		Password: PasswordConfig{
			Memory:         argon.Memory,
			Time:           argon.Time,
			Parallelism:    argon.Parallelism,
			SaltLength:     argon.SaltLength,
			KeyLength:      argon.KeyLength,
			AcceptBcrypt:   true,
			BcryptCost:     password.DefaultBcryptCost,
			UpgradeOnLogin: true,
			MinLength:      policy.MinLength,
			MaxLength:      policy.MaxLength,
			MinCharClasses: policy.MinCharClasses,
		},
		Session: SessionConfig{
			AbsoluteLifetime: 30 * 24 * time.Hour,
			RedisPrefix:      "gs",
		},
		RateLimit: RateLimitConfig{
			Threshold:   limits.Threshold,
			Window:      limits.Window,
			Lockout:     limits.Lockout,
			Scope:       ScopeIdentifier,
			RedisPrefix: "grl:",
		},
		Lockout: LockoutConfig{
			LockAccount: true,
		},
		Account: AccountConfig{
			VerificationTTL:         24 * time.Hour,
			VerificationMaxAttempts: 5,
			VerificationRedisPrefix: "gv",
		},
		Authorization: AuthorizationConfig{
			RoleActions: authz.DefaultRoleActions(),
			ClassPolicies: map[string]authz.ClassPolicy{
				ClassChild:       {HideExistence: true},
				ClassObservation: {HideExistence: true},
			},
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Authorization.RoleActions != nil {
		out.Authorization.RoleActions = make(map[Role][]Action, len(cfg.Authorization.RoleActions))
		for r, acts := range cfg.Authorization.RoleActions {
			out.Authorization.RoleActions[r] = append([]Action(nil), acts...)
		}
	}
	if cfg.Authorization.ClassPolicies != nil {
		out.Authorization.ClassPolicies = make(map[string]authz.ClassPolicy, len(cfg.Authorization.ClassPolicies))
		for k, v := range cfg.Authorization.ClassPolicies {
			out.Authorization.ClassPolicies[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than RefreshTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.MinCharClasses < 0 || c.Password.MinCharClasses > 4 {
		return errors.New("Password MinCharClasses must be between 0 and 4")
	}

	// Session
	if c.Session.AbsoluteLifetime < c.JWT.RefreshTTL {
		return errors.New("Session AbsoluteLifetime must be >= JWT RefreshTTL")
	}

	// Rate limit
	if err := c.RateLimit.policy().Validate(); err != nil {
		return fmt.Errorf("RateLimit: %w", err)
	}
	switch c.RateLimit.Scope {
	case ScopeIdentifier, ScopeAddress, ScopeBoth:
	default:
		return errors.New("RateLimit Scope must be identifier, address or both")
	}
	if c.Lockout.LockAccount && c.RateLimit.Scope == ScopeAddress {
		return errors.New("Lockout LockAccount requires identifier rate limiting")
	}

	// Account
	if c.Account.VerificationTTL <= 0 {
		return errors.New("Account VerificationTTL must be > 0")
	}
	if c.Account.VerificationMaxAttempts <= 0 {
		return errors.New("Account VerificationMaxAttempts must be > 0")
	}

	// Authorization
	for role := range c.Authorization.RoleActions {
		if !role.Valid() {
			return fmt.Errorf("Authorization RoleActions has unknown role %q", role)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
