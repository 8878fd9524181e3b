package guardian

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/guardian/authz"
	"github.com/MrEthical07/guardian/jwt"
	"github.com/MrEthical07/guardian/password"
	"github.com/MrEthical07/guardian/ratelimit"
	"github.com/MrEthical07/guardian/session"
	"github.com/MrEthical07/guardian/verification"
)

// dummyPassword is hashed once at build time so unknown-email logins pay the
// same verification cost as wrong passwords.
const dummyPassword = "guardian-timing-equalizer-Pa55!"

// Builder assembles an Engine. Configure it during initialization; Build may
// be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserRepository
	grants    GrantRepository
	directory ResourceDirectory

	sessions      session.Store
	counters      ratelimit.Store
	verifications verification.Store

	logger    *slog.Logger
	now       func() time.Time
	auditSink AuditSink

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs every store not set explicitly with Redis.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserRepository(r UserRepository) *Builder {
	b.users = r
	return b
}

func (b *Builder) WithGrantRepository(r GrantRepository) *Builder {
	b.grants = r
	return b
}

func (b *Builder) WithResourceDirectory(d ResourceDirectory) *Builder {
	b.directory = d
	return b
}

func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithCounterStore(s ratelimit.Store) *Builder {
	b.counters = s
	return b
}

func (b *Builder) WithVerificationStore(s verification.Store) *Builder {
	b.verifications = s
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces time.Now for every time-dependent decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user repository required")
	}
	if b.grants == nil {
		return nil, errors.New("grant repository required")
	}
	if b.directory == nil {
		return nil, errors.New("resource directory required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- STORES --------
	sessions, counters, verifications := b.sessions, b.counters, b.verifications
	if b.redis != nil {
		if sessions == nil {
			sessions = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
		}
		if counters == nil {
			counters = ratelimit.NewRedisStore(b.redis, cfg.RateLimit.RedisPrefix)
		}
		if verifications == nil {
			verifications = verification.NewRedisStore(b.redis, cfg.Account.VerificationRedisPrefix)
		}
	}
	if sessions == nil || counters == nil || verifications == nil {
		logger.Warn("guardian: using in-memory stores; state is not shared between processes")
		if sessions == nil {
			sessions = session.NewMemoryStore()
		}
		if counters == nil {
			counters = ratelimit.NewMemoryStore()
		}
		if verifications == nil {
			verifications = verification.NewMemoryStore()
		}
	}

	// -------- ROLE TABLE --------
	table, err := authz.NewTable(cfg.Authorization.RoleActions)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	argon, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	var legacy []password.Algorithm
	if cfg.Password.AcceptBcrypt {
		bc, err := password.NewBcrypt(cfg.Password.BcryptCost)
		if err != nil {
			return nil, err
		}
		legacy = append(legacy, bc)
	}
	hasher := password.NewMulti(argon, legacy...)
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:        cfg,
		logger:        logger,
		now:           now,
		users:         b.users,
		grants:        b.grants,
		directory:     b.directory,
		sessions:      sessions,
		limiter:       ratelimit.New(counters, cfg.RateLimit.policy(), now),
		verifications: verifications,
		hasher:        hasher,
		policy: password.Policy{
			MinLength:      cfg.Password.MinLength,
			MaxLength:      cfg.Password.MaxLength,
			MinCharClasses: cfg.Password.MinCharClasses,
		},
		dummyHash: dummy,
		tokens:    tokens,
		table:     table,
		validate:  validator.New(),
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink, logger),
		metrics:   NewMetrics(cfg.Metrics),
	}

	b.built = true

	return engine, nil
}
