package goReauth

import (
	"errors"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goReauth/internal/audit"
	"github.com/MrEthical07/goReauth/internal/limiters"
	"github.com/MrEthical07/goReauth/internal/stores"
	"github.com/MrEthical07/goReauth/jwt"
	"github.com/MrEthical07/goReauth/password"
	"github.com/MrEthical07/goReauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store      AccountStore
	passkeys   PasskeyVerifier
	identities IdentityVerifier
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing activation stamps, challenges and
// attempt limits. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the account persistence layer. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.store = store
	return b
}

// WithPasskeyVerifier enables the passkey method.
func (b *Builder) WithPasskeyVerifier(v PasskeyVerifier) *Builder {
	b.passkeys = v
	return b
}

// WithIdentityVerifier enables the sso method and LinkProvider.
func (b *Builder) WithIdentityVerifier(v IdentityVerifier) *Builder {
	b.identities = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides time.Now. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("account store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	codec, err := jwt.NewCodec(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinLength,
		MaxPasswordBytes: cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		store:       b.store,
		codec:       codec,
		activations: session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.StampTTL),
		challenges:  stores.NewReauthChallengeStore(b.redis, cfg.Reauth.RedisPrefix, cfg.Reauth.ChallengeGrace),
		limiter: limiters.NewAttemptLimiter(b.redis, cfg.Limits.RedisPrefix, limiters.AttemptConfig{
			MaxAttempts: cfg.Limits.MaxAttempts,
			Cooldown:    cfg.Limits.Cooldown,
		}),
		confirmLimiter: limiters.NewAttemptLimiter(b.redis, cfg.Limits.RedisPrefix, limiters.AttemptConfig{
			MaxAttempts: cfg.Limits.ConfirmMaxAttempts,
			Cooldown:    cfg.Limits.Cooldown,
		}),
		hasher:     hasher,
		totp:       newTOTPManager(cfg.TOTP),
		audit:      internalaudit.NewDispatcher(internalaudit.Config(cfg.Audit), b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		now:        now,
		identities: b.identities,
	}

	engine.registerMethod(passwordMethod{hasher: hasher})
	engine.registerMethod(totpMethod{e: engine})
	engine.registerMethod(backupCodeMethod{e: engine})
	if b.passkeys != nil {
		engine.registerMethod(passkeyMethod{verifier: b.passkeys})
	}
	if b.identities != nil {
		engine.registerMethod(ssoMethod{verifier: b.identities})
	}
	engine.flows = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}

func (e *Engine) registerMethod(m VerificationMethod) {
	if e.methods == nil {
		e.methods = make(map[MethodKind]VerificationMethod, 5)
	}
	e.methods[m.Kind()] = m
	e.methodOrder = append(e.methodOrder, m.Kind())
}
