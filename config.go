package goReauth

import (
	"errors"
	"strings"
	"time"
)

// Config holds every tunable of the engine. Build clones it, so mutating a
// Config after Build has no effect on a running Engine.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Reauth   ReauthConfig
	TOTP     TOTPConfig
	Password PasswordConfig
	Limits   LimitsConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures session token signing.
type JWTConfig struct {
	SessionTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the activation stamp store. StampTTL must be at
// least JWT.SessionTTL, otherwise live tokens lose their stamp early.
type SessionConfig struct {
	RedisPrefix string
	StampTTL    time.Duration
}

/*
====================================
REAUTH CONFIG
====================================
*/

// ReauthConfig configures challenge lifetime. ChallengeGrace keeps an expired
// record readable for a short time so the gate can report it as expired
// instead of missing.
type ReauthConfig struct {
	RedisPrefix    string
	ChallengeTTL   time.Duration
	ChallengeGrace time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

type TOTPConfig struct {
	Issuer           string
	Period           uint
	Digits           int
	Algorithm        string // "SHA1" (default), "SHA256", "SHA512"
	Skew             uint
	BackupCodeCount  int
	BackupCodeLength int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

/*
====================================
LIMITS CONFIG
====================================
*/

// LimitsConfig bounds failed verification attempts per user. The window
// opens at the first failure.
type LimitsConfig struct {
	RedisPrefix        string
	MaxAttempts        int
	Cooldown           time.Duration
	ConfirmMaxAttempts int
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

// DefaultConfig returns a Config with production defaults. Key material is
// left empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SessionTTL:    12 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "rs",
			StampTTL:    30 * 24 * time.Hour,
		},
		Reauth: ReauthConfig{
			RedisPrefix:    "rch",
			ChallengeTTL:   5 * time.Minute,
			ChallengeGrace: time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:           "goReauth",
			Period:           30,
			Digits:           6,
			Algorithm:        "SHA1",
			Skew:             1,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		Limits: LimitsConfig{
			RedisPrefix:        "rat",
			MaxAttempts:        5,
			Cooldown:           5 * time.Minute,
			ConfirmMaxAttempts: 5,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.SessionTTL <= 0 {
		return errors.New("JWT SessionTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.StampTTL < c.JWT.SessionTTL {
		return errors.New("Session StampTTL must be >= JWT SessionTTL")
	}

	// Reauth
	if strings.TrimSpace(c.Reauth.RedisPrefix) == "" {
		return errors.New("Reauth RedisPrefix must not be empty")
	}
	if c.Reauth.ChallengeTTL <= 0 {
		return errors.New("Reauth ChallengeTTL must be > 0")
	}
	if c.Reauth.ChallengeTTL > time.Hour {
		return errors.New("Reauth ChallengeTTL must be <= 1h")
	}
	if c.Reauth.ChallengeGrace < 0 {
		return errors.New("Reauth ChallengeGrace must be >= 0")
	}

	// TOTP
	if c.TOTP.Period == 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be <= 3")
	}
	if c.TOTP.BackupCodeCount <= 0 || c.TOTP.BackupCodeCount > 50 {
		return errors.New("TOTP BackupCodeCount must be within [1, 50]")
	}
	if c.TOTP.BackupCodeLength < 8 || c.TOTP.BackupCodeLength > 32 {
		return errors.New("TOTP BackupCodeLength must be within [8, 32]")
	}

	// Password
	if c.Password.MinLength <= 0 {
		return errors.New("Password MinLength must be > 0")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Limits
	if c.Limits.MaxAttempts <= 0 {
		return errors.New("Limits MaxAttempts must be > 0")
	}
	if c.Limits.Cooldown <= 0 {
		return errors.New("Limits Cooldown must be > 0")
	}
	if c.Limits.ConfirmMaxAttempts <= 0 {
		return errors.New("Limits ConfirmMaxAttempts must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
