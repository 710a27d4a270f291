package goReauth

import "time"

// SecurityReport summarizes the effective security posture of an Engine,
// for startup logs and admin endpoints. It never includes key material.
type SecurityReport struct {
	SigningAlgorithm string
	KeyID            string
	SessionTTL       time.Duration
	StampTTL         time.Duration
	ChallengeTTL     time.Duration
	Argon2           PasswordConfigReport
	TOTP             TOTPConfigReport
	Methods          []MethodKind
	MaxAttempts      int
	AttemptCooldown  time.Duration
	UpgradeOnLogin   bool
	AuditEnabled     bool
	MetricsEnabled   bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

type TOTPConfigReport struct {
	Algorithm       string
	Digits          int
	Period          uint
	Skew            uint
	BackupCodeCount int
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return SecurityReport{
		SigningAlgorithm: c.JWT.SigningMethod,
		KeyID:            c.JWT.KeyID,
		SessionTTL:       c.JWT.SessionTTL,
		StampTTL:         c.Session.StampTTL,
		ChallengeTTL:     c.Reauth.ChallengeTTL,
		Argon2: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
			MinLength:   c.Password.MinLength,
		},
		TOTP: TOTPConfigReport{
			Algorithm:       c.TOTP.Algorithm,
			Digits:          c.TOTP.Digits,
			Period:          c.TOTP.Period,
			Skew:            c.TOTP.Skew,
			BackupCodeCount: c.TOTP.BackupCodeCount,
		},
		Methods:         append([]MethodKind(nil), e.methodOrder...),
		MaxAttempts:     c.Limits.MaxAttempts,
		AttemptCooldown: c.Limits.Cooldown,
		UpgradeOnLogin:  c.Password.UpgradeOnLogin,
		AuditEnabled:    c.Audit.Enabled,
		MetricsEnabled:  c.Metrics.Enabled,
	}
}
