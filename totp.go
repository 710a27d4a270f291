package goReauth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpSecretBytes = 20

type totpManager struct {
	issuer    string
	period    uint
	skew      uint
	digits    otp.Digits
	algorithm otp.Algorithm
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	m := &totpManager{
		issuer:    cfg.Issuer,
		period:    cfg.Period,
		skew:      cfg.Skew,
		digits:    otp.DigitsSix,
		algorithm: otp.AlgorithmSHA1,
	}
	if m.period == 0 {
		m.period = 30
	}
	if cfg.Digits == 8 {
		m.digits = otp.DigitsEight
	}
	switch strings.ToUpper(cfg.Algorithm) {
	case "SHA256":
		m.algorithm = otp.AlgorithmSHA256
	case "SHA512":
		m.algorithm = otp.AlgorithmSHA512
	}
	return m
}

// GenerateSecret returns a new base32 secret and its otpauth:// URI.
func (m *totpManager) GenerateSecret(account string) (string, string, error) {
	if m == nil {
		return "", "", ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Period:      m.period,
		SecretSize:  totpSecretBytes,
		Digits:      m.digits,
		Algorithm:   m.algorithm,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// VerifyCode checks code against every step in [now-skew, now+skew] and
// returns the matched step counter for replay tracking.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.digits.Length() || !isNumericString(trimmed) {
		return false, 0, nil
	}
	if secret == "" {
		return false, 0, errors.New("empty totp secret")
	}

	period := int64(m.period)
	baseCounter := now.Unix() / period
	skew := int64(m.skew)
	for step := -skew; step <= skew; step++ {
		counter := baseCounter + step
		if counter < 0 {
			continue
		}
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0), totp.ValidateOpts{
			Period:    m.period,
			Digits:    m.digits,
			Algorithm: m.algorithm,
		})
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

func isNumericString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
