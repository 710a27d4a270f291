package goReauth

import (
	"context"

	"github.com/MrEthical07/goReauth/internal/flows"
)

// BeginTOTPEnrollment stores a fresh pending secret and returns it with its
// otpauth URI. Restarting a pending enrollment replaces the secret.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, userID int64) (*TOTPEnrollment, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	enrollment, err := flows.RunBeginTOTPEnrollment(ctx, userID, e.flows.TOTP)
	if err != nil {
		return nil, err
	}
	return &TOTPEnrollment{Secret: enrollment.Secret, URI: enrollment.URI}, nil
}

// ConfirmTOTPEnrollment activates the pending secret when code matches it and
// returns the backup codes. The codes are shown once and never stored in
// plaintext. A wrong code leaves the enrollment pending.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, userID int64, code string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	return flows.RunConfirmTOTPEnrollment(ctx, userID, code, e.flows.TOTP)
}

func (e *Engine) TOTPStatus(ctx context.Context, userID int64) (TOTPState, error) {
	if e == nil || e.store == nil {
		return TOTPDisabled, ErrEngineNotReady
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return TOTPDisabled, err
	}
	return totpStateOf(u), nil
}

// DisableTOTP is a gated action. It clears the secret and every backup code,
// and refuses when TOTP is the user's last usable method.
func (e *Engine) DisableTOTP(ctx context.Context, userID int64, challengeID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.requireReauth(ctx, userID, challengeID, "disable_totp"); err != nil {
		return err
	}
	return flows.RunDisableTOTP(ctx, userID, e.flows.TOTP)
}
