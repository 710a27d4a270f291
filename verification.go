package goReauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goReauth/internal/flows"
	"github.com/MrEthical07/goReauth/password"
)

// MethodKind names a verification method.
type MethodKind string

const (
	MethodPassword   MethodKind = "password"
	MethodTOTP       MethodKind = "totp"
	MethodBackupCode MethodKind = "backup_code"
	MethodPasskey    MethodKind = "passkey"
	MethodSSO        MethodKind = "sso"
)

// ParseMethodKind returns the MethodKind for s, or false for unknown names.
func ParseMethodKind(s string) (MethodKind, bool) {
	switch m := MethodKind(s); m {
	case MethodPassword, MethodTOTP, MethodBackupCode, MethodPasskey, MethodSSO:
		return m, true
	default:
		return "", false
	}
}

// Proof is the caller-supplied evidence for one verification attempt. Which
// fields are read depends on Method.
type Proof struct {
	Method    MethodKind
	Password  string
	Code      string
	Assertion []byte
	Provider  string
}

// RejectReason explains a rejected Outcome.
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonNotEnrolled       RejectReason = "not_enrolled"
	ReasonMismatch          RejectReason = "mismatch"
	ReasonReplayed          RejectReason = "replayed"
	ReasonMalformed         RejectReason = "malformed"
	ReasonProviderNotLinked RejectReason = "provider_not_linked"
)

// Outcome is the result of a verification attempt. A rejection is a value;
// infrastructure failures come back as errors.
type Outcome struct {
	Verified bool
	UserID   int64
	Reason   RejectReason
}

func verifiedOutcome(userID int64) Outcome {
	return Outcome{Verified: true, UserID: userID}
}

func rejectedOutcome(userID int64, reason RejectReason) Outcome {
	return Outcome{UserID: userID, Reason: reason}
}

// VerificationMethod is the closed set of ways a user can prove identity.
// New variants are added inside this package.
type VerificationMethod interface {
	Kind() MethodKind
	Attempt(ctx context.Context, user *UserRecord, proof Proof) (Outcome, error)
	// Usable reports whether user has this method set up.
	Usable(user *UserRecord) bool
	sealed()
}

type passwordMethod struct {
	hasher password.Hasher
}

func (passwordMethod) Kind() MethodKind { return MethodPassword }
func (passwordMethod) sealed()          {}

func (passwordMethod) Usable(u *UserRecord) bool { return u.PasswordHash != "" }

func (m passwordMethod) Attempt(_ context.Context, u *UserRecord, proof Proof) (Outcome, error) {
	if u.PasswordHash == "" {
		return rejectedOutcome(u.UserID, ReasonNotEnrolled), nil
	}
	if proof.Password == "" {
		return rejectedOutcome(u.UserID, ReasonMalformed), nil
	}
	ok, err := m.hasher.Verify(proof.Password, u.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return rejectedOutcome(u.UserID, ReasonMismatch), nil
		}
		return Outcome{}, fmt.Errorf("verify password hash: %w", err)
	}
	if !ok {
		return rejectedOutcome(u.UserID, ReasonMismatch), nil
	}
	return verifiedOutcome(u.UserID), nil
}

type totpMethod struct {
	e *Engine
}

func (totpMethod) Kind() MethodKind { return MethodTOTP }
func (totpMethod) sealed()          {}

func (totpMethod) Usable(u *UserRecord) bool { return totpStateOf(u) == TOTPEnabled }

func (m totpMethod) Attempt(ctx context.Context, u *UserRecord, proof Proof) (Outcome, error) {
	if totpStateOf(u) != TOTPEnabled {
		return rejectedOutcome(u.UserID, ReasonNotEnrolled), nil
	}
	ok, counter, err := m.e.totp.VerifyCode(u.TOTPSecret, proof.Code, m.e.now())
	if err != nil {
		return Outcome{}, fmt.Errorf("verify totp: %w", err)
	}
	if !ok {
		m.e.metricInc(MetricTOTPFailure)
		return rejectedOutcome(u.UserID, ReasonMismatch), nil
	}
	advanced, err := m.e.store.AdvanceTOTPCounter(ctx, u.UserID, counter)
	if err != nil {
		return Outcome{}, errors.Join(ErrUnavailable, err)
	}
	if !advanced {
		m.e.metricInc(MetricTOTPReplay)
		return rejectedOutcome(u.UserID, ReasonReplayed), nil
	}
	return verifiedOutcome(u.UserID), nil
}

type backupCodeMethod struct {
	e *Engine
}

func (backupCodeMethod) Kind() MethodKind { return MethodBackupCode }
func (backupCodeMethod) sealed()          {}

func (backupCodeMethod) Usable(u *UserRecord) bool {
	return totpStateOf(u) == TOTPEnabled && u.BackupCodesRemaining > 0
}

func (m backupCodeMethod) Attempt(ctx context.Context, u *UserRecord, proof Proof) (Outcome, error) {
	if totpStateOf(u) != TOTPEnabled || u.BackupCodesRemaining <= 0 {
		return rejectedOutcome(u.UserID, ReasonNotEnrolled), nil
	}
	ok, err := flows.RunConsumeBackupCode(ctx, u.UserID, proof.Code, m.e.backupCodeDeps())
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return rejectedOutcome(u.UserID, ReasonMismatch), nil
	}
	return verifiedOutcome(u.UserID), nil
}

type passkeyMethod struct {
	verifier PasskeyVerifier
}

func (passkeyMethod) Kind() MethodKind { return MethodPasskey }
func (passkeyMethod) sealed()          {}

func (passkeyMethod) Usable(u *UserRecord) bool { return len(u.Passkeys) > 0 }

func (m passkeyMethod) Attempt(ctx context.Context, u *UserRecord, proof Proof) (Outcome, error) {
	if len(u.Passkeys) == 0 {
		return rejectedOutcome(u.UserID, ReasonNotEnrolled), nil
	}
	if len(proof.Assertion) == 0 {
		return rejectedOutcome(u.UserID, ReasonMalformed), nil
	}
	credentialID, err := m.verifier.VerifyAssertion(ctx, u.UserID, u.Passkeys, proof.Assertion)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return rejectedOutcome(u.UserID, ReasonMismatch), nil
		}
		return Outcome{}, errors.Join(ErrUnavailable, err)
	}
	for _, cred := range u.Passkeys {
		if cred.ID == credentialID {
			return verifiedOutcome(u.UserID), nil
		}
	}
	return rejectedOutcome(u.UserID, ReasonMismatch), nil
}

type ssoMethod struct {
	verifier IdentityVerifier
}

func (ssoMethod) Kind() MethodKind { return MethodSSO }
func (ssoMethod) sealed()          {}

func (ssoMethod) Usable(u *UserRecord) bool { return len(u.LinkedProviders) > 0 }

func (m ssoMethod) Attempt(ctx context.Context, u *UserRecord, proof Proof) (Outcome, error) {
	if len(u.LinkedProviders) == 0 {
		return rejectedOutcome(u.UserID, ReasonNotEnrolled), nil
	}
	if proof.Provider == "" || len(proof.Assertion) == 0 {
		return rejectedOutcome(u.UserID, ReasonMalformed), nil
	}
	identity, err := m.verifier.VerifyIdentity(ctx, proof.Provider, proof.Assertion)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return rejectedOutcome(u.UserID, ReasonMismatch), nil
		}
		return Outcome{}, errors.Join(ErrUnavailable, err)
	}
	for _, link := range u.LinkedProviders {
		if link.Provider == identity.Provider && link.ExternalID == identity.ExternalID {
			return verifiedOutcome(u.UserID), nil
		}
	}
	return rejectedOutcome(u.UserID, ReasonProviderNotLinked), nil
}

// usableMethods lists the methods user could verify with right now, in the
// engine's registration order.
func (e *Engine) usableMethods(u *UserRecord) []MethodKind {
	out := make([]MethodKind, 0, len(e.methodOrder))
	for _, kind := range e.methodOrder {
		if e.methods[kind].Usable(u) {
			out = append(out, kind)
		}
	}
	return out
}

// methodRemoval names what a mutation is about to take away.
type methodRemoval struct {
	totp      bool
	provider  string
	passkeyID string
}

// leavesUsableMethod reports whether user keeps at least one usable method
// after r. Backup codes do not count on their own since they are tied to TOTP.
func leavesUsableMethod(u *UserRecord, r methodRemoval) bool {
	if u.PasswordHash != "" {
		return true
	}
	if !r.totp && totpStateOf(u) == TOTPEnabled {
		return true
	}
	for _, cred := range u.Passkeys {
		if cred.ID != r.passkeyID {
			return true
		}
	}
	for _, link := range u.LinkedProviders {
		if link.Provider != r.provider {
			return true
		}
	}
	return false
}
