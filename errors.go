package goReauth

import (
	"errors"

	"github.com/MrEthical07/goReauth/jwt"
)

var (
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUserNotFound is also what an AccountStore must return for a missing
	// user; any other store error is treated as unavailable.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials covers both an unknown identifier and a wrong
	// password at login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrTokenExpired = jwt.ErrExpired
	ErrTokenInvalid = jwt.ErrInvalid
	// ErrSessionRevoked is returned when a token carries an activation stamp
	// that is no longer current for its user.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRejected is returned when a proof of identity does not verify. The
	// wrapped message carries the RejectReason.
	ErrRejected = errors.New("verification rejected")
	// ErrStepUpRequired is returned by gated operations when no fresh,
	// unconsumed, matching challenge exists.
	ErrStepUpRequired = errors.New("step-up reauthentication required")
	// ErrCancelled resolves a client-side flow the user abandoned.
	ErrCancelled = errors.New("reauthentication cancelled")
	// ErrMethodUnsupported is returned for a proof whose method is not
	// registered or not enrolled for the user.
	ErrMethodUnsupported = errors.New("verification method unsupported")
	ErrRateLimited = errors.New("verification attempts rate limited")
	// ErrUnavailable wraps Redis and account store failures.
	ErrUnavailable = errors.New("backend unavailable")

	ErrPasswordPolicy = errors.New("password policy violation")

	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")
	ErrTOTPNotPending = errors.New("totp enrollment not started")
	ErrTOTPNotEnabled = errors.New("totp not enabled")
	ErrTOTPCodeRequired = errors.New("totp code required")
	ErrTOTPInvalid = errors.New("invalid totp code")

	ErrProviderNotLinked = errors.New("identity provider not linked")
	ErrProviderAlreadyLinked = errors.New("identity provider already linked")
	ErrPasskeyNotFound = errors.New("passkey not found")
	// ErrLastVerificationMethod is returned when a mutation would leave the
	// account without any usable verification method.
	ErrLastVerificationMethod = errors.New("cannot remove last verification method")
)

// ErrorKind is the coarse error taxonomy shared by the engine, the HTTP API
// and the client.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindExpired
	KindInvalid
	KindRejected
	KindStepUpRequired
	KindCancelled
	KindUnavailable
	KindInternal
)

// String returns the lower-case kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindExpired:
		return "expired"
	case KindInvalid:
		return "invalid"
	case KindRejected:
		return "rejected"
	case KindStepUpRequired:
		return "step_up_required"
	case KindCancelled:
		return "cancelled"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// KindOf classifies err. A revoked session reads as expired because signing
// in again recovers from it. Requests the account state cannot satisfy read
// as invalid.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrStepUpRequired):
		return KindStepUpRequired
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrSessionRevoked):
		return KindExpired
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrRejected), errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTOTPInvalid), errors.Is(err, ErrRateLimited):
		return KindRejected
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrPasswordPolicy), errors.Is(err, ErrTOTPCodeRequired),
		errors.Is(err, ErrMethodUnsupported), errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrTOTPAlreadyEnabled), errors.Is(err, ErrTOTPNotPending),
		errors.Is(err, ErrTOTPNotEnabled), errors.Is(err, ErrProviderNotLinked),
		errors.Is(err, ErrProviderAlreadyLinked), errors.Is(err, ErrPasskeyNotFound),
		errors.Is(err, ErrLastVerificationMethod):
		return KindInvalid
	default:
		return KindInternal
	}
}
