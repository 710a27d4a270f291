package goReauth

import (
	"context"
	"time"
)

// UserRecord is the persisted view of an account the engine reads through
// AccountStore.
type UserRecord struct {
	UserID               int64
	Username             string
	Email                string
	PasswordHash         string
	TOTPSecret           string
	TOTPPendingSecret    string
	TOTPEnabled          bool
	TOTPLastCounter      int64
	BackupCodesRemaining int
	LinkedProviders      []LinkedProvider
	Passkeys             []PasskeyCredential
}

// LinkedProvider ties an external identity to a local account.
type LinkedProvider struct {
	Provider   string    `json:"provider"`
	ExternalID string    `json:"external_id"`
	Email      string    `json:"email,omitempty"`
	LinkedAt   time.Time `json:"linked_at"`
}

// PasskeyCredential is a registered public-key credential.
type PasskeyCredential struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PublicKey []byte    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the user snapshot embedded in a session token.
type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// SessionClaims is the decoded content of a valid session token.
type SessionClaims struct {
	UserID          int64     `json:"user_id"`
	Profile         Profile   `json:"profile"`
	ActivationStamp string    `json:"-"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// SessionResult is returned by every operation that mints a token.
type SessionResult struct {
	Token  string        `json:"token"`
	Claims SessionClaims `json:"claims"`
}

// ReauthChallenge is proof of a recent successful verification. It is
// single-use and short-lived.
type ReauthChallenge struct {
	ID        string     `json:"challenge_id"`
	UserID    int64      `json:"user_id"`
	Method    MethodKind `json:"method"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Consumed  bool       `json:"consumed"`
}

// Active reports whether c can still satisfy a gated action at now.
func (c *ReauthChallenge) Active(now time.Time) bool {
	return c != nil && !c.Consumed && now.Before(c.ExpiresAt)
}

// TOTPEnrollment carries a pending authenticator secret and its otpauth URI.
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// TOTPState is derived from the stored record.
type TOTPState int

const (
	TOTPDisabled TOTPState = iota
	TOTPPendingConfirmation
	TOTPEnabled
)

func (s TOTPState) String() string {
	switch s {
	case TOTPPendingConfirmation:
		return "pending_confirmation"
	case TOTPEnabled:
		return "enabled"
	default:
		return "disabled"
	}
}

func totpStateOf(u *UserRecord) TOTPState {
	switch {
	case u.TOTPEnabled && u.TOTPSecret != "":
		return TOTPEnabled
	case u.TOTPPendingSecret != "":
		return TOTPPendingConfirmation
	default:
		return TOTPDisabled
	}
}

// ExternalIdentity is what an IdentityVerifier asserts about the caller.
type ExternalIdentity struct {
	Provider   string
	ExternalID string
	Email      string
}

// AccountStore persists account state. Implementations must make
// AdvanceTOTPCounter, ConsumeBackupCode, UnlinkProvider and RemovePasskey
// atomic: the bool result reports whether this call changed state.
// EnableTOTP promotes the pending secret and stores the backup code hashes in
// one write, but only while the pending secret still equals secret; otherwise
// it returns ErrTOTPNotPending. AdvanceTOTPCounter only succeeds for a
// strictly greater counter.
type AccountStore interface {
	GetUserByID(ctx context.Context, userID int64) (*UserRecord, error)
	GetUserByIdentifier(ctx context.Context, identifier string) (*UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error

	SetPendingTOTPSecret(ctx context.Context, userID int64, secret string) error
	EnableTOTP(ctx context.Context, userID int64, secret string, counter int64, backupHashes [][32]byte) error
	DisableTOTP(ctx context.Context, userID int64) error
	AdvanceTOTPCounter(ctx context.Context, userID int64, counter int64) (bool, error)

	ReplaceBackupCodes(ctx context.Context, userID int64, hashes [][32]byte) error
	ConsumeBackupCode(ctx context.Context, userID int64, hash [32]byte) (bool, error)

	LinkProvider(ctx context.Context, userID int64, link LinkedProvider) error
	UnlinkProvider(ctx context.Context, userID int64, provider string) (bool, error)

	AddPasskey(ctx context.Context, userID int64, cred PasskeyCredential) error
	RemovePasskey(ctx context.Context, userID int64, credentialID string) (bool, error)
}

// PasskeyVerifier checks a WebAuthn assertion against the user's registered
// credentials and returns the credential ID that signed it. Returning an
// error wrapping ErrRejected means the assertion is bad; any other error is
// treated as an infrastructure failure.
type PasskeyVerifier interface {
	VerifyAssertion(ctx context.Context, userID int64, credentials []PasskeyCredential, assertion []byte) (string, error)
}

// IdentityVerifier validates an assertion returned by an external identity
// provider. Error semantics match PasskeyVerifier.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, provider string, assertion []byte) (ExternalIdentity, error)
}
