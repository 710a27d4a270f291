package httpapi

import (
	"time"

	goReauth "github.com/MrEthical07/goReauth"
)

// Request and response bodies. Byte fields travel as standard base64.

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type VerifyRequest struct {
	Method    string `json:"method"`
	Password  string `json:"password,omitempty"`
	Code      string `json:"code,omitempty"`
	Assertion []byte `json:"assertion,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

// Proof converts the request into an engine proof.
func (v VerifyRequest) Proof() (goReauth.Proof, bool) {
	method, ok := goReauth.ParseMethodKind(v.Method)
	if !ok {
		return goReauth.Proof{}, false
	}
	return goReauth.Proof{
		Method:    method,
		Password:  v.Password,
		Code:      v.Code,
		Assertion: v.Assertion,
		Provider:  v.Provider,
	}, true
}

type ChallengeResponse struct {
	ChallengeID string              `json:"challenge_id"`
	Method      goReauth.MethodKind `json:"method"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

type StatusResponse struct {
	Active    bool                `json:"active"`
	Method    goReauth.MethodKind `json:"method,omitempty"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
}

type MethodsResponse struct {
	Methods []goReauth.MethodKind `json:"methods"`
}

type ChangePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

type TOTPStatusResponse struct {
	State string `json:"state"`
}

type ConfirmTOTPRequest struct {
	Code string `json:"code"`
}

type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

type LinkProviderRequest struct {
	Provider  string `json:"provider"`
	Assertion []byte `json:"assertion"`
}

type RegisterPasskeyRequest struct {
	Name      string `json:"name"`
	PublicKey []byte `json:"public_key"`
}

type RemovedResponse struct {
	Removed bool `json:"removed"`
}

func tokenResponse(res *goReauth.SessionResult) TokenResponse {
	return TokenResponse{
		Token:     res.Token,
		UserID:    res.Claims.UserID,
		ExpiresAt: res.Claims.ExpiresAt,
	}
}
