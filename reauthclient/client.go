package reauthclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/httpapi"
	"github.com/MrEthical07/goReauth/result"
)

const maxResponseBytes = 1 << 20

// Client calls the httpapi server on behalf of one signed-in user. It keeps
// the current bearer token and replaces it whenever the server mints a new
// one. Client is safe for concurrent use.
type Client struct {
	base string
	http *http.Client

	mu    sync.RWMutex
	token string
}

type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client for request/response calls.
// RemoteTopic streams reuse its Transport without the client timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithToken seeds the bearer token, e.g. for a second context of the same
// session.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// NewClient returns a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Login(ctx context.Context, identifier, password string) (*httpapi.TokenResponse, error) {
	var out httpapi.TokenResponse
	err := c.do(ctx, http.MethodPost, "/v1/session/login", "", httpapi.LoginRequest{
		Identifier: identifier,
		Password:   password,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *Client) Refresh(ctx context.Context) (*httpapi.TokenResponse, error) {
	return c.tokenCall(ctx, http.MethodPost, "/v1/session/refresh", "", nil)
}

func (c *Client) Session(ctx context.Context) (*goReauth.SessionClaims, error) {
	var out goReauth.SessionClaims
	if err := c.do(ctx, http.MethodGet, "/v1/session", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Methods(ctx context.Context) ([]goReauth.MethodKind, error) {
	var out httpapi.MethodsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/reauth/methods", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Methods, nil
}

// Verify submits proof and returns the issued challenge.
func (c *Client) Verify(ctx context.Context, proof goReauth.Proof) (*httpapi.ChallengeResponse, error) {
	var out httpapi.ChallengeResponse
	err := c.do(ctx, http.MethodPost, "/v1/reauth/verify", "", httpapi.VerifyRequest{
		Method:    string(proof.Method),
		Password:  proof.Password,
		Code:      proof.Code,
		Assertion: proof.Assertion,
		Provider:  proof.Provider,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReauthStatus(ctx context.Context) (*httpapi.StatusResponse, error) {
	var out httpapi.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/reauth/status", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangePassword is gated. An empty challengeID uses the current challenge.
func (c *Client) ChangePassword(ctx context.Context, challengeID, newPassword string) (*httpapi.TokenResponse, error) {
	return c.tokenCall(ctx, http.MethodPost, "/v1/account/password", challengeID, httpapi.ChangePasswordRequest{NewPassword: newPassword})
}

func (c *Client) RevokeSessions(ctx context.Context, challengeID string) (*httpapi.TokenResponse, error) {
	return c.tokenCall(ctx, http.MethodPost, "/v1/account/sessions/revoke", challengeID, nil)
}

func (c *Client) BeginTOTP(ctx context.Context) (*goReauth.TOTPEnrollment, error) {
	var out goReauth.TOTPEnrollment
	if err := c.do(ctx, http.MethodPost, "/v1/account/totp/enroll", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConfirmTOTP(ctx context.Context, code string) ([]string, error) {
	var out httpapi.BackupCodesResponse
	if err := c.do(ctx, http.MethodPost, "/v1/account/totp/confirm", "", httpapi.ConfirmTOTPRequest{Code: code}, &out); err != nil {
		return nil, err
	}
	return out.BackupCodes, nil
}

func (c *Client) TOTPStatus(ctx context.Context) (string, error) {
	var out httpapi.TOTPStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/account/totp", "", nil, &out); err != nil {
		return "", err
	}
	return out.State, nil
}

func (c *Client) DisableTOTP(ctx context.Context, challengeID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/account/totp", challengeID, nil, nil)
}

func (c *Client) RegenerateBackupCodes(ctx context.Context, challengeID string) ([]string, error) {
	var out httpapi.BackupCodesResponse
	if err := c.do(ctx, http.MethodPost, "/v1/account/totp/backup-codes", challengeID, nil, &out); err != nil {
		return nil, err
	}
	return out.BackupCodes, nil
}

func (c *Client) LinkProvider(ctx context.Context, provider string, assertion []byte) (*goReauth.LinkedProvider, error) {
	var out goReauth.LinkedProvider
	err := c.do(ctx, http.MethodPost, "/v1/account/providers", "", httpapi.LinkProviderRequest{
		Provider:  provider,
		Assertion: assertion,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UnlinkProvider(ctx context.Context, challengeID, provider string) error {
	return c.do(ctx, http.MethodDelete, "/v1/account/providers/"+url.PathEscape(provider), challengeID, nil, nil)
}

func (c *Client) RegisterPasskey(ctx context.Context, challengeID, name string, publicKey []byte) (*goReauth.PasskeyCredential, error) {
	var out goReauth.PasskeyCredential
	err := c.do(ctx, http.MethodPost, "/v1/account/passkeys", challengeID, httpapi.RegisterPasskeyRequest{
		Name:      name,
		PublicKey: publicKey,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemovePasskey(ctx context.Context, challengeID, credentialID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/account/passkeys/"+url.PathEscape(credentialID), challengeID, nil, nil)
}

// Execute runs a gated action against the current challenge. It lets a
// Client serve as a Coordinator's Executor.
func (c *Client) Execute(ctx context.Context, action PendingAction) (json.RawMessage, error) {
	var out any
	var err error
	switch action.Kind {
	case ActionChangePassword:
		var p httpapi.ChangePasswordRequest
		if err := decodePayload(action, &p); err != nil {
			return nil, err
		}
		out, err = c.ChangePassword(ctx, "", p.NewPassword)
	case ActionRevokeSessions:
		out, err = c.RevokeSessions(ctx, "")
	case ActionDisableTOTP:
		err = c.DisableTOTP(ctx, "")
	case ActionRegenerateBackupCodes:
		var codes []string
		codes, err = c.RegenerateBackupCodes(ctx, "")
		out = httpapi.BackupCodesResponse{BackupCodes: codes}
	case ActionUnlinkProvider:
		var p struct {
			Provider string `json:"provider"`
		}
		if err := decodePayload(action, &p); err != nil {
			return nil, err
		}
		err = c.UnlinkProvider(ctx, "", p.Provider)
	case ActionRegisterPasskey:
		var p httpapi.RegisterPasskeyRequest
		if err := decodePayload(action, &p); err != nil {
			return nil, err
		}
		out, err = c.RegisterPasskey(ctx, "", p.Name, p.PublicKey)
	case ActionRemovePasskey:
		var p struct {
			ID string `json:"id"`
		}
		if err := decodePayload(action, &p); err != nil {
			return nil, err
		}
		err = c.RemovePasskey(ctx, "", p.ID)
	default:
		return nil, fmt.Errorf("%w: unknown action kind %q", goReauth.ErrInvalidRequest, action.Kind)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return json.Marshal(out)
}

func decodePayload(action PendingAction, dst any) error {
	if len(action.Payload) == 0 {
		return fmt.Errorf("%w: %s needs a payload", goReauth.ErrInvalidRequest, action.Kind)
	}
	if err := json.Unmarshal(action.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", goReauth.ErrInvalidRequest, action.Kind, err)
	}
	return nil
}

func (c *Client) tokenCall(ctx context.Context, method, path, challengeID string, body any) (*httpapi.TokenResponse, error) {
	var out httpapi.TokenResponse
	if err := c.do(ctx, method, path, challengeID, body, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends one JSON request. Failure envelopes come back as *result.Error,
// which unwraps to the matching engine sentinel.
func (c *Client) do(ctx context.Context, method, path, challengeID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if challengeID != "" {
		req.Header.Set(httpapi.ChallengeHeader, challengeID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", goReauth.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", goReauth.ErrUnavailable, err)
	}
	return result.Decode(resp.StatusCode, raw, out)
}
