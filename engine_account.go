package goReauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const maxPasskeyNameBytes = 64

// ChangePassword is a gated action. It stores the new hash, starts a new
// activation lineage so every other token dies, and returns a fresh token
// for the caller.
func (e *Engine) ChangePassword(ctx context.Context, userID int64, challengeID, newPassword string) (*SessionResult, error) {
	if e == nil || e.store == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.hasher.CheckLength(newPassword); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if err := e.requireReauth(ctx, userID, challengeID, "change_password"); err != nil {
		return nil, err
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := e.store.UpdatePasswordHash(ctx, u.UserID, hash); err != nil {
		return nil, e.storeErr(ctx, "update_password_hash", u.UserID, err)
	}
	u.PasswordHash = hash

	res, err := e.startLineage(ctx, u)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, u.UserID, "", nil, nil)
	return res, nil
}

// RevokeSessions is a gated action that invalidates every token the user
// holds and returns a replacement for the caller.
func (e *Engine) RevokeSessions(ctx context.Context, userID int64, challengeID string) (*SessionResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.requireReauth(ctx, userID, challengeID, "revoke_sessions"); err != nil {
		return nil, err
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	res, err := e.startLineage(ctx, u)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionsRevoked)
	e.emitAudit(ctx, auditEventSessionsRevoked, true, u.UserID, "", nil, nil)
	return res, nil
}

// LinkProvider attaches an external identity after the configured
// IdentityVerifier accepts assertion. Adding a method is not gated.
func (e *Engine) LinkProvider(ctx context.Context, userID int64, provider string, assertion []byte) (*LinkedProvider, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	provider = strings.TrimSpace(provider)
	if provider == "" || len(assertion) == 0 {
		return nil, ErrInvalidRequest
	}
	if e.identities == nil {
		return nil, ErrMethodUnsupported
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, link := range u.LinkedProviders {
		if link.Provider == provider {
			return nil, ErrProviderAlreadyLinked
		}
	}

	identity, err := e.identities.VerifyIdentity(ctx, provider, assertion)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return nil, err
		}
		return nil, errors.Join(ErrUnavailable, err)
	}
	if identity.Provider != provider || identity.ExternalID == "" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, ReasonMismatch)
	}

	link := LinkedProvider{
		Provider:   provider,
		ExternalID: identity.ExternalID,
		Email:      identity.Email,
		LinkedAt:   e.now().UTC(),
	}
	if err := e.store.LinkProvider(ctx, u.UserID, link); err != nil {
		return nil, e.storeErr(ctx, "link_provider", u.UserID, err)
	}
	e.metricInc(MetricProviderLinked)
	e.emitAudit(ctx, auditEventProviderLinked, true, u.UserID, string(MethodSSO), nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return &link, nil
}

// UnlinkProvider is a gated action. Unlinking a provider that is not linked,
// including a second unlink of the same provider, returns
// ErrProviderNotLinked.
func (e *Engine) UnlinkProvider(ctx context.Context, userID int64, challengeID, provider string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return ErrInvalidRequest
	}
	if err := e.requireReauth(ctx, userID, challengeID, "unlink_provider"); err != nil {
		return err
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !hasProvider(u, provider) {
		return ErrProviderNotLinked
	}
	if !leavesUsableMethod(u, methodRemoval{provider: provider}) {
		return ErrLastVerificationMethod
	}

	removed, err := e.store.UnlinkProvider(ctx, u.UserID, provider)
	if err != nil {
		return e.storeErr(ctx, "unlink_provider", u.UserID, err)
	}
	if !removed {
		return ErrProviderNotLinked
	}
	e.metricInc(MetricProviderUnlinked)
	e.emitAudit(ctx, auditEventProviderUnlinked, true, u.UserID, string(MethodSSO), nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return nil
}

// RegisterPasskey is a gated action that stores a new credential. The
// attestation ceremony happens in the host application; only the resulting
// public key reaches the engine.
func (e *Engine) RegisterPasskey(ctx context.Context, userID int64, challengeID, name string, publicKey []byte) (*PasskeyCredential, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxPasskeyNameBytes || len(publicKey) == 0 {
		return nil, ErrInvalidRequest
	}
	if err := e.requireReauth(ctx, userID, challengeID, "register_passkey"); err != nil {
		return nil, err
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	id, err := newPasskeyID()
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	cred := PasskeyCredential{
		ID:        id,
		Name:      name,
		PublicKey: append([]byte(nil), publicKey...),
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.AddPasskey(ctx, u.UserID, cred); err != nil {
		return nil, e.storeErr(ctx, "add_passkey", u.UserID, err)
	}
	e.metricInc(MetricPasskeyRegistered)
	e.emitAudit(ctx, auditEventPasskeyRegistered, true, u.UserID, string(MethodPasskey), nil, func() map[string]string {
		return map[string]string{"credential_id": id}
	})
	return &cred, nil
}

// RemovePasskey is a gated action. It refuses to remove the user's last
// usable method.
func (e *Engine) RemovePasskey(ctx context.Context, userID int64, challengeID, credentialID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if credentialID == "" {
		return ErrInvalidRequest
	}
	if err := e.requireReauth(ctx, userID, challengeID, "remove_passkey"); err != nil {
		return err
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !hasPasskey(u, credentialID) {
		return ErrPasskeyNotFound
	}
	if !leavesUsableMethod(u, methodRemoval{passkeyID: credentialID}) {
		return ErrLastVerificationMethod
	}

	removed, err := e.store.RemovePasskey(ctx, u.UserID, credentialID)
	if err != nil {
		return e.storeErr(ctx, "remove_passkey", u.UserID, err)
	}
	if !removed {
		return ErrPasskeyNotFound
	}
	e.metricInc(MetricPasskeyRemoved)
	e.emitAudit(ctx, auditEventPasskeyRemoved, true, u.UserID, string(MethodPasskey), nil, func() map[string]string {
		return map[string]string{"credential_id": credentialID}
	})
	return nil
}

func hasProvider(u *UserRecord, provider string) bool {
	for _, link := range u.LinkedProviders {
		if link.Provider == provider {
			return true
		}
	}
	return false
}

func hasPasskey(u *UserRecord, id string) bool {
	for _, cred := range u.Passkeys {
		if cred.ID == id {
			return true
		}
	}
	return false
}
