package reauthclient

import (
	"context"
	"encoding/json"
)

// PendingAction is the exact call to retry after a successful step-up. It
// lives only in the coordinator's memory and proves nothing by itself.
type PendingAction struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Action kinds understood by Client.Execute.
const (
	ActionChangePassword        = "change_password"
	ActionRevokeSessions        = "revoke_sessions"
	ActionDisableTOTP           = "disable_totp"
	ActionRegenerateBackupCodes = "regenerate_backup_codes"
	ActionUnlinkProvider        = "unlink_provider"
	ActionRegisterPasskey       = "register_passkey"
	ActionRemovePasskey         = "remove_passkey"
)

// NewAction builds a PendingAction, encoding payload as JSON.
func NewAction(kind string, payload any) (PendingAction, error) {
	if payload == nil {
		return PendingAction{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return PendingAction{}, err
	}
	return PendingAction{Kind: kind, Payload: raw}, nil
}

// Executor performs a gated action. It must return an error matching
// goReauth.ErrStepUpRequired when the server answers NEED_REAUTH.
type Executor interface {
	Execute(ctx context.Context, action PendingAction) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action PendingAction) (json.RawMessage, error)

func (f ExecutorFunc) Execute(ctx context.Context, action PendingAction) (json.RawMessage, error) {
	return f(ctx, action)
}
