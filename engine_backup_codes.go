package goReauth

import (
	"context"

	"github.com/MrEthical07/goReauth/internal/flows"
)

// RegenerateBackupCodes is a gated action that replaces every backup code
// with a new set. It requires TOTP to be enabled.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID int64, challengeID string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.requireReauth(ctx, userID, challengeID, "regenerate_backup_codes"); err != nil {
		return nil, err
	}
	return flows.RunRegenerateBackupCodes(ctx, userID, e.flows.BackupCodes)
}
