package goReauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goReauth/internal"
	"github.com/MrEthical07/goReauth/internal/flows"
	"github.com/MrEthical07/goReauth/internal/limiters"
	"github.com/MrEthical07/goReauth/internal/stores"
	"github.com/google/uuid"
)

func (e *Engine) buildFlowDeps() flows.Deps {
	metricInc := func(id int) { e.metricInc(MetricID(id)) }
	isRateLimited := func(err error) bool { return errors.Is(err, limiters.ErrRateLimited) }

	return flows.Deps{
		Reauth: flows.ReauthDeps{
			ChallengeTTL:   e.config.Reauth.ChallengeTTL,
			Now:            e.now,
			NewChallengeID: internal.NewOpaqueID,
			SaveChallenge: func(ctx context.Context, c flows.ReauthChallenge) error {
				return e.challenges.Save(ctx, &stores.ReauthChallenge{
					ID:        c.ID,
					UserID:    c.UserID,
					Method:    c.Method,
					IssuedAt:  c.IssuedAt.UnixMilli(),
					ExpiresAt: c.ExpiresAt.UnixMilli(),
				})
			},
			ConsumeChallenge: e.challenges.Consume,
			IsBackendError: func(err error) bool {
				return errors.Is(err, stores.ErrChallengeBackend)
			},
			CheckLimiter: func(ctx context.Context, uid int64) error {
				return e.limiter.Check(ctx, limiterScopeReauth, uid)
			},
			RecordLimiterFailure: func(ctx context.Context, uid int64) error {
				return e.limiter.RecordFailure(ctx, limiterScopeReauth, uid)
			},
			ResetLimiter: func(ctx context.Context, uid int64) error {
				return e.limiter.Reset(ctx, limiterScopeReauth, uid)
			},
			IsRateLimited: isRateLimited,
			MetricInc:     metricInc,
			EmitAudit:     e.emitAudit,
			Metrics: flows.ReauthMetrics{
				Verified:          int(MetricReauthVerified),
				Rejected:          int(MetricReauthRejected),
				RateLimited:       int(MetricReauthRateLimited),
				ChallengeIssued:   int(MetricChallengeIssued),
				ChallengeUsed:     int(MetricChallengeConsumed),
				StepUpRequired:    int(MetricStepUpRequired),
				MethodUnsupported: int(MetricReauthMethodUnsupported),
			},
			Events: flows.ReauthEvents{
				Verified:       auditEventReauthVerified,
				Rejected:       auditEventReauthRejected,
				RateLimited:    auditEventReauthRateLimited,
				ChallengeUsed:  auditEventChallengeConsumed,
				StepUpRequired: auditEventStepUpRequired,
			},
			Errors: flows.ReauthErrors{
				EngineNotReady:    ErrEngineNotReady,
				UserNotFound:      ErrUserNotFound,
				Rejected:          ErrRejected,
				RateLimited:       ErrRateLimited,
				Unavailable:       ErrUnavailable,
				StepUpRequired:    ErrStepUpRequired,
				MethodUnsupported: ErrMethodUnsupported,
			},
		},
		TOTP: flows.TOTPDeps{
			Now: e.now,
			GetAccount: func(ctx context.Context, uid int64) (flows.TOTPAccount, error) {
				u, err := e.loadUser(ctx, uid)
				if err != nil {
					return flows.TOTPAccount{}, err
				}
				return flows.TOTPAccount{
					UserID:        u.UserID,
					Username:      u.Username,
					Email:         u.Email,
					PendingSecret: u.TOTPPendingSecret,
					Enabled:       totpStateOf(u) == TOTPEnabled,
				}, nil
			},
			SetPendingSecret: e.store.SetPendingTOTPSecret,
			Enable:           e.store.EnableTOTP,
			Disable:          e.store.DisableTOTP,
			IsNotFound: func(err error) bool {
				return errors.Is(err, ErrUserNotFound)
			},
			IsNotPending: func(err error) bool {
				return errors.Is(err, ErrTOTPNotPending)
			},
			OtherMethodExists: func(ctx context.Context, uid int64) (bool, error) {
				u, err := e.loadUser(ctx, uid)
				if err != nil {
					return false, err
				}
				return leavesUsableMethod(u, methodRemoval{totp: true}), nil
			},
			GenerateSecret: e.totp.GenerateSecret,
			VerifyCode:     e.totp.VerifyCode,
			BackupCodes: func(uid int64) ([]string, [][32]byte, error) {
				return flows.GenerateBackupCodeSet(uid, e.config.TOTP.BackupCodeCount, e.config.TOTP.BackupCodeLength, internal.RandomIndex)
			},
			CheckLimiter: func(ctx context.Context, uid int64) error {
				return e.confirmLimiter.Check(ctx, limiterScopeTOTPConfirm, uid)
			},
			RecordLimiterFailure: func(ctx context.Context, uid int64) error {
				return e.confirmLimiter.RecordFailure(ctx, limiterScopeTOTPConfirm, uid)
			},
			ResetLimiter: func(ctx context.Context, uid int64) error {
				return e.confirmLimiter.Reset(ctx, limiterScopeTOTPConfirm, uid)
			},
			IsRateLimited: isRateLimited,
			MetricInc:     metricInc,
			EmitAudit:     e.emitAudit,
			Metrics: flows.TOTPMetrics{
				EnrollmentStarted: int(MetricTOTPEnrollmentStarted),
				Enabled:           int(MetricTOTPEnabled),
				Disabled:          int(MetricTOTPDisabled),
				Failure:           int(MetricTOTPFailure),
			},
			Events: flows.TOTPEvents{
				EnrollmentStarted: auditEventTOTPEnrollmentStarted,
				Enabled:           auditEventTOTPEnabled,
				Disabled:          auditEventTOTPDisabled,
				Failure:           auditEventTOTPFailure,
			},
			Errors: flows.TOTPErrors{
				EngineNotReady:  ErrEngineNotReady,
				UserNotFound:    ErrUserNotFound,
				Unavailable:     ErrUnavailable,
				AlreadyEnabled:  ErrTOTPAlreadyEnabled,
				NotPending:      ErrTOTPNotPending,
				NotEnabled:      ErrTOTPNotEnabled,
				CodeRequired:    ErrTOTPCodeRequired,
				Invalid:         ErrTOTPInvalid,
				RateLimited:     ErrRateLimited,
				LastMethodGuard: ErrLastVerificationMethod,
			},
		},
		BackupCodes: flows.BackupCodeDeps{
			Count:  e.config.TOTP.BackupCodeCount,
			Length: e.config.TOTP.BackupCodeLength,
			TOTPEnabled: func(ctx context.Context, uid int64) (bool, error) {
				u, err := e.loadUser(ctx, uid)
				if err != nil {
					return false, err
				}
				return totpStateOf(u) == TOTPEnabled, nil
			},
			ReplaceBackupCodes: e.store.ReplaceBackupCodes,
			ConsumeBackupCode:  e.store.ConsumeBackupCode,
			RandomIndex:        internal.RandomIndex,
			MetricInc:          metricInc,
			EmitAudit:          e.emitAudit,
			Metrics: flows.BackupCodeMetrics{
				Used:        int(MetricBackupCodeUsed),
				Failed:      int(MetricBackupCodeFailed),
				Regenerated: int(MetricBackupCodeRegenerated),
			},
			Events: flows.BackupCodeEvents{
				Generated: auditEventBackupCodesGenerated,
				Used:      auditEventBackupCodeUsed,
				Failed:    auditEventBackupCodeFailed,
			},
			Errors: flows.BackupCodeErrors{
				EngineNotReady: ErrEngineNotReady,
				Unavailable:    ErrUnavailable,
				RequiresTOTP:   ErrTOTPNotEnabled,
			},
		},
	}
}

func (e *Engine) backupCodeDeps() flows.BackupCodeDeps {
	return e.flows.BackupCodes
}

// newPasskeyID returns a time-ordered UUIDv7 so credentials list in
// registration order.
func newPasskeyID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func toReauthChallenge(c *stores.ReauthChallenge) *ReauthChallenge {
	return &ReauthChallenge{
		ID:        c.ID,
		UserID:    c.UserID,
		Method:    MethodKind(c.Method),
		IssuedAt:  time.UnixMilli(c.IssuedAt).UTC(),
		ExpiresAt: time.UnixMilli(c.ExpiresAt).UTC(),
		Consumed:  c.Consumed,
	}
}
