package goReauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goReauth/internal/audit"
	"github.com/MrEthical07/goReauth/internal/flows"
	"github.com/MrEthical07/goReauth/internal/limiters"
	"github.com/MrEthical07/goReauth/internal/stores"
	"github.com/MrEthical07/goReauth/jwt"
	"github.com/MrEthical07/goReauth/password"
	"github.com/MrEthical07/goReauth/session"
)

const (
	limiterScopeReauth      = "reauth"
	limiterScopeTOTPConfirm = "totp-confirm"
	limiterScopeLogin       = "login"
)

// Engine is the step-up reauthentication engine. It is safe for concurrent
// use once returned by Builder.Build.
type Engine struct {
	config         Config
	store          AccountStore
	codec          *jwt.Codec
	activations    *session.Store
	challenges     *stores.ReauthChallengeStore
	limiter        *limiters.AttemptLimiter
	confirmLimiter *limiters.AttemptLimiter
	hasher         *password.Argon2
	totp           *totpManager
	methods        map[MethodKind]VerificationMethod
	methodOrder    []MethodKind
	identities     IdentityVerifier
	audit          *internalaudit.Dispatcher
	metrics        *Metrics
	logger         *slog.Logger
	now            func() time.Time
	flows          flows.Deps
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// loadUser fetches the account and maps store failures onto engine errors.
func (e *Engine) loadUser(ctx context.Context, userID int64) (*UserRecord, error) {
	if userID <= 0 {
		return nil, ErrUserNotFound
	}
	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		e.logger.WarnContext(ctx, "account store read failed", "user_id", userID, "err", err)
		return nil, errors.Join(ErrUnavailable, err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// storeErr logs a failed account store write and wraps it as unavailable.
func (e *Engine) storeErr(ctx context.Context, op string, userID int64, err error) error {
	e.logger.ErrorContext(ctx, "account store write failed", "op", op, "user_id", userID, "err", err)
	return errors.Join(ErrUnavailable, err)
}

// requireReauth is the step-up gate every sensitive mutation passes through
// after its stateless argument checks and before any state check.
func (e *Engine) requireReauth(ctx context.Context, userID int64, challengeID, action string) error {
	return flows.RunRequireReauth(ctx, userID, challengeID, action, e.flows.Reauth)
}
