package goReauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goReauth/internal/limiters"
	"github.com/MrEthical07/goReauth/jwt"
	"github.com/MrEthical07/goReauth/session"
)

// Login verifies a password for identifier, starts a new activation lineage
// and returns a session token. Starting a new lineage invalidates every token
// the user held before.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*SessionResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := e.store.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, 0, string(MethodPassword), ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		e.logger.WarnContext(ctx, "account lookup failed", "err", err)
		return nil, errors.Join(ErrUnavailable, err)
	}

	if err := e.limiter.Check(ctx, limiterScopeLogin, u.UserID); err != nil {
		if errors.Is(err, limiters.ErrRateLimited) {
			return nil, ErrRateLimited
		}
		return nil, errors.Join(ErrUnavailable, err)
	}

	outcome, err := e.methods[MethodPassword].Attempt(ctx, u, Proof{Method: MethodPassword, Password: password})
	if err != nil {
		return nil, err
	}
	if !outcome.Verified {
		_ = e.limiter.RecordFailure(ctx, limiterScopeLogin, u.UserID)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, u.UserID, string(MethodPassword), ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": string(outcome.Reason)}
		})
		return nil, ErrInvalidCredentials
	}
	_ = e.limiter.Reset(ctx, limiterScopeLogin, u.UserID)

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, u, password)
	}

	res, err := e.startLineage(ctx, u)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, auditEventLoginSuccess, true, u.UserID, string(MethodPassword), nil, nil)
	return res, nil
}

// IssueSession starts a new activation lineage for a user the host
// application has already authenticated, e.g. after an SSO login.
func (e *Engine) IssueSession(ctx context.Context, userID int64) (*SessionResult, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	res, err := e.startLineage(ctx, u)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, auditEventSessionIssued, true, u.UserID, "", nil, nil)
	return res, nil
}

// VerifySession checks a token's signature, lifetime and activation stamp.
// A token whose stamp has been replaced fails with ErrSessionRevoked.
func (e *Engine) VerifySession(ctx context.Context, token string) (*SessionClaims, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeLatency(MetricSessionVerifyLatency, start)

	claims, err := e.codec.Verify(token)
	if err != nil {
		e.metricInc(MetricSessionVerifyFailed)
		return nil, err
	}
	live, err := e.activations.IsLive(ctx, claims.UID, claims.Stamp)
	if err != nil {
		e.logger.WarnContext(ctx, "activation lookup failed", "user_id", claims.UID, "err", err)
		return nil, errors.Join(ErrUnavailable, err)
	}
	if !live {
		e.metricInc(MetricSessionVerifyFailed)
		e.metricInc(MetricSessionRevokedDetected)
		e.emitAudit(ctx, auditEventSessionRevokedUsed, false, claims.UID, "", ErrSessionRevoked, nil)
		return nil, ErrSessionRevoked
	}
	out := toSessionClaims(claims)
	return &out, nil
}

// RefreshSession re-signs a live token with the stamp it carries and a
// fresh profile snapshot. It never starts a new lineage, so other holders of
// the same lineage stay valid. A bump that lands after the initial check
// still fails the refresh with ErrSessionRevoked.
func (e *Engine) RefreshSession(ctx context.Context, token string) (*SessionResult, error) {
	claims, err := e.VerifySession(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := e.loadUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	live, err := e.activations.Touch(ctx, u.UserID, claims.ActivationStamp)
	if err != nil {
		e.logger.WarnContext(ctx, "activation touch failed", "user_id", u.UserID, "err", err)
		return nil, errors.Join(ErrUnavailable, err)
	}
	if !live {
		e.metricInc(MetricSessionRevokedDetected)
		e.emitAudit(ctx, auditEventSessionRevokedUsed, false, u.UserID, "", ErrSessionRevoked, nil)
		return nil, ErrSessionRevoked
	}
	res, err := e.signSession(u, claims.ActivationStamp)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionRefreshed)
	e.emitAudit(ctx, auditEventSessionRefreshed, true, u.UserID, "", nil, nil)
	return res, nil
}

// BumpActivation replaces the user's activation stamp, invalidating every
// outstanding token, and returns the new stamp.
func (e *Engine) BumpActivation(ctx context.Context, userID int64) (string, error) {
	if e == nil || e.activations == nil {
		return "", ErrEngineNotReady
	}
	if userID <= 0 {
		return "", ErrUserNotFound
	}
	stamp, err := e.activations.Bump(ctx, userID)
	if err != nil {
		e.logger.ErrorContext(ctx, "activation bump failed", "user_id", userID, "err", err)
		return "", errors.Join(ErrUnavailable, err)
	}
	e.metricInc(MetricActivationBumped)
	return stamp, nil
}

// CurrentActivation returns the user's current stamp. A user who never held
// a session reports ErrSessionRevoked.
func (e *Engine) CurrentActivation(ctx context.Context, userID int64) (string, error) {
	if e == nil || e.activations == nil {
		return "", ErrEngineNotReady
	}
	stamp, err := e.activations.Current(ctx, userID)
	if err != nil {
		if errors.Is(err, session.ErrNoActivation) {
			return "", ErrSessionRevoked
		}
		return "", errors.Join(ErrUnavailable, err)
	}
	return stamp, nil
}

func (e *Engine) startLineage(ctx context.Context, u *UserRecord) (*SessionResult, error) {
	stamp, err := e.BumpActivation(ctx, u.UserID)
	if err != nil {
		return nil, err
	}
	res, err := e.signSession(u, stamp)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSessionIssued)
	return res, nil
}

func (e *Engine) signSession(u *UserRecord, stamp string) (*SessionResult, error) {
	token, claims, err := e.codec.Issue(jwt.Claims{
		UID:      u.UserID,
		Username: u.Username,
		Email:    u.Email,
		Stamp:    stamp,
	}, e.config.JWT.SessionTTL)
	if err != nil {
		return nil, err
	}
	return &SessionResult{Token: token, Claims: toSessionClaims(claims)}, nil
}

func (e *Engine) upgradePasswordHash(ctx context.Context, u *UserRecord, password string) {
	needs, err := e.hasher.NeedsRehash(u.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, u.UserID, hash); err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "user_id", u.UserID, "err", err)
	}
}

func toSessionClaims(c *jwt.Claims) SessionClaims {
	out := SessionClaims{
		UserID:          c.UID,
		Profile:         Profile{Username: c.Username, Email: c.Email},
		ActivationStamp: c.Stamp,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time.UTC()
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return out
}
