package goReauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/goReauth/internal/flows"
	"github.com/MrEthical07/goReauth/internal/stores"
)

// Reauthenticate runs the verification method named by proof.Method for
// userID. On success it issues a challenge that replaces any outstanding one.
// A wrong proof returns an error wrapping ErrRejected; once the attempt limit
// is reached further calls fail with ErrRateLimited until the cooldown ends.
func (e *Engine) Reauthenticate(ctx context.Context, userID int64, proof Proof) (*ReauthChallenge, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var attempt flows.AttemptFunc
	if m, ok := e.methods[proof.Method]; ok {
		attempt = func(ctx context.Context) (flows.ReauthOutcome, error) {
			out, err := m.Attempt(ctx, u, proof)
			if err != nil {
				return flows.ReauthOutcome{}, err
			}
			return flows.ReauthOutcome{
				Verified: out.Verified,
				UserID:   out.UserID,
				Reason:   string(out.Reason),
			}, nil
		}
	}

	c, err := flows.RunReauthenticate(ctx, u.UserID, string(proof.Method), attempt, e.flows.Reauth)
	if err != nil {
		return nil, err
	}
	return &ReauthChallenge{
		ID:        c.ID,
		UserID:    c.UserID,
		Method:    MethodKind(c.Method),
		IssuedAt:  c.IssuedAt.UTC(),
		ExpiresAt: c.ExpiresAt.UTC(),
	}, nil
}

// RequireReauth consumes the user's challenge. An empty challengeID accepts
// whatever challenge is current. Absent, expired, consumed and mismatched
// challenges all return ErrStepUpRequired.
func (e *Engine) RequireReauth(ctx context.Context, userID int64, challengeID string) error {
	if e == nil || e.challenges == nil {
		return ErrEngineNotReady
	}
	return e.requireReauth(ctx, userID, challengeID, "require_reauth")
}

// ReauthStatus returns the user's current challenge without consuming it, or
// nil when none is stored. A challenge past its expiry reports nil even while
// its record is kept for the grace period, since the gate no longer accepts
// it. A consumed, unexpired challenge is returned with Consumed set.
func (e *Engine) ReauthStatus(ctx context.Context, userID int64) (*ReauthChallenge, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if userID <= 0 {
		return nil, ErrUserNotFound
	}
	c, err := e.challenges.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return nil, nil
		}
		e.logger.WarnContext(ctx, "challenge lookup failed", "user_id", userID, "err", err)
		return nil, errors.Join(ErrUnavailable, err)
	}
	out := toReauthChallenge(c)
	if !out.ExpiresAt.After(e.now()) {
		return nil, nil
	}
	return out, nil
}

// VerificationMethods lists the methods userID can reauthenticate with now.
func (e *Engine) VerificationMethods(ctx context.Context, userID int64) ([]MethodKind, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	u, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.usableMethods(u), nil
}
