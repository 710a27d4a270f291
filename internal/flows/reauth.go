package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReauthOutcome is the flow-level view of a verification attempt.
type ReauthOutcome struct {
	Verified bool
	UserID   int64
	Reason   string
}

// ReauthChallenge is the flow-level view of an issued step-up challenge.
type ReauthChallenge struct {
	ID        string
	UserID    int64
	Method    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type ReauthMetrics struct {
	Verified          int
	Rejected          int
	RateLimited       int
	ChallengeIssued   int
	ChallengeUsed     int
	StepUpRequired    int
	MethodUnsupported int
}

type ReauthEvents struct {
	Verified       string
	Rejected       string
	RateLimited    string
	ChallengeUsed  string
	StepUpRequired string
}

type ReauthErrors struct {
	EngineNotReady    error
	UserNotFound      error
	Rejected          error
	RateLimited       error
	Unavailable       error
	StepUpRequired    error
	MethodUnsupported error
}

// ReauthDeps wires the reauthentication and gate flows.
type ReauthDeps struct {
	ChallengeTTL time.Duration

	Now            func() time.Time
	NewChallengeID func() (string, error)

	UserExists       func(context.Context, int64) error
	SaveChallenge    func(context.Context, ReauthChallenge) error
	ConsumeChallenge func(context.Context, int64, string, time.Time) error
	IsBackendError   func(error) bool

	CheckLimiter         func(context.Context, int64) error
	RecordLimiterFailure func(context.Context, int64) error
	ResetLimiter         func(context.Context, int64) error
	IsRateLimited        func(error) bool

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, int64, string, error, func() map[string]string)

	Metrics ReauthMetrics
	Events  ReauthEvents
	Errors  ReauthErrors
}

// AttemptFunc runs one verification method against the caller's proof.
type AttemptFunc func(context.Context) (ReauthOutcome, error)

// RunReauthenticate verifies a fresh proof of identity and, on success, stores
// a new challenge for the user that replaces any earlier one.
func RunReauthenticate(ctx context.Context, userID int64, method string, attempt AttemptFunc, deps ReauthDeps) (*ReauthChallenge, error) {
	normalizeReauthDeps(&deps)

	if deps.SaveChallenge == nil || deps.NewChallengeID == nil || deps.ChallengeTTL <= 0 {
		return nil, deps.Errors.EngineNotReady
	}
	if attempt == nil {
		deps.MetricInc(deps.Metrics.MethodUnsupported)
		return nil, deps.Errors.MethodUnsupported
	}
	if userID <= 0 {
		return nil, deps.Errors.UserNotFound
	}
	if deps.UserExists != nil {
		if err := deps.UserExists(ctx, userID); err != nil {
			return nil, err
		}
	}

	if err := deps.CheckLimiter(ctx, userID); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, userID, method, deps.Errors.RateLimited, nil)
			return nil, deps.Errors.RateLimited
		}
		return nil, deps.Errors.Unavailable
	}

	outcome, err := attempt(ctx)
	if err != nil {
		return nil, err
	}
	if !outcome.Verified || outcome.UserID != userID {
		reason := outcome.Reason
		if outcome.Verified {
			reason = "subject_mismatch"
		}
		deps.MetricInc(deps.Metrics.Rejected)
		rejected := fmt.Errorf("%w: %s", deps.Errors.Rejected, reason)
		deps.EmitAudit(ctx, deps.Events.Rejected, false, userID, method, rejected, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		_ = deps.RecordLimiterFailure(ctx, userID)
		return nil, rejected
	}

	id, err := deps.NewChallengeID()
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	now := deps.Now()
	challenge := ReauthChallenge{
		ID:        id,
		UserID:    userID,
		Method:    method,
		IssuedAt:  now,
		ExpiresAt: now.Add(deps.ChallengeTTL),
	}
	if err := deps.SaveChallenge(ctx, challenge); err != nil {
		return nil, deps.Errors.Unavailable
	}

	_ = deps.ResetLimiter(ctx, userID)
	deps.MetricInc(deps.Metrics.Verified)
	deps.MetricInc(deps.Metrics.ChallengeIssued)
	deps.EmitAudit(ctx, deps.Events.Verified, true, userID, method, nil, nil)
	return &challenge, nil
}

// RunRequireReauth consumes the user's challenge for one gated action. Any
// failure other than a backend outage is reported as a step-up requirement.
func RunRequireReauth(ctx context.Context, userID int64, challengeID, action string, deps ReauthDeps) error {
	normalizeReauthDeps(&deps)

	if deps.ConsumeChallenge == nil {
		return deps.Errors.EngineNotReady
	}
	if userID <= 0 {
		return deps.Errors.StepUpRequired
	}

	err := deps.ConsumeChallenge(ctx, userID, challengeID, deps.Now())
	if err == nil {
		deps.MetricInc(deps.Metrics.ChallengeUsed)
		deps.EmitAudit(ctx, deps.Events.ChallengeUsed, true, userID, "", nil, func() map[string]string {
			return map[string]string{"action": action}
		})
		return nil
	}
	if deps.IsBackendError(err) {
		return errors.Join(deps.Errors.Unavailable, err)
	}

	deps.MetricInc(deps.Metrics.StepUpRequired)
	deps.EmitAudit(ctx, deps.Events.StepUpRequired, false, userID, "", deps.Errors.StepUpRequired, func() map[string]string {
		return map[string]string{"action": action, "cause": err.Error()}
	})
	return deps.Errors.StepUpRequired
}

func normalizeReauthDeps(deps *ReauthDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.CheckLimiter == nil {
		deps.CheckLimiter = func(context.Context, int64) error { return nil }
	}
	if deps.RecordLimiterFailure == nil {
		deps.RecordLimiterFailure = func(context.Context, int64) error { return nil }
	}
	if deps.ResetLimiter == nil {
		deps.ResetLimiter = func(context.Context, int64) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.IsBackendError == nil {
		deps.IsBackendError = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, int64, string, error, func() map[string]string) {}
	}
}
