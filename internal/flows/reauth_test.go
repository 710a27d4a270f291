package flows

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errNotReady    = errors.New("not ready")
	errNoUser      = errors.New("no user")
	errRejected    = errors.New("rejected")
	errLimited     = errors.New("limited")
	errUnavailable = errors.New("unavailable")
	errStepUp      = errors.New("step up")
	errUnsupported = errors.New("unsupported")
	errBackend     = errors.New("backend")
	errGone        = errors.New("gone")
)

type fakeChallenges struct {
	saved    []ReauthChallenge
	consumed map[string]bool
}

func (f *fakeChallenges) save(_ context.Context, c ReauthChallenge) error {
	f.saved = append(f.saved, c)
	return nil
}

func (f *fakeChallenges) consume(_ context.Context, uid int64, id string, _ time.Time) error {
	if len(f.saved) == 0 {
		return errGone
	}
	last := f.saved[len(f.saved)-1]
	if last.UserID != uid || (id != "" && id != last.ID) {
		return errGone
	}
	if f.consumed == nil {
		f.consumed = map[string]bool{}
	}
	if f.consumed[last.ID] {
		return errGone
	}
	f.consumed[last.ID] = true
	return nil
}

func testReauthDeps(ch *fakeChallenges) ReauthDeps {
	n := 0
	return ReauthDeps{
		ChallengeTTL: 5 * time.Minute,
		Now:          func() time.Time { return time.Unix(1700000000, 0) },
		NewChallengeID: func() (string, error) {
			n++
			return "ch-" + string(rune('a'+n)), nil
		},
		SaveChallenge:    ch.save,
		ConsumeChallenge: ch.consume,
		IsBackendError:   func(err error) bool { return errors.Is(err, errBackend) },
		IsRateLimited:    func(err error) bool { return errors.Is(err, errLimited) },
		Errors: ReauthErrors{
			EngineNotReady:    errNotReady,
			UserNotFound:      errNoUser,
			Rejected:          errRejected,
			RateLimited:       errLimited,
			Unavailable:       errUnavailable,
			StepUpRequired:    errStepUp,
			MethodUnsupported: errUnsupported,
		},
	}
}

func verifiedAttempt(uid int64) AttemptFunc {
	return func(context.Context) (ReauthOutcome, error) {
		return ReauthOutcome{Verified: true, UserID: uid}, nil
	}
}

func TestReauthenticateIssuesChallenge(t *testing.T) {
	ch := &fakeChallenges{}
	deps := testReauthDeps(ch)

	got, err := RunReauthenticate(context.Background(), 7, "password", verifiedAttempt(7), deps)
	if err != nil {
		t.Fatalf("reauthenticate: %v", err)
	}
	if got.UserID != 7 || got.Method != "password" {
		t.Fatalf("unexpected challenge: %+v", got)
	}
	if want := got.IssuedAt.Add(5 * time.Minute); !got.ExpiresAt.Equal(want) {
		t.Fatalf("expires at %v, want %v", got.ExpiresAt, want)
	}
	if len(ch.saved) != 1 {
		t.Fatalf("expected one saved challenge, got %d", len(ch.saved))
	}
}

func TestReauthenticateRejectedKeepsReason(t *testing.T) {
	ch := &fakeChallenges{}
	deps := testReauthDeps(ch)
	failures := 0
	deps.RecordLimiterFailure = func(context.Context, int64) error {
		failures++
		return nil
	}

	_, err := RunReauthenticate(context.Background(), 7, "totp", func(context.Context) (ReauthOutcome, error) {
		return ReauthOutcome{Reason: "mismatch"}, nil
	}, deps)
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
	if err.Error() != "rejected: mismatch" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if failures != 1 {
		t.Fatalf("expected one recorded failure, got %d", failures)
	}
	if len(ch.saved) != 0 {
		t.Fatal("rejected attempt must not store a challenge")
	}
}

func TestReauthenticateSubjectMismatchIsRejected(t *testing.T) {
	ch := &fakeChallenges{}
	_, err := RunReauthenticate(context.Background(), 7, "sso", verifiedAttempt(8), testReauthDeps(ch))
	if !errors.Is(err, errRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
}

func TestReauthenticateRateLimitedSkipsAttempt(t *testing.T) {
	ch := &fakeChallenges{}
	deps := testReauthDeps(ch)
	deps.CheckLimiter = func(context.Context, int64) error { return errLimited }
	called := false

	_, err := RunReauthenticate(context.Background(), 7, "password", func(context.Context) (ReauthOutcome, error) {
		called = true
		return ReauthOutcome{Verified: true, UserID: 7}, nil
	}, deps)
	if !errors.Is(err, errLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if called {
		t.Fatal("attempt ran while rate limited")
	}
}

func TestReauthenticateNilAttemptIsUnsupported(t *testing.T) {
	_, err := RunReauthenticate(context.Background(), 7, "carrier-pigeon", nil, testReauthDeps(&fakeChallenges{}))
	if !errors.Is(err, errUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestRequireReauthConsumesOnce(t *testing.T) {
	ch := &fakeChallenges{}
	deps := testReauthDeps(ch)
	c, err := RunReauthenticate(context.Background(), 7, "password", verifiedAttempt(7), deps)
	if err != nil {
		t.Fatalf("reauthenticate: %v", err)
	}

	if err := RunRequireReauth(context.Background(), 7, c.ID, "change_password", deps); err != nil {
		t.Fatalf("first gate: %v", err)
	}
	if err := RunRequireReauth(context.Background(), 7, c.ID, "change_password", deps); !errors.Is(err, errStepUp) {
		t.Fatalf("replayed gate: expected step-up, got %v", err)
	}
}

func TestRequireReauthBackendFailureIsUnavailable(t *testing.T) {
	deps := testReauthDeps(&fakeChallenges{})
	deps.ConsumeChallenge = func(context.Context, int64, string, time.Time) error { return errBackend }

	err := RunRequireReauth(context.Background(), 7, "", "disable_totp", deps)
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if errors.Is(err, errStepUp) {
		t.Fatal("backend failure must not read as step-up")
	}
}

func TestRequireReauthWithoutChallenge(t *testing.T) {
	err := RunRequireReauth(context.Background(), 7, "", "unlink_provider", testReauthDeps(&fakeChallenges{}))
	if !errors.Is(err, errStepUp) {
		t.Fatalf("expected step-up, got %v", err)
	}
}
