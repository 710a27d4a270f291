package goReauth_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
)

func TestReauthenticatePasswordIssuesChallenge(t *testing.T) {
	h := newHarness(t)
	c := h.reauthPassword(t)

	if c.ID == "" || c.UserID != h.aliceID || c.Method != goReauth.MethodPassword {
		t.Fatalf("unexpected challenge %+v", c)
	}
	if got := c.ExpiresAt.Sub(c.IssuedAt); got != 5*time.Minute {
		t.Fatalf("expected 5m challenge, got %v", got)
	}

	status, err := h.engine.ReauthStatus(context.Background(), h.aliceID)
	if err != nil {
		t.Fatalf("ReauthStatus failed: %v", err)
	}
	if status == nil || status.ID != c.ID || !status.Active(h.clock.Now()) {
		t.Fatalf("expected active status for %s, got %+v", c.ID, status)
	}
}

func TestReauthenticateRejectedIssuesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Reauthenticate(ctx, h.aliceID, goReauth.Proof{Method: goReauth.MethodPassword, Password: "wrong-password-1"})
	if !errors.Is(err, goReauth.ErrRejected) {
		t.Fatalf("expected rejected, got %v", err)
	}
	if goReauth.KindOf(err) != goReauth.KindRejected {
		t.Fatalf("expected rejected kind, got %s", goReauth.KindOf(err))
	}
	status, err := h.engine.ReauthStatus(ctx, h.aliceID)
	if err != nil || status != nil {
		t.Fatalf("expected no challenge, got %+v (%v)", status, err)
	}
	if err := h.engine.RequireReauth(ctx, h.aliceID, ""); !errors.Is(err, goReauth.ErrStepUpRequired) {
		t.Fatalf("expected step-up required, got %v", err)
	}
}

func TestReauthenticateRateLimitAndCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wrong := goReauth.Proof{Method: goReauth.MethodPassword, Password: "wrong-password-1"}

	for i := 0; i < 5; i++ {
		if _, err := h.engine.Reauthenticate(ctx, h.aliceID, wrong); !errors.Is(err, goReauth.ErrRejected) {
			t.Fatalf("attempt %d: expected rejected, got %v", i, err)
		}
	}
	right := goReauth.Proof{Method: goReauth.MethodPassword, Password: testPassword}
	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, right); !errors.Is(err, goReauth.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}

	h.mr.FastForward(5*time.Minute + time.Second)
	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, right); err != nil {
		t.Fatalf("expected success after cooldown, got %v", err)
	}
}

func TestReauthenticateUnknownMethod(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Reauthenticate(context.Background(), h.aliceID, goReauth.Proof{Method: goReauth.MethodPasskey, Assertion: []byte("x")})
	if !errors.Is(err, goReauth.ErrMethodUnsupported) {
		t.Fatalf("expected unsupported method, got %v", err)
	}
}

func TestReauthenticateUnknownUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Reauthenticate(context.Background(), 999, goReauth.Proof{Method: goReauth.MethodPassword, Password: testPassword})
	if !errors.Is(err, goReauth.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestRequireReauthConsumesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.reauthPassword(t)

	if err := h.engine.RequireReauth(ctx, h.aliceID, c.ID); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if err := h.engine.RequireReauth(ctx, h.aliceID, c.ID); !errors.Is(err, goReauth.ErrStepUpRequired) {
		t.Fatalf("expected step-up required on reuse, got %v", err)
	}
	status, err := h.engine.ReauthStatus(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("ReauthStatus failed: %v", err)
	}
	if status == nil || !status.Consumed || status.Active(h.clock.Now()) {
		t.Fatalf("expected consumed challenge, got %+v", status)
	}
}

func TestRequireReauthRejectsExpiredAndMismatched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.reauthPassword(t)
	if err := h.engine.RequireReauth(ctx, h.aliceID, "not-"+c.ID); !errors.Is(err, goReauth.ErrStepUpRequired) {
		t.Fatalf("expected step-up required on mismatch, got %v", err)
	}
	if err := h.engine.RequireReauth(ctx, h.aliceID+1, c.ID); !errors.Is(err, goReauth.ErrStepUpRequired) {
		t.Fatalf("expected step-up required for other user, got %v", err)
	}

	h.clock.Advance(5*time.Minute + time.Second)
	if err := h.engine.RequireReauth(ctx, h.aliceID, c.ID); !errors.Is(err, goReauth.ErrStepUpRequired) {
		t.Fatalf("expected step-up required after expiry, got %v", err)
	}
}

func TestReauthStatusInactivePastExpiryWithinGrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.reauthPassword(t)

	h.clock.Advance(5*time.Minute + 10*time.Second)
	kept := false
	for _, k := range h.mr.Keys() {
		if strings.HasPrefix(k, "rch:") {
			kept = true
		}
	}
	if !kept {
		t.Fatal("expected challenge record to be kept for the grace period")
	}
	status, err := h.engine.ReauthStatus(ctx, h.aliceID)
	if err != nil || status != nil {
		t.Fatalf("expected no active challenge past expiry, got %+v (%v)", status, err)
	}
	if err := h.engine.RequireReauth(ctx, h.aliceID, c.ID); !errors.Is(err, goReauth.ErrStepUpRequired) {
		t.Fatalf("expected step-up required, got %v", err)
	}
}

func TestRequireReauthEmptyIDAcceptsCurrent(t *testing.T) {
	h := newHarness(t)
	h.reauthPassword(t)
	if err := h.engine.RequireReauth(context.Background(), h.aliceID, ""); err != nil {
		t.Fatalf("expected current challenge to satisfy empty id, got %v", err)
	}
}

func TestNewChallengeReplacesOutstanding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.reauthPassword(t)
	second := h.reauthPassword(t)
	if first.ID == second.ID {
		t.Fatal("expected distinct challenge ids")
	}
	if err := h.engine.RequireReauth(ctx, h.aliceID, first.ID); !errors.Is(err, goReauth.ErrStepUpRequired) {
		t.Fatalf("expected replaced challenge to fail, got %v", err)
	}
	if err := h.engine.RequireReauth(ctx, h.aliceID, second.ID); err != nil {
		t.Fatalf("expected newest challenge to pass, got %v", err)
	}
}

func TestRequireReauthConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t)
	c := h.reauthPassword(t)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			results <- h.engine.RequireReauth(context.Background(), h.aliceID, c.ID)
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, goReauth.ErrStepUpRequired) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one success, got %d", success)
	}
}

func TestReauthenticateTOTPRejectsReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enableTOTP(t)

	code := totpCode(t, secret, h.clock.Now())
	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, goReauth.Proof{Method: goReauth.MethodTOTP, Code: code}); err != nil {
		t.Fatalf("expected totp reauth, got %v", err)
	}
	_, err := h.engine.Reauthenticate(ctx, h.aliceID, goReauth.Proof{Method: goReauth.MethodTOTP, Code: code})
	if !errors.Is(err, goReauth.ErrRejected) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
	if h.engine.MetricsSnapshot().Counters[goReauth.MetricTOTPReplay] != 1 {
		t.Fatal("expected replay metric")
	}
}

func TestReauthenticateBackupCodeSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, codes := h.enableTOTP(t)

	proof := goReauth.Proof{Method: goReauth.MethodBackupCode, Code: codes[0]}
	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, proof); err != nil {
		t.Fatalf("expected backup code reauth, got %v", err)
	}
	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, proof); !errors.Is(err, goReauth.ErrRejected) {
		t.Fatalf("expected reused backup code rejected, got %v", err)
	}
	u, err := h.store.GetUserByID(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if u.BackupCodesRemaining != len(codes)-1 {
		t.Fatalf("expected %d codes left, got %d", len(codes)-1, u.BackupCodesRemaining)
	}
}

func TestReauthenticatePasskey(t *testing.T) {
	h := newHarness(t, withPasskeys(stubPasskeys{}))
	ctx := context.Background()
	if err := h.store.AddPasskey(ctx, h.aliceID, goReauth.PasskeyCredential{ID: "key-1", PublicKey: []byte{1}}); err != nil {
		t.Fatalf("AddPasskey failed: %v", err)
	}

	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, goReauth.Proof{Method: goReauth.MethodPasskey, Assertion: []byte("key-1")}); err != nil {
		t.Fatalf("expected passkey reauth, got %v", err)
	}
	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, goReauth.Proof{Method: goReauth.MethodPasskey, Assertion: []byte("key-2")}); !errors.Is(err, goReauth.ErrRejected) {
		t.Fatalf("expected unknown credential rejected, got %v", err)
	}
}

func TestReauthenticateVerifierOutageIsUnavailable(t *testing.T) {
	h := newHarness(t, withPasskeys(stubPasskeys{err: errors.New("webauthn backend down")}))
	ctx := context.Background()
	if err := h.store.AddPasskey(ctx, h.aliceID, goReauth.PasskeyCredential{ID: "key-1"}); err != nil {
		t.Fatalf("AddPasskey failed: %v", err)
	}
	_, err := h.engine.Reauthenticate(ctx, h.aliceID, goReauth.Proof{Method: goReauth.MethodPasskey, Assertion: []byte("key-1")})
	if goReauth.KindOf(err) != goReauth.KindUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestReauthenticateSSORequiresLinkedSubject(t *testing.T) {
	h := newHarness(t, withIdentities(stubIdentities{}))
	ctx := context.Background()
	if _, err := h.engine.LinkProvider(ctx, h.aliceID, "github", []byte("gh-42")); err != nil {
		t.Fatalf("LinkProvider failed: %v", err)
	}

	sso := goReauth.Proof{Method: goReauth.MethodSSO, Provider: "github", Assertion: []byte("gh-42")}
	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, sso); err != nil {
		t.Fatalf("expected sso reauth, got %v", err)
	}
	sso.Assertion = []byte("gh-43")
	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, sso); !errors.Is(err, goReauth.ErrRejected) {
		t.Fatalf("expected other subject rejected, got %v", err)
	}
}

func TestVerificationMethodsFollowEnrollment(t *testing.T) {
	h := newHarness(t, withPasskeys(stubPasskeys{}), withIdentities(stubIdentities{}))
	ctx := context.Background()

	methods, err := h.engine.VerificationMethods(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("VerificationMethods failed: %v", err)
	}
	if !reflect.DeepEqual(methods, []goReauth.MethodKind{goReauth.MethodPassword}) {
		t.Fatalf("expected password only, got %v", methods)
	}

	h.enableTOTP(t)
	methods, err = h.engine.VerificationMethods(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("VerificationMethods failed: %v", err)
	}
	want := []goReauth.MethodKind{goReauth.MethodPassword, goReauth.MethodTOTP, goReauth.MethodBackupCode}
	if !reflect.DeepEqual(methods, want) {
		t.Fatalf("expected %v, got %v", want, methods)
	}
}
