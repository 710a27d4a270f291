package goReauth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
)

func TestTOTPEnrollmentLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state, err := h.engine.TOTPStatus(ctx, h.aliceID)
	if err != nil || state != goReauth.TOTPDisabled {
		t.Fatalf("expected disabled, got %s (%v)", state, err)
	}

	enrollment, err := h.engine.BeginTOTPEnrollment(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if enrollment.Secret == "" || !strings.HasPrefix(enrollment.URI, "otpauth://totp/") {
		t.Fatalf("unexpected enrollment %+v", enrollment)
	}
	if !strings.Contains(enrollment.URI, "alice@example.com") {
		t.Fatalf("expected account label in uri, got %s", enrollment.URI)
	}
	state, _ = h.engine.TOTPStatus(ctx, h.aliceID)
	if state != goReauth.TOTPPendingConfirmation {
		t.Fatalf("expected pending, got %s", state)
	}

	if _, err := h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, "000000x"); !errors.Is(err, goReauth.ErrTOTPInvalid) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	state, _ = h.engine.TOTPStatus(ctx, h.aliceID)
	if state != goReauth.TOTPPendingConfirmation {
		t.Fatalf("expected enrollment to stay pending after a bad code, got %s", state)
	}

	codes, err := h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, totpCode(t, enrollment.Secret, h.clock.Now()))
	if err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(codes))
	}
	state, _ = h.engine.TOTPStatus(ctx, h.aliceID)
	if state != goReauth.TOTPEnabled {
		t.Fatalf("expected enabled, got %s", state)
	}

	if _, err := h.engine.BeginTOTPEnrollment(ctx, h.aliceID); !errors.Is(err, goReauth.ErrTOTPAlreadyEnabled) {
		t.Fatalf("expected already enabled, got %v", err)
	}
}

func TestConfirmFailsWhenEnrollmentRestartsMidConfirm(t *testing.T) {
	h, hooked := newHookedHarness(t)
	ctx := context.Background()

	first, err := h.engine.BeginTOTPEnrollment(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	var second *goReauth.TOTPEnrollment
	hooked.setBeforeEnable(func() {
		var err error
		if second, err = h.engine.BeginTOTPEnrollment(ctx, h.aliceID); err != nil {
			t.Errorf("second BeginTOTPEnrollment failed: %v", err)
		}
	})

	codes, err := h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, totpCode(t, first.Secret, h.clock.Now()))
	if !errors.Is(err, goReauth.ErrTOTPNotPending) || codes != nil {
		t.Fatalf("expected not pending and no codes, got %v (%v)", codes, err)
	}
	u, err := h.store.GetUserByID(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if u.TOTPEnabled || u.TOTPSecret != "" || u.TOTPPendingSecret != second.Secret {
		t.Fatalf("unverified secret must not be enabled: %+v", u)
	}

	if _, err := h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, totpCode(t, second.Secret, h.clock.Now())); err != nil {
		t.Fatalf("confirming the current enrollment failed: %v", err)
	}
	if state, _ := h.engine.TOTPStatus(ctx, h.aliceID); state != goReauth.TOTPEnabled {
		t.Fatalf("expected enabled, got %s", state)
	}
}

func TestConfirmTOTPWithoutEnrollment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, "123456"); !errors.Is(err, goReauth.ErrTOTPNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
	if _, err := h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, "  "); !errors.Is(err, goReauth.ErrTOTPCodeRequired) {
		t.Fatalf("expected code required, got %v", err)
	}
}

func TestRestartingEnrollmentReplacesPendingSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.BeginTOTPEnrollment(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	second, err := h.engine.BeginTOTPEnrollment(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("expected a fresh secret")
	}
	if _, err := h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, totpCode(t, first.Secret, h.clock.Now())); !errors.Is(err, goReauth.ErrTOTPInvalid) {
		t.Fatalf("expected stale secret rejected, got %v", err)
	}
}

func TestConfirmTOTPRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	enrollment, err := h.engine.BeginTOTPEnrollment(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		_, _ = h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, "abcdef")
	}
	_, err = h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, totpCode(t, enrollment.Secret, h.clock.Now()))
	if !errors.Is(err, goReauth.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestDisableTOTPIsGated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enableTOTP(t)

	if err := h.engine.DisableTOTP(ctx, h.aliceID, ""); !errors.Is(err, goReauth.ErrStepUpRequired) {
		t.Fatalf("expected step-up required, got %v", err)
	}

	c := h.reauthPassword(t)
	if err := h.engine.DisableTOTP(ctx, h.aliceID, c.ID); err != nil {
		t.Fatalf("DisableTOTP failed: %v", err)
	}
	u, err := h.store.GetUserByID(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if u.TOTPEnabled || u.TOTPSecret != "" || u.BackupCodesRemaining != 0 {
		t.Fatalf("expected totp cleared, got %+v", u)
	}

	c = h.reauthPassword(t)
	if err := h.engine.DisableTOTP(ctx, h.aliceID, c.ID); !errors.Is(err, goReauth.ErrTOTPNotEnabled) {
		t.Fatalf("expected not enabled, got %v", err)
	}
}

func TestConcurrentDisableTOTPReplaysSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enableTOTP(t)
	c := h.reauthPassword(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.engine.DisableTOTP(ctx, h.aliceID, c.ID)
		}(i)
	}
	wg.Wait()

	ok, stepUp := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, goReauth.ErrStepUpRequired):
			stepUp++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || stepUp != 1 {
		t.Fatalf("expected one success and one step-up, got ok=%d stepUp=%d", ok, stepUp)
	}
}

func TestDisableTOTPRefusesLastMethod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enableTOTP(t)
	if err := h.store.UpdatePasswordHash(ctx, h.aliceID, ""); err != nil {
		t.Fatalf("UpdatePasswordHash failed: %v", err)
	}

	c, err := h.engine.Reauthenticate(ctx, h.aliceID, goReauth.Proof{Method: goReauth.MethodTOTP, Code: totpCode(t, secret, h.clock.Now())})
	if err != nil {
		t.Fatalf("Reauthenticate failed: %v", err)
	}
	if err := h.engine.DisableTOTP(ctx, h.aliceID, c.ID); !errors.Is(err, goReauth.ErrLastVerificationMethod) {
		t.Fatalf("expected last method guard, got %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.reauthPassword(t)
	if _, err := h.engine.RegenerateBackupCodes(ctx, h.aliceID, c.ID); !errors.Is(err, goReauth.ErrTOTPNotEnabled) {
		t.Fatalf("expected totp required, got %v", err)
	}

	_, old := h.enableTOTP(t)
	c = h.reauthPassword(t)
	fresh, err := h.engine.RegenerateBackupCodes(ctx, h.aliceID, c.ID)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresh) != len(old) {
		t.Fatalf("expected %d codes, got %d", len(old), len(fresh))
	}

	h.clock.Advance(time.Second)
	_, err = h.engine.Reauthenticate(ctx, h.aliceID, goReauth.Proof{Method: goReauth.MethodBackupCode, Code: old[0]})
	if !errors.Is(err, goReauth.ErrRejected) {
		t.Fatalf("expected old code rejected, got %v", err)
	}
	if _, err := h.engine.Reauthenticate(ctx, h.aliceID, goReauth.Proof{Method: goReauth.MethodBackupCode, Code: fresh[0]}); err != nil {
		t.Fatalf("expected fresh code accepted, got %v", err)
	}
}
