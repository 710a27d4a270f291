package goReauth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/password"
	"github.com/MrEthical07/goReauth/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-password-123"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_800_000_000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine  *goReauth.Engine
	store   *memory.Store
	redis   *redis.Client
	mr      *miniredis.Miniredis
	clock   *testClock
	aliceID int64
}

type harnessOption func(*goReauth.Builder)

func testEngineConfig() goReauth.Config {
	cfg := goReauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("test-secret")
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	return cfg
}

func newHarness(t testing.TB, opts ...harnessOption) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testEngineConfig()
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	store := memory.New()
	aliceID, err := store.CreateUser(context.Background(), "alice", "alice@example.com", hash)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	clock := newTestClock()
	b := goReauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &harness{
		engine:  engine,
		store:   store,
		redis:   rdb,
		mr:      mr,
		clock:   clock,
		aliceID: aliceID,
	}
}

func (h *harness) login(t *testing.T) *goReauth.SessionResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), "alice", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}

func (h *harness) reauthPassword(t *testing.T) *goReauth.ReauthChallenge {
	t.Helper()
	c, err := h.engine.Reauthenticate(context.Background(), h.aliceID, goReauth.Proof{
		Method:   goReauth.MethodPassword,
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Reauthenticate failed: %v", err)
	}
	return c
}

// enableTOTP runs enrollment for alice and returns the secret and backup
// codes. The clock is advanced past the confirming time step.
func (h *harness) enableTOTP(t *testing.T) (string, []string) {
	t.Helper()
	ctx := context.Background()
	enrollment, err := h.engine.BeginTOTPEnrollment(ctx, h.aliceID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment failed: %v", err)
	}
	codes, err := h.engine.ConfirmTOTPEnrollment(ctx, h.aliceID, totpCode(t, enrollment.Secret, h.clock.Now()))
	if err != nil {
		t.Fatalf("ConfirmTOTPEnrollment failed: %v", err)
	}
	h.clock.Advance(30 * time.Second)
	return enrollment.Secret, codes
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// hookedStore wraps an AccountStore so a test can interleave engine calls
// with store reads and writes. Set AccountStore after newHarness returns.
type hookedStore struct {
	goReauth.AccountStore

	mu           sync.Mutex
	onGetUser    func()
	beforeEnable func()
}

func (s *hookedStore) GetUserByID(ctx context.Context, userID int64) (*goReauth.UserRecord, error) {
	if hook := s.take(&s.onGetUser); hook != nil {
		hook()
	}
	return s.AccountStore.GetUserByID(ctx, userID)
}

func (s *hookedStore) EnableTOTP(ctx context.Context, userID int64, secret string, counter int64, backupHashes [][32]byte) error {
	if hook := s.take(&s.beforeEnable); hook != nil {
		hook()
	}
	return s.AccountStore.EnableTOTP(ctx, userID, secret, counter, backupHashes)
}

// take returns the hook and clears it so it fires once.
func (s *hookedStore) take(hook *func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := *hook
	*hook = nil
	return h
}

func (s *hookedStore) setOnGetUser(fn func()) {
	s.mu.Lock()
	s.onGetUser = fn
	s.mu.Unlock()
}

func (s *hookedStore) setBeforeEnable(fn func()) {
	s.mu.Lock()
	s.beforeEnable = fn
	s.mu.Unlock()
}

// newHookedHarness builds a harness whose engine reads alice through a
// hookedStore over the harness's memory store.
func newHookedHarness(t *testing.T) (*harness, *hookedStore) {
	t.Helper()
	hooked := &hookedStore{}
	h := newHarness(t, func(b *goReauth.Builder) { b.WithAccountStore(hooked) })
	hooked.AccountStore = h.store
	return h, hooked
}

func withPasskeys(v goReauth.PasskeyVerifier) harnessOption {
	return func(b *goReauth.Builder) { b.WithPasskeyVerifier(v) }
}

func withIdentities(v goReauth.IdentityVerifier) harnessOption {
	return func(b *goReauth.Builder) { b.WithIdentityVerifier(v) }
}

func withAuditSink(sink goReauth.AuditSink) harnessOption {
	return func(b *goReauth.Builder) {
		cfg := testEngineConfig()
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 64
		b.WithConfig(cfg).WithAuditSink(sink)
	}
}

// stubPasskeys accepts an assertion equal to a credential ID.
type stubPasskeys struct {
	err error
}

func (s stubPasskeys) VerifyAssertion(_ context.Context, _ int64, creds []goReauth.PasskeyCredential, assertion []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for _, c := range creds {
		if c.ID == string(assertion) {
			return c.ID, nil
		}
	}
	return "", goReauth.ErrRejected
}

// stubIdentities treats the assertion as the external subject ID.
type stubIdentities struct {
	err error
}

func (s stubIdentities) VerifyIdentity(_ context.Context, provider string, assertion []byte) (goReauth.ExternalIdentity, error) {
	if s.err != nil {
		return goReauth.ExternalIdentity{}, s.err
	}
	if string(assertion) == "bad" {
		return goReauth.ExternalIdentity{}, errors.Join(goReauth.ErrRejected, errors.New("signature"))
	}
	return goReauth.ExternalIdentity{Provider: provider, ExternalID: string(assertion)}, nil
}
