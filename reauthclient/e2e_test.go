package reauthclient_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/broadcast"
	"github.com/MrEthical07/goReauth/httpapi"
	"github.com/MrEthical07/goReauth/password"
	"github.com/MrEthical07/goReauth/reauthclient"
	"github.com/MrEthical07/goReauth/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-password-123"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, _, _ := newServerWithStore(t)
	return srv
}

// newServerWithStore also returns the backing store and alice's user ID so a
// test can inspect persisted account state.
func newServerWithStore(t *testing.T) (*httptest.Server, *memory.Store, int64) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goReauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("e2e-secret")
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	require.NoError(t, err)
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)

	store := memory.New()
	aliceID, err := store.CreateUser(context.Background(), "alice", "alice@example.com", hash)
	require.NoError(t, err)

	engine, err := goReauth.New().WithConfig(cfg).WithRedis(rdb).WithAccountStore(store).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	hub := broadcast.NewHub(8)
	t.Cleanup(hub.Close)

	router, err := httpapi.NewRouter(httpapi.Options{Engine: engine, Topics: hub})
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store, aliceID
}

// surfaceDriver plays the verification window: on open it builds a Surface
// sharing the caller's session and hands it to act.
type surfaceDriver struct {
	t      *testing.T
	srv    *httptest.Server
	token  string
	opened chan string
	act    func(ctx context.Context, s *reauthclient.Surface)
}

func (d *surfaceDriver) OpenSurface(_ context.Context, url string) error {
	d.opened <- url
	go func() {
		ctx := context.Background()
		api := reauthclient.NewClient(d.srv.URL, reauthclient.WithHTTPClient(d.srv.Client()), reauthclient.WithToken(d.token))
		s := reauthclient.NewSurface(api.Topic(broadcast.DefaultTopic), api, reauthclient.SurfaceOptions{
			CloseDelay: 10 * time.Millisecond,
		})
		if err := s.Open(ctx); err != nil {
			d.t.Errorf("surface open: %v", err)
			return
		}
		d.act(ctx, s)
	}()
	return nil
}

func login(t *testing.T, srv *httptest.Server) *reauthclient.Client {
	t.Helper()
	c := reauthclient.NewClient(srv.URL, reauthclient.WithHTTPClient(srv.Client()))
	_, err := c.Login(context.Background(), "alice", testPassword)
	require.NoError(t, err)
	return c
}

func await(t *testing.T, a *reauthclient.Attempt) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("attempt still %s", a.State())
	}
}

func TestStepUpVerifyThenReplay(t *testing.T) {
	srv := newServer(t)
	client := login(t, srv)
	oldToken := client.Token()

	driver := &surfaceDriver{
		t:      t,
		srv:    srv,
		token:  oldToken,
		opened: make(chan string, 1),
		act: func(ctx context.Context, s *reauthclient.Surface) {
			if _, err := s.Submit(ctx, goReauth.Proof{Method: goReauth.MethodPassword, Password: testPassword}); err != nil {
				t.Errorf("submit: %v", err)
			}
		},
	}
	coord, err := reauthclient.New(client, reauthclient.Options{
		Topic:        client.Topic(broadcast.DefaultTopic),
		Opener:       driver,
		SurfaceURL:   "https://app.example/reauth",
		ProofTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer coord.Close()

	a := coord.Run(context.Background(), reauthclient.PendingAction{Kind: reauthclient.ActionRevokeSessions})
	await(t, a)

	raw, err := a.Result()
	require.NoError(t, err)
	assert.Equal(t, reauthclient.StateResolvedSuccess, a.State())
	assert.Contains(t, <-driver.opened, "action=revoke_sessions")

	var tok httpapi.TokenResponse
	require.NoError(t, json.Unmarshal(raw, &tok))
	assert.Equal(t, tok.Token, client.Token())
	assert.NotEqual(t, oldToken, tok.Token)

	_, ok := coord.Pending()
	assert.False(t, ok)

	// The replay consumed the challenge, so running again needs a new proof.
	_, err = client.RevokeSessions(context.Background(), "")
	assert.ErrorIs(t, err, goReauth.ErrStepUpRequired)
}

func TestStepUpCancelledDoesNotReplay(t *testing.T) {
	srv := newServer(t)
	client := login(t, srv)

	driver := &surfaceDriver{
		t:      t,
		srv:    srv,
		token:  client.Token(),
		opened: make(chan string, 1),
		act: func(_ context.Context, s *reauthclient.Surface) {
			_ = s.Close()
		},
	}
	coord, err := reauthclient.New(client, reauthclient.Options{
		Topic:        client.Topic(broadcast.DefaultTopic),
		Opener:       driver,
		SurfaceURL:   "https://app.example/reauth",
		ProofTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer coord.Close()

	before := client.Token()
	a := coord.Run(context.Background(), reauthclient.PendingAction{Kind: reauthclient.ActionRevokeSessions})
	await(t, a)

	_, err = a.Result()
	assert.ErrorIs(t, err, goReauth.ErrCancelled)
	assert.Equal(t, reauthclient.StateResolvedCancelled, a.State())
	assert.Equal(t, before, client.Token())

	// The session was never revoked.
	_, err = client.Session(context.Background())
	assert.NoError(t, err)
}

func TestStepUpDisableTOTPThenReplay(t *testing.T) {
	srv, store, aliceID := newServerWithStore(t)
	client := login(t, srv)
	ctx := context.Background()

	enrollment, err := client.BeginTOTP(ctx)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	codes, err := client.ConfirmTOTP(ctx, code)
	require.NoError(t, err)
	require.NotEmpty(t, codes)

	rec, err := store.GetUserByID(ctx, aliceID)
	require.NoError(t, err)
	require.True(t, rec.TOTPEnabled)
	require.Equal(t, len(codes), rec.BackupCodesRemaining)

	driver := &surfaceDriver{
		t:      t,
		srv:    srv,
		token:  client.Token(),
		opened: make(chan string, 1),
		act: func(ctx context.Context, s *reauthclient.Surface) {
			if _, err := s.Submit(ctx, goReauth.Proof{Method: goReauth.MethodPassword, Password: testPassword}); err != nil {
				t.Errorf("submit: %v", err)
			}
		},
	}
	coord, err := reauthclient.New(client, reauthclient.Options{
		Topic:        client.Topic(broadcast.DefaultTopic),
		Opener:       driver,
		SurfaceURL:   "https://app.example/reauth",
		ProofTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer coord.Close()

	a := coord.Run(ctx, reauthclient.PendingAction{Kind: reauthclient.ActionDisableTOTP})
	await(t, a)

	_, err = a.Result()
	require.NoError(t, err)
	assert.Equal(t, reauthclient.StateResolvedSuccess, a.State())
	assert.Contains(t, <-driver.opened, "action=disable_totp")

	state, err := client.TOTPStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, goReauth.TOTPDisabled.String(), state)

	rec, err = store.GetUserByID(ctx, aliceID)
	require.NoError(t, err)
	assert.False(t, rec.TOTPEnabled)
	assert.Empty(t, rec.TOTPSecret)
	assert.Zero(t, rec.BackupCodesRemaining)

	_, ok := coord.Pending()
	assert.False(t, ok)
}
