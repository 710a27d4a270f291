package reauthclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/broadcast"
	"github.com/MrEthical07/goReauth/httpapi"
)

const (
	defaultCloseDelay    = 1500 * time.Millisecond
	defaultRedirectGrace = 2 * time.Minute
)

var (
	// ErrNotAuthenticated is returned by Open when the surface has no live
	// session. The surface publishes reauth-cancelled and closes itself.
	ErrNotAuthenticated = errors.New("reauthclient: surface is not authenticated")
	// ErrSurfaceClosed is returned by calls on a closed surface.
	ErrSurfaceClosed = errors.New("reauthclient: surface closed")
)

// SurfaceAPI is the server access a verification surface needs. *Client
// implements it.
type SurfaceAPI interface {
	Session(ctx context.Context) (*goReauth.SessionClaims, error)
	Verify(ctx context.Context, proof goReauth.Proof) (*httpapi.ChallengeResponse, error)
	LinkProvider(ctx context.Context, provider string, assertion []byte) (*goReauth.LinkedProvider, error)
}

// SurfaceOptions configures a Surface.
type SurfaceOptions struct {
	Mode SurfaceMode
	// CloseDelay is how long the success state stays visible before the
	// surface closes itself.
	CloseDelay time.Duration
	// RedirectGrace bounds how long a provider redirect may suppress the
	// cancel signal. A Close after the grace counts as abandonment.
	RedirectGrace time.Duration
	// OnClose runs once when the surface closes, e.g. to close the window.
	OnClose func()
	Now     func() time.Time
	Logger  *slog.Logger
}

// Surface is the verification context. It proves identity through the API
// and publishes the outcome on the shared topic. Exactly one of
// reauth-success or reauth-cancelled is published per surface, except that
// nothing is published when the surface closes during a provider redirect.
type Surface struct {
	topic broadcast.Topic
	api   SurfaceAPI
	opts  SurfaceOptions
	log   *slog.Logger

	mu             sync.Mutex
	published      bool
	closed         bool
	redirectUntil  time.Time
	redirectTarget string
	closeTimer     *time.Timer
}

// NewSurface returns a surface publishing on topic.
func NewSurface(topic broadcast.Topic, api SurfaceAPI, opts SurfaceOptions) *Surface {
	if opts.Mode == "" {
		opts.Mode = ModeReauth
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = defaultCloseDelay
	}
	if opts.RedirectGrace <= 0 {
		opts.RedirectGrace = defaultRedirectGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Surface{topic: topic, api: api, opts: opts, log: logger}
}

// Mode returns the flow this surface serves.
func (s *Surface) Mode() SurfaceMode { return s.opts.Mode }

// Open checks that the surface runs inside a live session. Without one it
// publishes reauth-cancelled, closes and returns ErrNotAuthenticated.
func (s *Surface) Open(ctx context.Context) error {
	if s.isClosed() {
		return ErrSurfaceClosed
	}
	_, err := s.api.Session(ctx)
	if err == nil {
		return nil
	}
	switch goReauth.KindOf(err) {
	case goReauth.KindExpired, goReauth.KindInvalid:
		s.finish(ctx, broadcast.MessageReauthCancelled)
		s.shutdown()
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	default:
		return err
	}
}

// Submit runs one verification attempt. On success it publishes
// reauth-success and schedules its own close after CloseDelay. A rejected
// proof leaves the surface open so the user can try again.
func (s *Surface) Submit(ctx context.Context, proof goReauth.Proof) (*httpapi.ChallengeResponse, error) {
	if s.isClosed() {
		return nil, ErrSurfaceClosed
	}
	ch, err := s.api.Verify(ctx, proof)
	if err != nil {
		return nil, err
	}
	if err := s.succeed(ctx); err != nil {
		return ch, err
	}
	return ch, nil
}

// BeginProviderRedirect marks an intentional navigation to provider. Until
// the provider returns or RedirectGrace elapses, Close does not publish
// reauth-cancelled.
func (s *Surface) BeginProviderRedirect(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSurfaceClosed
	}
	s.redirectTarget = provider
	s.redirectUntil = s.opts.Now().Add(s.opts.RedirectGrace)
	return nil
}

// Redirecting reports whether a provider redirect is in progress.
func (s *Surface) Redirecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirectingLocked()
}

func (s *Surface) redirectingLocked() bool {
	return !s.redirectUntil.IsZero() && s.opts.Now().Before(s.redirectUntil)
}

// CompleteProviderReturn handles the navigation back from a provider. A
// success return is turned into an SSO proof (reauth and sso-reauth modes)
// or a provider link (sso-bind mode). An error return counts as
// cancellation.
func (s *Surface) CompleteProviderReturn(ctx context.Context, u *url.URL) error {
	ret, err := ParseSurfaceReturn(u)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSurfaceClosed
	}
	expected := s.redirectTarget
	s.redirectUntil = time.Time{}
	s.redirectTarget = ""
	s.mu.Unlock()

	if !ret.OK() {
		s.log.InfoContext(ctx, "provider returned an error", "provider", ret.Provider, "error", ret.Error)
		s.finish(ctx, broadcast.MessageReauthCancelled)
		s.shutdown()
		return fmt.Errorf("%w: provider error %q", goReauth.ErrCancelled, ret.Error)
	}
	if expected != "" && ret.Provider != expected {
		return fmt.Errorf("%w: returned from %q, expected %q", goReauth.ErrRejected, ret.Provider, expected)
	}

	if s.opts.Mode == ModeSSOBind {
		if _, err := s.api.LinkProvider(ctx, ret.Provider, ret.Assertion); err != nil {
			return err
		}
		return s.succeed(ctx)
	}
	_, err = s.Submit(ctx, goReauth.Proof{
		Method:    goReauth.MethodSSO,
		Provider:  ret.Provider,
		Assertion: ret.Assertion,
	})
	return err
}

// Close is the user closing the surface. Without a prior outcome it
// publishes reauth-cancelled, unless a provider redirect is in progress.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	suppress := s.redirectingLocked()
	s.mu.Unlock()

	if !suppress {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.finish(ctx, broadcast.MessageReauthCancelled)
		cancel()
	}
	s.shutdown()
	return nil
}

func (s *Surface) succeed(ctx context.Context) error {
	if err := s.publishOnce(ctx, broadcast.MessageReauthSuccess); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.closed && s.closeTimer == nil {
		s.closeTimer = time.AfterFunc(s.opts.CloseDelay, s.shutdown)
	}
	s.mu.Unlock()
	return nil
}

// finish publishes t if nothing was published yet; failures are logged
// because the coordinator's proof timeout covers a lost message.
func (s *Surface) finish(ctx context.Context, t broadcast.MessageType) {
	if err := s.publishOnce(ctx, t); err != nil {
		s.log.WarnContext(ctx, "surface broadcast failed", "type", t, "err", err)
	}
}

func (s *Surface) publishOnce(ctx context.Context, t broadcast.MessageType) error {
	s.mu.Lock()
	if s.published {
		s.mu.Unlock()
		return nil
	}
	s.published = true
	s.mu.Unlock()
	return s.topic.Publish(ctx, broadcast.Message{Type: t})
}

func (s *Surface) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	onClose := s.opts.OnClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (s *Surface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
