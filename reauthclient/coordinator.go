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
)

var (
	// ErrSuperseded resolves an attempt replaced by a newer step-up flow.
	ErrSuperseded = fmt.Errorf("%w: superseded by a newer flow", goReauth.ErrCancelled)
	// ErrProofTimeout resolves an attempt that received no broadcast within
	// the proof timeout.
	ErrProofTimeout = fmt.Errorf("%w: no proof received in time", goReauth.ErrCancelled)
	// ErrClosed is returned once the coordinator is closed.
	ErrClosed = fmt.Errorf("%w: coordinator closed", goReauth.ErrCancelled)
)

// SurfaceOpener opens the verification surface at url. It must not block
// until the user finishes; the outcome arrives over the broadcast topic.
type SurfaceOpener interface {
	OpenSurface(ctx context.Context, url string) error
}

// SurfaceOpenerFunc adapts a function to SurfaceOpener.
type SurfaceOpenerFunc func(ctx context.Context, url string) error

func (f SurfaceOpenerFunc) OpenSurface(ctx context.Context, url string) error { return f(ctx, url) }

// Options configures a Coordinator.
type Options struct {
	// Topic carries surface outcomes. Required.
	Topic broadcast.Topic
	// Opener opens the surface. Required.
	Opener SurfaceOpener
	// SurfaceURL is the base URL of the verification surface.
	SurfaceURL string
	// Mode selects the surface flow. Defaults to ModeReauth.
	Mode SurfaceMode
	// ProofTimeout bounds the wait for a broadcast. Zero waits until the
	// flow is superseded, the coordinator closes or the Run context ends.
	ProofTimeout time.Duration
	Logger       *slog.Logger
}

// Coordinator holds at most one pending action. It is safe for concurrent
// use; one Coordinator corresponds to one page or tab.
type Coordinator struct {
	exec Executor
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	pending *flight
	closed  bool
}

// flight is one step-up wait. Whoever removes it from the coordinator owns
// its resolution.
type flight struct {
	attempt *Attempt
	sub     broadcast.Subscription
	stop    chan struct{}
}

// New returns a Coordinator running actions through exec.
func New(exec Executor, opts Options) (*Coordinator, error) {
	if exec == nil {
		return nil, errors.New("reauthclient: executor required")
	}
	if opts.Topic == nil {
		return nil, errors.New("reauthclient: topic required")
	}
	if opts.Opener == nil {
		return nil, errors.New("reauthclient: surface opener required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeReauth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{exec: exec, opts: opts, log: logger}, nil
}

// Run executes action and, if the server demands a step-up, drives the
// verification flow and replays action once proof arrives. The returned
// Attempt resolves exactly once.
func (c *Coordinator) Run(ctx context.Context, action PendingAction) *Attempt {
	a := newAttempt(action)
	go c.run(ctx, a)
	return a
}

// Pending returns the action waiting for proof, if any.
func (c *Coordinator) Pending() (PendingAction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingAction{}, false
	}
	return c.pending.attempt.action, true
}

// State is AwaitingProof while an action is pending, Idle otherwise.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return StateIdle
	}
	return StateAwaitingProof
}

// Close cancels the pending flow, if any. Later Runs fail with ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	f := c.pending
	c.pending = nil
	c.mu.Unlock()

	if f != nil {
		f.finish()
		f.attempt.resolve(StateResolvedCancelled, nil, ErrClosed)
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context, a *Attempt) {
	res, err := c.exec.Execute(ctx, a.action)
	switch {
	case err == nil:
		a.resolve(StateResolvedSuccess, res, nil)
		return
	case !errors.Is(err, goReauth.ErrStepUpRequired):
		a.resolve(StateResolvedFailed, nil, err)
		return
	}

	f, err := c.begin(ctx, a)
	if err != nil {
		a.resolve(StateResolvedFailed, nil, err)
		return
	}

	surfaceURL, err := SurfaceURL(c.opts.SurfaceURL, c.opts.Mode, url.Values{"action": {a.action.Kind}})
	if err == nil {
		err = c.opts.Opener.OpenSurface(ctx, surfaceURL)
	}
	if err != nil {
		if c.claim(f) {
			a.resolve(StateResolvedFailed, nil, fmt.Errorf("open verification surface: %w", err))
		}
		return
	}

	c.wait(ctx, f)
}

// begin subscribes and installs f as the single pending flight, superseding
// any previous one. Subscribing happens before the surface opens so an
// early success cannot be missed.
func (c *Coordinator) begin(ctx context.Context, a *Attempt) (*flight, error) {
	sub, err := c.opts.Topic.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", goReauth.ErrUnavailable, err)
	}
	f := &flight{attempt: a, sub: sub, stop: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = sub.Close()
		return nil, ErrClosed
	}
	prev := c.pending
	c.pending = f
	a.await()
	c.mu.Unlock()

	if prev != nil {
		prev.finish()
		prev.attempt.resolve(StateResolvedCancelled, nil, ErrSuperseded)
		c.log.Debug("pending action superseded", "kind", prev.attempt.action.Kind)
	}
	return f, nil
}

// claim removes f if it is still pending. It reports whether the caller now
// owns f's resolution.
func (c *Coordinator) claim(f *flight) bool {
	c.mu.Lock()
	if c.pending != f {
		c.mu.Unlock()
		return false
	}
	c.pending = nil
	c.mu.Unlock()
	f.finish()
	return true
}

func (c *Coordinator) wait(ctx context.Context, f *flight) {
	var timeout <-chan time.Time
	if c.opts.ProofTimeout > 0 {
		timer := time.NewTimer(c.opts.ProofTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-f.stop:
			return
		case <-ctx.Done():
			if c.claim(f) {
				f.attempt.resolve(StateResolvedCancelled, nil, errors.Join(goReauth.ErrCancelled, ctx.Err()))
			}
			return
		case <-timeout:
			if c.claim(f) {
				c.log.Warn("no reauth proof before timeout", "kind", f.attempt.action.Kind)
				f.attempt.resolve(StateResolvedTimeout, nil, ErrProofTimeout)
			}
			return
		case msg, ok := <-f.sub.C():
			if !ok {
				if c.claim(f) {
					f.attempt.resolve(StateResolvedCancelled, nil, errors.Join(goReauth.ErrCancelled, broadcast.ErrClosed))
				}
				return
			}
			switch msg.Type {
			case broadcast.MessageReauthSuccess:
				if !c.claim(f) {
					return
				}
				c.replay(ctx, f.attempt)
				return
			case broadcast.MessageReauthCancelled:
				if c.claim(f) {
					f.attempt.resolve(StateResolvedCancelled, nil, goReauth.ErrCancelled)
				}
				return
			}
		}
	}
}

// replay runs the stored action once. A second NEED_REAUTH is reported as
// a failure rather than starting another flow.
func (c *Coordinator) replay(ctx context.Context, a *Attempt) {
	res, err := c.exec.Execute(ctx, a.action)
	if err != nil {
		a.resolve(StateResolvedFailed, nil, err)
		return
	}
	a.resolve(StateResolvedSuccess, res, nil)
}

// finish unsubscribes and wakes the waiting goroutine. Safe to call once;
// only the claimer calls it.
func (f *flight) finish() {
	close(f.stop)
	_ = f.sub.Close()
}
