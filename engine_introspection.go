package goReauth

import (
	"context"
	"errors"
	"time"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool          `json:"redis_available"`
	RedisLatency   time.Duration `json:"redis_latency_ns"`
}

// Health pings the Redis backend shared by stamps, challenges and limiters.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.activations == nil {
		return HealthStatus{}
	}

	latency, err := e.activations.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
	}
}

// ReauthAttempts returns the failed reauthentication attempts counted
// against userID in the current limiter window.
func (e *Engine) ReauthAttempts(ctx context.Context, userID int64) (int, error) {
	if e == nil || e.limiter == nil {
		return 0, ErrEngineNotReady
	}
	if userID <= 0 {
		return 0, ErrUserNotFound
	}

	n, err := e.limiter.Failures(ctx, limiterScopeReauth, userID)
	if err != nil {
		return 0, errors.Join(ErrUnavailable, err)
	}
	return n, nil
}
