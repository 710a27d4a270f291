package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxAttempts = 5
	defaultCooldown    = 5 * time.Minute
)

var (
	ErrRateLimited = errors.New("verification attempts exceeded")
	ErrUnavailable = errors.New("attempt limiter unavailable")
)

// AttemptConfig holds thresholds for an AttemptLimiter.
type AttemptConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// AttemptLimiter counts failed verification attempts per user and scope.
// The window starts at the first failure and is not extended by later ones.
type AttemptLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	cooldown    time.Duration
}

// NewAttemptLimiter creates a limiter. Zero-value fields in cfg fall back to
// 5 attempts per 5 minutes.
func NewAttemptLimiter(redisClient redis.UniversalClient, prefix string, cfg AttemptConfig) *AttemptLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultCooldown
	}
	if prefix == "" {
		prefix = "rat"
	}
	return &AttemptLimiter{redis: redisClient, prefix: prefix, maxAttempts: int64(max), cooldown: cd}
}

func (l *AttemptLimiter) key(scope string, uid int64) string {
	return l.prefix + ":" + scope + ":" + strconv.FormatInt(uid, 10)
}

func (l *AttemptLimiter) Check(ctx context.Context, scope string, uid int64) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(scope, uid)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

func (l *AttemptLimiter) RecordFailure(ctx context.Context, scope string, uid int64) error {
	if l == nil || l.redis == nil {
		return nil
	}
	key := l.key(scope, uid)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

// Failures returns the failure count in the current window.
func (l *AttemptLimiter) Failures(ctx context.Context, scope string, uid int64) (int, error) {
	if l == nil || l.redis == nil {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.key(scope, uid)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

func (l *AttemptLimiter) Reset(ctx context.Context, scope string, uid int64) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(scope, uid)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
