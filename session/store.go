package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps backend failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNoActivation is returned by Current when the user has never been issued a session
// or the stamp has aged out.
var ErrNoActivation = errors.New("no activation stamp")

const touchScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 0
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`

var touchLua = redis.NewScript(touchScript)

// Store keeps activation stamps in Redis under "<prefix>:act:<uid>".
type Store struct {
	redis    redis.UniversalClient
	prefix   string
	ttl      time.Duration
	newStamp func() (string, error)
}

// NewStore returns a Store. A ttl of zero keeps stamps until the next bump;
// a positive ttl lets idle lineages age out and is extended by Touch.
func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "rx"
	}
	return &Store{
		redis:    client,
		prefix:   prefix,
		ttl:      ttl,
		newStamp: newStampV7,
	}
}

func (s *Store) key(uid int64) string {
	return s.prefix + ":act:" + strconv.FormatInt(uid, 10)
}

// Current returns the user's live stamp.
func (s *Store) Current(ctx context.Context, uid int64) (string, error) {
	stamp, err := s.redis.Get(ctx, s.key(uid)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoActivation
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return stamp, nil
}

// Bump replaces the user's stamp and returns the new value.
func (s *Store) Bump(ctx context.Context, uid int64) (string, error) {
	stamp, err := s.newStamp()
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, s.key(uid), stamp, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return stamp, nil
}

// IsLive reports whether stamp is the user's current stamp.
func (s *Store) IsLive(ctx context.Context, uid int64, stamp string) (bool, error) {
	if stamp == "" {
		return false, nil
	}
	current, err := s.Current(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrNoActivation) {
			return false, nil
		}
		return false, err
	}
	return current == stamp, nil
}

// Touch extends the stamp's lifetime if it still equals stamp. It reports
// whether the stamp was live. Without a ttl it degrades to IsLive.
func (s *Store) Touch(ctx context.Context, uid int64, stamp string) (bool, error) {
	if s.ttl <= 0 {
		return s.IsLive(ctx, uid, stamp)
	}
	if stamp == "" {
		return false, nil
	}
	res, err := touchLua.Run(ctx, s.redis, []string{s.key(uid)}, stamp, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// Ping measures a round trip to Redis.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func newStampV7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
