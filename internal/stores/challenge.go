package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const reauthRecordVersion1 = "1"

var (
	ErrChallengeNotFound = errors.New("reauth challenge not found")
	ErrChallengeExpired  = errors.New("reauth challenge expired")
	ErrChallengeConsumed = errors.New("reauth challenge already consumed")
	ErrChallengeMismatch = errors.New("reauth challenge id mismatch")
	ErrChallengeBackend  = errors.New("reauth challenge backend unavailable")
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusMismatch int64 = 1
	consumeStatusConsumed int64 = 2
	consumeStatusExpired  int64 = 3
	consumeStatusOK       int64 = 4
)

// consumeChallengeScript checks id, consumed flag and expiry, then marks the
// record consumed. The whole check-then-mark runs inside one script so two
// gated calls can never both succeed off one record.
const consumeChallengeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local id = redis.call("HGET", KEYS[1], "id")
if ARGV[1] ~= "" and id ~= ARGV[1] then
  return 1
end
if redis.call("HGET", KEYS[1], "consumed") == "1" then
  return 2
end
local exp = tonumber(redis.call("HGET", KEYS[1], "exp") or "0")
if exp <= tonumber(ARGV[2]) then
  return 3
end
redis.call("HSET", KEYS[1], "consumed", "1")
return 4
`

var consumeChallengeLua = redis.NewScript(consumeChallengeScript)

// ReauthChallenge is the persisted form of a step-up proof.
type ReauthChallenge struct {
	ID        string
	UserID    int64
	Method    string
	IssuedAt  int64 // unix millis
	ExpiresAt int64 // unix millis
	Consumed  bool
}

// ReauthChallengeStore keeps at most one challenge per user in a Redis hash.
// Saving a new challenge replaces the previous one.
type ReauthChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

// NewReauthChallengeStore returns a store. Records linger for grace past their
// expiry so a late consume reports expired rather than not-found.
func NewReauthChallengeStore(redisClient redis.UniversalClient, prefix string, grace time.Duration) *ReauthChallengeStore {
	if prefix == "" {
		prefix = "rch"
	}
	if grace < 0 {
		grace = 0
	}
	return &ReauthChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		grace:  grace,
	}
}

func (s *ReauthChallengeStore) key(uid int64) string {
	return s.prefix + ":" + strconv.FormatInt(uid, 10)
}

func (s *ReauthChallengeStore) Save(ctx context.Context, record *ReauthChallenge) error {
	if record == nil || record.ID == "" || record.UserID <= 0 {
		return errors.New("invalid reauth challenge record")
	}
	ttl := time.Duration(record.ExpiresAt-record.IssuedAt)*time.Millisecond + s.grace
	if ttl <= 0 {
		return errors.New("reauth challenge already expired")
	}

	key := s.key(record.UserID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"v", reauthRecordVersion1,
			"id", record.ID,
			"method", record.Method,
			"iat", record.IssuedAt,
			"exp", record.ExpiresAt,
			"consumed", "0",
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Consume atomically spends the user's challenge. An empty challengeID accepts
// whichever challenge is current.
func (s *ReauthChallengeStore) Consume(ctx context.Context, uid int64, challengeID string, now time.Time) error {
	status, err := consumeChallengeLua.Run(ctx, s.redis, []string{s.key(uid)}, challengeID, now.UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	switch status {
	case consumeStatusOK:
		return nil
	case consumeStatusNotFound:
		return ErrChallengeNotFound
	case consumeStatusMismatch:
		return ErrChallengeMismatch
	case consumeStatusConsumed:
		return ErrChallengeConsumed
	case consumeStatusExpired:
		return ErrChallengeExpired
	default:
		return fmt.Errorf("%w: unexpected consume status %d", ErrChallengeBackend, status)
	}
}

// Get returns the user's current record without mutating it.
func (s *ReauthChallengeStore) Get(ctx context.Context, uid int64) (*ReauthChallenge, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(uid)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if len(fields) == 0 {
		return nil, ErrChallengeNotFound
	}
	if fields["v"] != reauthRecordVersion1 {
		return nil, fmt.Errorf("%w: unsupported record version %q", ErrChallengeBackend, fields["v"])
	}

	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt iat", ErrChallengeBackend)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt exp", ErrChallengeBackend)
	}
	return &ReauthChallenge{
		ID:        fields["id"],
		UserID:    uid,
		Method:    fields["method"],
		IssuedAt:  iat,
		ExpiresAt: exp,
		Consumed:  fields["consumed"] == "1",
	}, nil
}

// Delete drops the user's challenge. Deleting a missing record is not an error.
func (s *ReauthChallengeStore) Delete(ctx context.Context, uid int64) error {
	if err := s.redis.Del(ctx, s.key(uid)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}
