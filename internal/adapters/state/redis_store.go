package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/providers"
	redisclient "github.com/zatekoja/telemedsync/internal/infrastructure/clients/redis"
	"github.com/zatekoja/telemedsync/pkg/retry"
)

// DefaultKeyPrefix namespaces gateway keys in a shared Redis
const DefaultKeyPrefix = "telemedsync:gateway:"

// incrWindow increments the counter and arms the window expiry on first hit.
// Returns {count, remaining ttl in ms}.
var incrWindow = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if c == 1 or ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

// idempotentOps retries the calls that are safe to repeat. INCR and the
// SETNX claims are not, so they get exactly one attempt.
var idempotentOps = retry.Config{
	MaxAttempts: 2,
	Schedule:    []time.Duration{25 * time.Millisecond},
	Retryable: func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	},
}

// RedisStore keeps gateway state in Redis so rate limits, nonces and
// idempotent responses hold across instances.
type RedisStore struct {
	client    *redisclient.Client
	keyPrefix string
}

var _ providers.GatewayStateStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed gateway state store
func NewRedisStore(client *redisclient.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(kind, id string) string {
	return s.keyPrefix + kind + ":" + id
}

// IncrementRateLimit counts a request in the identifier's current window
func (s *RedisStore) IncrementRateLimit(ctx context.Context, identifier string, window time.Duration, now time.Time) (entities.RateLimitEntry, error) {
	vals, err := incrWindow.Run(ctx, s.client.Client(), []string{s.key("ratelimit", identifier)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return entities.RateLimitEntry{}, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if len(vals) != 2 {
		return entities.RateLimitEntry{}, fmt.Errorf("unexpected rate limit reply %v", vals)
	}
	return entities.RateLimitEntry{
		Count:           int(vals[0]),
		WindowResetTime: now.Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}

// ConsumeNonce uses SETNX so a nonce is accepted exactly once per TTL
func (s *RedisStore) ConsumeNonce(ctx context.Context, nonce string, ttl time.Duration, now time.Time) (bool, error) {
	fresh, err := s.client.Client().SetNX(ctx, s.key("nonce", nonce), strconv.FormatInt(now.Unix(), 10), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return fresh, nil
}

// GetIdempotency returns the stored response for key, if any. Expiry is the
// key's Redis TTL, so now is unused.
func (s *RedisStore) GetIdempotency(ctx context.Context, key string, _ time.Time) (*entities.IdempotencyEntry, error) {
	raw, err := retry.DoValue(ctx, idempotentOps, func(ctx context.Context) ([]byte, error) {
		raw, err := s.client.Client().Get(ctx, s.key("idempotency", key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return raw, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency entry: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var entry entities.IdempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency entry: %w", err)
	}
	return &entry, nil
}

// ReserveIdempotency claims key with SETNX on a lock key. The lock outlives
// the response write so a late duplicate never re-runs the handler.
func (s *RedisStore) ReserveIdempotency(ctx context.Context, key string, ttl time.Duration, _ time.Time) (bool, error) {
	ok, err := s.client.Client().SetNX(ctx, s.key("idempotency-lock", key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return ok, nil
}

// SaveIdempotency stores the first response for key
func (s *RedisStore) SaveIdempotency(ctx context.Context, key string, entry entities.IdempotencyEntry, ttl time.Duration, _ time.Time) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency entry: %w", err)
	}
	err = retry.Do(ctx, idempotentOps, func() error {
		return s.client.Client().SetNX(ctx, s.key("idempotency", key), raw, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to save idempotency entry: %w", err)
	}
	return nil
}

// ReleaseIdempotency drops a reservation that never stored a response
func (s *RedisStore) ReleaseIdempotency(ctx context.Context, key string) error {
	exists, err := s.client.Client().Exists(ctx, s.key("idempotency", key)).Result()
	if err != nil {
		return fmt.Errorf("failed to check idempotency entry: %w", err)
	}
	if exists > 0 {
		return nil
	}
	err = retry.Do(ctx, idempotentOps, func() error {
		return s.client.Client().Del(ctx, s.key("idempotency-lock", key)).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
