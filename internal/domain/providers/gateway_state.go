package providers

import (
	"context"
	"time"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
)

// GatewayStateStore holds the mutable state shared by the webhook gateway:
// rate-limit counters, consumed nonces and idempotent responses. Every
// operation is atomic for its key so the invariants hold across goroutines
// and, for shared backends, across instances.
type GatewayStateStore interface {
	// IncrementRateLimit counts one request for identifier in the current
	// fixed window, starting a new window when now is past the reset time.
	IncrementRateLimit(ctx context.Context, identifier string, window time.Duration, now time.Time) (entities.RateLimitEntry, error)

	// ConsumeNonce marks nonce as used and reports whether it was unseen.
	ConsumeNonce(ctx context.Context, nonce string, ttl time.Duration, now time.Time) (bool, error)

	// GetIdempotency returns the stored response for key, or nil once it
	// has expired at now.
	GetIdempotency(ctx context.Context, key string, now time.Time) (*entities.IdempotencyEntry, error)

	// ReserveIdempotency claims key for one in-flight request. It reports
	// false when another request holds the reservation or a response exists.
	ReserveIdempotency(ctx context.Context, key string, ttl time.Duration, now time.Time) (bool, error)

	// SaveIdempotency stores the first response for key.
	SaveIdempotency(ctx context.Context, key string, entry entities.IdempotencyEntry, ttl time.Duration, now time.Time) error

	// ReleaseIdempotency drops a reservation that produced no response.
	ReleaseIdempotency(ctx context.Context, key string) error
}
