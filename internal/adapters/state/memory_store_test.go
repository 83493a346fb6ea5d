package state

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
)

func TestMemoryStore_RateLimitWindow(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 1; i <= 3; i++ {
		e, err := store.IncrementRateLimit(ctx, "partner-a", time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, i, e.Count)
		assert.Equal(t, now.Add(time.Minute), e.WindowResetTime)
	}

	// other identifiers have their own window
	e, err := store.IncrementRateLimit(ctx, "partner-b", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)

	// after the window the counter restarts
	later := now.Add(61 * time.Second)
	e, err = store.IncrementRateLimit(ctx, "partner-a", time.Minute, later)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)
	assert.Equal(t, later.Add(time.Minute), e.WindowResetTime)
}

func TestMemoryStore_ConsumeNonce(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	fresh, err := store.ConsumeNonce(ctx, "n-1", 10*time.Minute, now)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.ConsumeNonce(ctx, "n-1", 10*time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, fresh, "second presentation within expiry must be rejected")

	fresh, err = store.ConsumeNonce(ctx, "n-1", 10*time.Minute, now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.True(t, fresh, "expired nonce can be reused")
}

func TestMemoryStore_ConsumeNonceConcurrent(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	var accepted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := store.ConsumeNonce(context.Background(), "shared", time.Minute, time.Now())
			if err == nil && fresh {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted)
}

func TestMemoryStore_Idempotency(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	entry, err := store.GetIdempotency(ctx, "k1", now)
	require.NoError(t, err)
	assert.Nil(t, entry)

	ok, err := store.ReserveIdempotency(ctx, "k1", time.Hour, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReserveIdempotency(ctx, "k1", time.Hour, now)
	require.NoError(t, err)
	assert.False(t, ok, "reservation is exclusive")

	// reserved but not yet answered
	entry, err = store.GetIdempotency(ctx, "k1", now)
	require.NoError(t, err)
	assert.Nil(t, entry)

	header := http.Header{"Content-Type": []string{"application/json"}}
	require.NoError(t, store.SaveIdempotency(ctx, "k1", entities.IdempotencyEntry{
		Response:   []byte(`{"ok":true}`),
		StatusCode: http.StatusCreated,
		Header:     header,
		Timestamp:  now,
	}, time.Hour, now))

	entry, err = store.GetIdempotency(ctx, "k1", now)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, http.StatusCreated, entry.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(entry.Response))
	assert.Equal(t, "application/json", entry.Header.Get("Content-Type"))

	// first response wins
	require.NoError(t, store.SaveIdempotency(ctx, "k1", entities.IdempotencyEntry{StatusCode: 500}, time.Hour, now))
	entry, _ = store.GetIdempotency(ctx, "k1", now)
	assert.Equal(t, http.StatusCreated, entry.StatusCode)

	// release does not drop a stored response
	require.NoError(t, store.ReleaseIdempotency(ctx, "k1"))
	entry, _ = store.GetIdempotency(ctx, "k1", now)
	assert.NotNil(t, entry)
}

func TestMemoryStore_IdempotencyExpiresAtCallerTime(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	ok, err := store.ReserveIdempotency(ctx, "k3", time.Minute, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.SaveIdempotency(ctx, "k3", entities.IdempotencyEntry{StatusCode: http.StatusOK}, time.Minute, t0))

	entry, err := store.GetIdempotency(ctx, "k3", t0.Add(59*time.Second))
	require.NoError(t, err)
	assert.NotNil(t, entry)

	entry, err = store.GetIdempotency(ctx, "k3", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, entry)

	ok, err = store.ReserveIdempotency(ctx, "k3", time.Minute, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "an expired key can be reserved again")
}

func TestMemoryStore_ReleaseReservation(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()

	ctx := context.Background()
	ok, _ := store.ReserveIdempotency(ctx, "k2", time.Hour, time.Now())
	require.True(t, ok)

	require.NoError(t, store.ReleaseIdempotency(ctx, "k2"))

	ok, err := store.ReserveIdempotency(ctx, "k2", time.Hour, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_CleanupAndClose(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, _ = store.IncrementRateLimit(ctx, fmt.Sprintf("id-%d", i), time.Second, now)
		_, _ = store.ConsumeNonce(ctx, fmt.Sprintf("n-%d", i), time.Second, now)
	}
	_, _ = store.ReserveIdempotency(ctx, "k", time.Hour, now)

	store.cleanup(now.Add(2 * time.Second))
	rl, nonces, idem := store.Size()
	assert.Equal(t, 0, rl)
	assert.Equal(t, 0, nonces)
	assert.Equal(t, 1, idem)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	_, _, idem = store.Size()
	assert.Equal(t, 0, idem)
}
