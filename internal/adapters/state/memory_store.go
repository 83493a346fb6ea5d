package state

import (
	"context"
	"sync"
	"time"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/providers"
)

type nonceRecord struct {
	entities.NonceEntry
	expiresAt time.Time
}

type idempotencyRecord struct {
	entry     *entities.IdempotencyEntry
	expiresAt time.Time
}

// MemoryStore keeps gateway state in process memory. It is suitable for a
// single instance; use RedisStore when several instances share traffic.
type MemoryStore struct {
	mu          sync.Mutex
	rateLimits  map[string]*entities.RateLimitEntry
	nonces      map[string]nonceRecord
	idempotency map[string]idempotencyRecord

	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ providers.GatewayStateStore = (*MemoryStore)(nil)

// NewMemoryStore creates the store and starts a janitor that drops expired
// entries every cleanupInterval (5m when zero).
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	s := &MemoryStore{
		rateLimits:  make(map[string]*entities.RateLimitEntry),
		nonces:      make(map[string]nonceRecord),
		idempotency: make(map[string]idempotencyRecord),
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop(cleanupInterval)

	return s
}

// IncrementRateLimit counts a request in the identifier's current window
func (s *MemoryStore) IncrementRateLimit(_ context.Context, identifier string, window time.Duration, now time.Time) (entities.RateLimitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rateLimits[identifier]
	if !ok || now.After(e.WindowResetTime) {
		e = &entities.RateLimitEntry{WindowResetTime: now.Add(window)}
		s.rateLimits[identifier] = e
	}
	// Keep counting past the limit so the window stays consistent
	e.Count++
	return *e, nil
}

// ConsumeNonce marks nonce used; false means it was already presented
func (s *MemoryStore) ConsumeNonce(_ context.Context, nonce string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.nonces[nonce]; ok && rec.Used && now.Before(rec.expiresAt) {
		return false, nil
	}
	s.nonces[nonce] = nonceRecord{
		NonceEntry: entities.NonceEntry{Timestamp: now, Used: true},
		expiresAt:  now.Add(ttl),
	}
	return true, nil
}

// GetIdempotency returns the stored response for key, if any
func (s *MemoryStore) GetIdempotency(_ context.Context, key string, now time.Time) (*entities.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.idempotency[key]
	if !ok || rec.entry == nil || now.After(rec.expiresAt) {
		return nil, nil
	}
	cp := *rec.entry
	cp.Response = append([]byte(nil), rec.entry.Response...)
	cp.Header = rec.entry.Header.Clone()
	return &cp, nil
}

// ReserveIdempotency claims key for one in-flight request
func (s *MemoryStore) ReserveIdempotency(_ context.Context, key string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.idempotency[key]; ok && now.Before(rec.expiresAt) {
		return false, nil
	}
	s.idempotency[key] = idempotencyRecord{expiresAt: now.Add(ttl)}
	return true, nil
}

// SaveIdempotency stores the first response for key
func (s *MemoryStore) SaveIdempotency(_ context.Context, key string, entry entities.IdempotencyEntry, ttl time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.idempotency[key]; ok && rec.entry != nil && now.Before(rec.expiresAt) {
		return nil
	}
	entry.Response = append([]byte(nil), entry.Response...)
	entry.Header = entry.Header.Clone()
	s.idempotency[key] = idempotencyRecord{entry: &entry, expiresAt: now.Add(ttl)}
	return nil
}

// ReleaseIdempotency drops a reservation that never stored a response
func (s *MemoryStore) ReleaseIdempotency(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.idempotency[key]; ok && rec.entry == nil {
		delete(s.idempotency, key)
	}
	return nil
}

// Close stops the janitor and clears all state. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()

		s.mu.Lock()
		s.rateLimits = make(map[string]*entities.RateLimitEntry)
		s.nonces = make(map[string]nonceRecord)
		s.idempotency = make(map[string]idempotencyRecord)
		s.mu.Unlock()
	})
	return nil
}

// Size returns the number of tracked keys (rate limits, nonces, idempotency)
func (s *MemoryStore) Size() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rateLimits), len(s.nonces), len(s.idempotency)
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup(s.now())
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.rateLimits {
		if now.After(e.WindowResetTime) {
			delete(s.rateLimits, id)
		}
	}
	for n, rec := range s.nonces {
		if now.After(rec.expiresAt) {
			delete(s.nonces, n)
		}
	}
	for k, rec := range s.idempotency {
		if now.After(rec.expiresAt) {
			delete(s.idempotency, k)
		}
	}
}
