package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

// ProviderStore is an in-memory ProviderRepository
type ProviderStore struct {
	mu        sync.RWMutex
	providers map[string]*entities.Provider
}

var _ repositories.ProviderRepository = (*ProviderStore)(nil)

// NewProviderStore creates a store seeded with providers
func NewProviderStore(providers ...*entities.Provider) *ProviderStore {
	s := &ProviderStore{providers: make(map[string]*entities.Provider)}
	for _, p := range providers {
		s.Put(p)
	}
	return s
}

// LoadProvidersFile reads a JSON array of provider configurations
func LoadProvidersFile(path string) ([]*entities.Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	var providers []*entities.Provider
	if err := json.Unmarshal(raw, &providers); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	for i, p := range providers {
		if p.ID == "" {
			return nil, fmt.Errorf("provider %d has no id", i)
		}
		if p.IntegrationStatus == "" {
			p.IntegrationStatus = entities.IntegrationStatusPending
		}
	}
	return providers, nil
}

// Put inserts or replaces a provider
func (s *ProviderStore) Put(p *entities.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.providers[p.ID] = &cp
}

// ListActive returns active providers ordered by name
func (s *ProviderStore) ListActive(_ context.Context) ([]*entities.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entities.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetByID returns a provider by id
func (s *ProviderStore) GetByID(_ context.Context, id string) (*entities.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("provider %s not found", id))
	}
	cp := *p
	return &cp, nil
}

// UpdateSyncState stores integration status and, when given, lastSyncAt
func (s *ProviderStore) UpdateSyncState(_ context.Context, id string, status entities.IntegrationStatus, lastSyncAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.providers[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("provider %s not found", id))
	}
	p.IntegrationStatus = status
	if lastSyncAt != nil {
		t := *lastSyncAt
		p.LastSyncAt = &t
	}
	p.UpdatedAt = time.Now()
	return nil
}
