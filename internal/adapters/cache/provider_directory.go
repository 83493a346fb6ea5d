package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/providers"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
)

// DefaultProviderTTL bounds how long a webhook may see a stale provider
const DefaultProviderTTL = 60 * time.Second

func providerCacheKey(id string) string {
	return fmt.Sprintf("provider:%s", id)
}

// ProviderDirectory answers provider lookups for inbound webhooks from the
// cache, falling back to the repository. Cached entries never carry
// credentials, so callers that build partner clients must use the
// repository directly.
type ProviderDirectory struct {
	repo  repositories.ProviderRepository
	cache providers.CacheProvider
	ttl   int
}

// NewProviderDirectory creates a directory over repo
func NewProviderDirectory(repo repositories.ProviderRepository, cache providers.CacheProvider, ttl time.Duration) *ProviderDirectory {
	if ttl <= 0 {
		ttl = DefaultProviderTTL
	}
	return &ProviderDirectory{repo: repo, cache: cache, ttl: int(ttl / time.Second)}
}

// GetByID returns the provider with credentials removed
func (d *ProviderDirectory) GetByID(ctx context.Context, id string) (*entities.Provider, error) {
	key := providerCacheKey(id)
	logger := observability.LoggerFromContext(ctx)

	if cached, err := d.cache.Get(ctx, key); err == nil {
		var p entities.Provider
		if err := json.Unmarshal(cached, &p); err == nil {
			return &p, nil
		}
		logger.Warn().Str("provider_id", id).Msg("Discarding unreadable cached provider")
	}

	p, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	public := withoutCredentials(p)

	if data, err := json.Marshal(public); err == nil {
		if err := d.cache.Set(ctx, key, data, d.ttl); err != nil {
			logger.Warn().Err(err).Str("provider_id", id).Msg("Failed to cache provider")
		}
	}
	return public, nil
}

// Invalidate drops the cached entry for id
func (d *ProviderDirectory) Invalidate(ctx context.Context, id string) error {
	return d.cache.Delete(ctx, providerCacheKey(id))
}

func withoutCredentials(p *entities.Provider) *entities.Provider {
	cp := *p
	cp.AuthConfig = entities.AuthConfig{Type: p.AuthConfig.Type}
	cp.CredentialsConfig = nil
	return &cp
}
