package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
)

// ProviderRepository defines operations for telemedicine partner configuration
type ProviderRepository interface {
	ListActive(ctx context.Context) ([]*entities.Provider, error)
	GetByID(ctx context.Context, id string) (*entities.Provider, error)
	// UpdateSyncState stores the integration status; lastSyncAt is left
	// untouched when nil.
	UpdateSyncState(ctx context.Context, id string, status entities.IntegrationStatus, lastSyncAt *time.Time) error
}
