package repositories

import (
	"context"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
)

// SyncJobRepository persists scheduler history. Save is an upsert by job id.
type SyncJobRepository interface {
	Save(ctx context.Context, job *entities.SyncJob) error
}
