package database

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

// SyncJobAdapter implements SyncJobRepository
type SyncJobAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

var _ repositories.SyncJobRepository = (*SyncJobAdapter)(nil)

// NewSyncJobAdapter creates a new sync job adapter
func NewSyncJobAdapter(client *postgres.Client) *SyncJobAdapter {
	return &SyncJobAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Save inserts the job or updates its mutable state
func (a *SyncJobAdapter) Save(ctx context.Context, job *entities.SyncJob) error {
	results, err := jsonColumn(job.Results)
	if err != nil {
		return err
	}

	mutable := goqu.Record{
		"status":       job.Status,
		"started_at":   nullTime(job.StartedAt),
		"completed_at": nullTime(job.CompletedAt),
		"retry_count":  job.RetryCount,
		"last_error":   nullString(job.LastError),
		"results":      results,
	}

	record := goqu.Record{
		"id":             job.ID,
		"type":           job.Type,
		"provider_id":    nullStringPtr(job.ProviderID),
		"scheduled_at":   job.ScheduledAt,
		"max_retries":    job.MaxRetries,
		"backfill_start": nullTime(job.BackfillStart),
		"backfill_end":   nullTime(job.BackfillEnd),
	}
	for k, v := range mutable {
		record[k] = v
	}

	query, args, err := a.db.Insert(tableSyncJobs).
		Rows(record).
		OnConflict(goqu.DoUpdate("id", mutable)).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build upsert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to save sync job", err)
	}
	return nil
}
