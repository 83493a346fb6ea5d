package services

import (
	"context"
	"time"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/telemed"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
	"github.com/zatekoja/telemedsync/pkg/config"
	"go.opentelemetry.io/otel/attribute"
)

// PartnerClient is the fetch surface of a telemedicine partner API
type PartnerClient interface {
	ProviderID() string
	FetchConsultations(ctx context.Context, req telemed.FetchRequest) (*telemed.Page[telemed.ConsultationDTO], error)
	FetchPrescriptions(ctx context.Context, req telemed.FetchRequest) (*telemed.Page[telemed.PrescriptionDTO], error)
	FetchMedicalRecords(ctx context.Context, req telemed.FetchRequest) (*telemed.Page[telemed.MedicalRecordDTO], error)
}

var _ PartnerClient = (*telemed.Client)(nil)

// SyncWindow bounds a provider run. Nil bounds are open.
type SyncWindow struct {
	Since *time.Time
	Until *time.Time
}

// Chunk is one slice of a backfill range
type Chunk struct {
	Start time.Time
	End   time.Time
}

// ProviderSyncConfig tunes provider runs
type ProviderSyncConfig struct {
	PageSize   int
	ChunkDays  int
	ChunkDelay time.Duration
}

// DefaultProviderSyncConfig returns 7-day chunks one second apart
func DefaultProviderSyncConfig() ProviderSyncConfig {
	return ProviderSyncConfig{
		PageSize:   100,
		ChunkDays:  7,
		ChunkDelay: time.Second,
	}
}

// ProviderSyncConfigFrom converts the env configuration
func ProviderSyncConfigFrom(cfg config.ProviderClientConfig) ProviderSyncConfig {
	out := DefaultProviderSyncConfig()
	if cfg.PageSize > 0 {
		out.PageSize = cfg.PageSize
	}
	if cfg.BackfillChunkDays > 0 {
		out.ChunkDays = cfg.BackfillChunkDays
	}
	if cfg.BackfillChunkDelay >= 0 {
		out.ChunkDelay = cfg.BackfillChunkDelay
	}
	return out
}

// ProviderSyncService pulls one provider's consultations, prescriptions and
// medical records into local storage
type ProviderSyncService struct {
	ingestor *RecordIngestor
	cfg      ProviderSyncConfig
	metrics  *observability.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewProviderSyncService creates a sync service
func NewProviderSyncService(ingestor *RecordIngestor, cfg ProviderSyncConfig, metrics *observability.Metrics) *ProviderSyncService {
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = 7
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	return &ProviderSyncService{
		ingestor: ingestor,
		cfg:      cfg,
		metrics:  metrics,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SyncProvider runs consultations, then prescriptions, then medical records.
// A bad record is recorded and skipped. A fetch failure ends the run and
// marks the provider failed.
func (s *ProviderSyncService) SyncProvider(ctx context.Context, client PartnerClient, provider *entities.Provider, window SyncWindow) entities.SyncResult {
	ctx, span := observability.StartSpan(ctx, "sync.provider")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("provider.id", provider.ID))

	logger := observability.LoggerFromContext(ctx).With().Str("provider_id", provider.ID).Logger()
	result := entities.NewSyncResult(provider, s.now().UTC())

	steps := []func() error{
		func() error {
			return syncEntity(ctx, s, &result, entities.EntityConsultation, window, client.FetchConsultations,
				func(ctx context.Context, dto *telemed.ConsultationDTO) (bool, error) {
					return s.ingestor.UpsertConsultation(ctx, provider.ID, dto)
				})
		},
		func() error {
			return syncEntity(ctx, s, &result, entities.EntityPrescription, window, client.FetchPrescriptions,
				func(ctx context.Context, dto *telemed.PrescriptionDTO) (bool, error) {
					return s.ingestor.UpsertPrescription(ctx, provider.ID, dto)
				})
		},
		func() error {
			return syncEntity(ctx, s, &result, entities.EntityMedicalRecord, window, client.FetchMedicalRecords,
				func(ctx context.Context, dto *telemed.MedicalRecordDTO) (bool, error) {
					return s.ingestor.UpsertMedicalRecord(ctx, provider.ID, dto)
				})
		},
	}

	for _, step := range steps {
		if err := step(); err != nil {
			observability.RecordError(span, err)
			logger.Error().Err(err).Msg("Provider sync aborted")
			break
		}
	}

	result.FinishedAt = s.now().UTC()
	observability.RecordSyncRecords(ctx, s.metrics, provider.ID, result.Processed, len(result.Errors))

	logger.Info().
		Bool("success", result.Success).
		Int("processed", result.Processed).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("errors", len(result.Errors)).
		Msg("Provider sync finished")

	return result
}

// syncEntity drains every page of one entity type. It returns an error only
// when a page could not be fetched; that error is already on result.
func syncEntity[T telemed.Record](
	ctx context.Context,
	s *ProviderSyncService,
	result *entities.SyncResult,
	entity string,
	window SyncWindow,
	fetch func(context.Context, telemed.FetchRequest) (*telemed.Page[T], error),
	upsert func(context.Context, *T) (bool, error),
) error {
	req := telemed.FetchRequest{Since: window.Since, Until: window.Until, Limit: s.cfg.PageSize}

	for {
		page, err := fetch(ctx, req)
		if err != nil {
			result.FailProvider(entity, err)
			return err
		}

		for _, d := range page.Data {
			result.Processed++
			if d.Err != nil {
				result.AddError(entity, d.ExternalID, d.Err)
				continue
			}
			created, err := upsert(ctx, d.Value)
			if err != nil {
				result.AddError(entity, d.ExternalID, err)
				continue
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
		}

		if !page.HasMore {
			return nil
		}
		req.Cursor = page.NextCursor
	}
}

// BackfillChunks splits [start, end] into consecutive chunkDays-long chunks;
// the last one ends exactly at end
func BackfillChunks(start, end time.Time, chunkDays int) []Chunk {
	if chunkDays <= 0 {
		chunkDays = 7
	}
	if !end.After(start) {
		return nil
	}
	var chunks []Chunk
	for s := start; s.Before(end); {
		e := s.AddDate(0, 0, chunkDays)
		if e.After(end) {
			e = end
		}
		chunks = append(chunks, Chunk{Start: s, End: e})
		s = e
	}
	return chunks
}

// Backfill syncs [start, end] chunk by chunk, strictly in sequence, pausing
// ChunkDelay between chunks. Results fold into one SyncResult.
func (s *ProviderSyncService) Backfill(ctx context.Context, client PartnerClient, provider *entities.Provider, start, end time.Time) entities.SyncResult {
	logger := observability.LoggerFromContext(ctx).With().Str("provider_id", provider.ID).Logger()
	total := entities.NewSyncResult(provider, s.now().UTC())

	chunks := BackfillChunks(start, end, s.cfg.ChunkDays)
	logger.Info().
		Time("start", start).
		Time("end", end).
		Int("chunks", len(chunks)).
		Msg("Starting backfill")

	for i, chunk := range chunks {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.ChunkDelay); err != nil {
				total.FailProvider(entities.EntityProvider, err)
				break
			}
		}

		chunkStart, chunkEnd := chunk.Start, chunk.End
		r := s.SyncProvider(ctx, client, provider, SyncWindow{Since: &chunkStart, Until: &chunkEnd})
		total.Merge(r)

		logger.Debug().
			Int("chunk", i+1).
			Time("chunk_start", chunkStart).
			Time("chunk_end", chunkEnd).
			Bool("success", r.Success).
			Msg("Backfill chunk finished")
	}

	if total.FinishedAt.IsZero() {
		total.FinishedAt = s.now().UTC()
	}
	return total
}
