package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telemedsync/internal/adapters/memory"
	"github.com/zatekoja/telemedsync/internal/application/services"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/telemed"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

type stubPartner struct {
	fail  atomic.Bool
	block chan struct{}
	calls atomic.Int32
}

func (p *stubPartner) ProviderID() string { return "prov-1" }

func (p *stubPartner) FetchConsultations(ctx context.Context, _ telemed.FetchRequest) (*telemed.Page[telemed.ConsultationDTO], error) {
	p.calls.Add(1)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fail.Load() {
		return nil, apperrors.NewTransientNetworkError("partner api returned status 503", 503, nil)
	}
	return &telemed.Page[telemed.ConsultationDTO]{}, nil
}

func (p *stubPartner) FetchPrescriptions(context.Context, telemed.FetchRequest) (*telemed.Page[telemed.PrescriptionDTO], error) {
	return &telemed.Page[telemed.PrescriptionDTO]{}, nil
}

func (p *stubPartner) FetchMedicalRecords(context.Context, telemed.FetchRequest) (*telemed.Page[telemed.MedicalRecordDTO], error) {
	return &telemed.Page[telemed.MedicalRecordDTO]{}, nil
}

type schedulerFixture struct {
	scheduler *services.SyncScheduler
	providers *memory.ProviderStore
	jobs      *memory.SyncJobStore
	partner   *stubPartner
}

func testSchedulerConfig() services.SyncSchedulerConfig {
	cfg := services.DefaultSyncSchedulerConfig()
	cfg.StartupDelay = time.Hour
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.MaxRetries = 2
	return cfg
}

func newSchedulerFixture(t *testing.T, providerStore *memory.ProviderStore, partner *stubPartner) *schedulerFixture {
	t.Helper()
	svc, _ := newSyncService(t)
	jobs := memory.NewSyncJobStore()
	factory := services.ClientFactoryFunc(func(context.Context, *entities.Provider) (services.PartnerClient, error) {
		return partner, nil
	})

	s, err := services.NewSyncScheduler(testSchedulerConfig(), providerStore, jobs, factory, svc, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return &schedulerFixture{scheduler: s, providers: providerStore, jobs: jobs, partner: partner}
}

func syncedPartner() *entities.Provider {
	p := testPartner()
	last := time.Now().Add(-time.Hour)
	p.LastSyncAt = &last
	return p
}

func waitForStatus(t *testing.T, s *services.SyncScheduler, id string, check func(*entities.SyncJob) bool) *entities.SyncJob {
	t.Helper()
	var job *entities.SyncJob
	require.Eventually(t, func() bool {
		j, err := s.GetJob(id)
		if err != nil {
			return false
		}
		job = j
		return check(j)
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func backfillJobs(s *services.SyncScheduler) []*entities.SyncJob {
	var out []*entities.SyncJob
	for _, j := range s.ListJobs() {
		if j.Type == entities.SyncJobTypeBackfill {
			out = append(out, j)
		}
	}
	return out
}

func TestSyncScheduler_FirstRunBackfillOnce(t *testing.T) {
	store := memory.NewProviderStore(testPartner())
	f := newSchedulerFixture(t, store, &stubPartner{})

	require.NoError(t, f.scheduler.Start(context.Background()))

	backfills := backfillJobs(f.scheduler)
	require.Len(t, backfills, 1)
	job := backfills[0]
	assert.Equal(t, "prov-1", *job.ProviderID)
	assert.Equal(t, 30*24*time.Hour, job.BackfillEnd.Sub(*job.BackfillStart))
	assert.WithinDuration(t, time.Now(), *job.BackfillEnd, time.Minute)

	waitForStatus(t, f.scheduler, job.ID, func(j *entities.SyncJob) bool {
		return j.Status == entities.SyncJobStatusCompleted
	})

	p, err := store.GetByID(context.Background(), "prov-1")
	require.NoError(t, err)
	require.NotNil(t, p.LastSyncAt)
	assert.Equal(t, entities.IntegrationStatusActive, p.IntegrationStatus)

	persisted, ok := f.jobs.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, entities.SyncJobStatusCompleted, persisted.Status)

	// A restart after the first sync does not backfill again
	second := newSchedulerFixture(t, store, &stubPartner{})
	require.NoError(t, second.scheduler.Start(context.Background()))
	assert.Empty(t, backfillJobs(second.scheduler))
}

func TestSyncScheduler_NoBackfillWhenDisabled(t *testing.T) {
	svc, _ := newSyncService(t)
	cfg := testSchedulerConfig()
	cfg.EnableAutoBackfill = false
	factory := services.ClientFactoryFunc(func(context.Context, *entities.Provider) (services.PartnerClient, error) {
		return &stubPartner{}, nil
	})

	s, err := services.NewSyncScheduler(cfg, memory.NewProviderStore(testPartner()), memory.NewSyncJobStore(), factory, svc, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Empty(t, backfillJobs(s))
}

func TestSyncScheduler_RetriesUntilExhausted(t *testing.T) {
	partner := &stubPartner{}
	partner.fail.Store(true)
	store := memory.NewProviderStore(syncedPartner())
	f := newSchedulerFixture(t, store, partner)
	require.NoError(t, f.scheduler.Start(context.Background()))

	id, err := f.scheduler.TriggerIncrementalSync(context.Background())
	require.NoError(t, err)

	job := waitForStatus(t, f.scheduler, id, func(j *entities.SyncJob) bool {
		return j.Status == entities.SyncJobStatusFailed && j.RetryCount == 2
	})
	assert.True(t, job.Exhausted())
	assert.Contains(t, job.LastError, string(apperrors.ErrorTypeJobExhausted))

	// One initial attempt plus two retries, then nothing more
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), partner.calls.Load())

	p, err := store.GetByID(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, entities.IntegrationStatusError, p.IntegrationStatus)
}

func TestSyncScheduler_RetrySucceeds(t *testing.T) {
	partner := &stubPartner{}
	partner.fail.Store(true)
	f := newSchedulerFixture(t, memory.NewProviderStore(syncedPartner()), partner)
	require.NoError(t, f.scheduler.Start(context.Background()))

	id, err := f.scheduler.TriggerIncrementalSync(context.Background())
	require.NoError(t, err)

	waitForStatus(t, f.scheduler, id, func(j *entities.SyncJob) bool { return j.RetryCount >= 1 })
	partner.fail.Store(false)

	job := waitForStatus(t, f.scheduler, id, func(j *entities.SyncJob) bool {
		return j.Status == entities.SyncJobStatusCompleted
	})
	assert.Empty(t, job.LastError)
}

// badRecordPartner returns one undecodable consultation to any window that
// starts at or before badAt
type badRecordPartner struct {
	stubPartner
	badAt time.Time

	mu     sync.Mutex
	sinces []time.Time
}

func (p *badRecordPartner) FetchConsultations(_ context.Context, req telemed.FetchRequest) (*telemed.Page[telemed.ConsultationDTO], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Since != nil {
		p.sinces = append(p.sinces, *req.Since)
	}
	page := &telemed.Page[telemed.ConsultationDTO]{}
	if req.Since == nil || !req.Since.After(p.badAt) {
		page.Data = []telemed.Decoded[telemed.ConsultationDTO]{{
			ExternalID: "c-bad",
			Err:        apperrors.NewTransformError("missing patientId", nil),
		}}
	}
	return page, nil
}

func (p *badRecordPartner) seenSinces() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.sinces...)
}

func TestSyncScheduler_RecordErrorsKeepIncrementalWindow(t *testing.T) {
	provider := syncedPartner()
	lastSync := *provider.LastSyncAt
	partner := &badRecordPartner{badAt: lastSync.Add(30 * time.Minute)}

	svc, _ := newSyncService(t)
	store := memory.NewProviderStore(provider)
	factory := services.ClientFactoryFunc(func(context.Context, *entities.Provider) (services.PartnerClient, error) {
		return partner, nil
	})
	s, err := services.NewSyncScheduler(testSchedulerConfig(), store, memory.NewSyncJobStore(), factory, svc, nil, nil)
	require.NoError(t, err)
	defer s.Stop(context.Background())
	require.NoError(t, s.Start(context.Background()))

	id, err := s.TriggerIncrementalSync(context.Background())
	require.NoError(t, err)

	job := waitForStatus(t, s, id, func(j *entities.SyncJob) bool {
		return j.Status == entities.SyncJobStatusFailed && j.RetryCount == 2
	})
	assert.True(t, job.Exhausted())
	assert.Contains(t, job.LastError, "missing patientId")

	sinces := partner.seenSinces()
	require.Len(t, sinces, 3)
	for i, since := range sinces {
		assert.True(t, since.Equal(lastSync), "attempt %d fetched since %v, want %v", i, since, lastSync)
	}

	p, err := store.GetByID(context.Background(), "prov-1")
	require.NoError(t, err)
	require.NotNil(t, p.LastSyncAt)
	assert.True(t, p.LastSyncAt.Equal(lastSync))
	assert.Equal(t, entities.IntegrationStatusActive, p.IntegrationStatus)
}

func TestSyncScheduler_SingleFlightFullSync(t *testing.T) {
	partner := &stubPartner{block: make(chan struct{})}
	f := newSchedulerFixture(t, memory.NewProviderStore(syncedPartner()), partner)
	require.NoError(t, f.scheduler.Start(context.Background()))

	first, err := f.scheduler.TriggerFullSync(context.Background())
	require.NoError(t, err)

	jobsBefore := len(f.scheduler.ListJobs())
	_, err = f.scheduler.TriggerFullSync(context.Background())
	assert.True(t, errors.Is(err, services.ErrSyncInProgress))
	assert.Len(t, f.scheduler.ListJobs(), jobsBefore)
	assert.True(t, f.scheduler.Status().FullSyncInProgress)

	close(partner.block)
	waitForStatus(t, f.scheduler, first, func(j *entities.SyncJob) bool {
		return j.Status == entities.SyncJobStatusCompleted
	})

	require.Eventually(t, func() bool {
		_, err := f.scheduler.TriggerFullSync(context.Background())
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSyncScheduler_NotRunning(t *testing.T) {
	f := newSchedulerFixture(t, memory.NewProviderStore(syncedPartner()), &stubPartner{})

	_, err := f.scheduler.TriggerFullSync(context.Background())
	assert.True(t, errors.Is(err, services.ErrSchedulerNotRunning))
	_, err = f.scheduler.TriggerIncrementalSync(context.Background())
	assert.True(t, errors.Is(err, services.ErrSchedulerNotRunning))
}

func TestSyncScheduler_TriggerBackfillValidation(t *testing.T) {
	f := newSchedulerFixture(t, memory.NewProviderStore(syncedPartner()), &stubPartner{})
	require.NoError(t, f.scheduler.Start(context.Background()))
	now := time.Now()

	_, err := f.scheduler.TriggerBackfill(context.Background(), "prov-1", now, now.Add(-time.Hour))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.scheduler.TriggerBackfill(context.Background(), "nope", now.Add(-time.Hour), now)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	id, err := f.scheduler.TriggerBackfill(context.Background(), "prov-1", now.AddDate(0, 0, -10), now)
	require.NoError(t, err)
	job := waitForStatus(t, f.scheduler, id, func(j *entities.SyncJob) bool {
		return j.Status == entities.SyncJobStatusCompleted
	})
	require.Len(t, job.Results, 1)
	assert.Equal(t, 2, job.Results[0].Chunks)
}

func TestSyncScheduler_HistoryQueries(t *testing.T) {
	f := newSchedulerFixture(t, memory.NewProviderStore(syncedPartner()), &stubPartner{})
	require.NoError(t, f.scheduler.Start(context.Background()))

	_, err := f.scheduler.GetJob("missing")
	assert.True(t, errors.Is(err, services.ErrJobNotFound))

	id, err := f.scheduler.TriggerIncrementalSync(context.Background())
	require.NoError(t, err)
	waitForStatus(t, f.scheduler, id, func(j *entities.SyncJob) bool {
		return j.Status == entities.SyncJobStatusCompleted
	})

	assert.Len(t, f.scheduler.ListRecentJobs(24*time.Hour), 1)
	status := f.scheduler.Status()
	assert.True(t, status.IsRunning)
	assert.Equal(t, 1, status.Providers)
	assert.Empty(t, status.ActiveJobs)
	assert.Len(t, status.RecentJobs, 1)

	assert.Equal(t, 0, f.scheduler.CleanupHistory(time.Now()))
	assert.Equal(t, 1, f.scheduler.CleanupHistory(time.Now().Add(8*24*time.Hour)))
	assert.Empty(t, f.scheduler.ListJobs())
}

func TestSyncScheduler_StopCancelsInFlightJobs(t *testing.T) {
	partner := &stubPartner{block: make(chan struct{})}
	f := newSchedulerFixture(t, memory.NewProviderStore(syncedPartner()), partner)
	require.NoError(t, f.scheduler.Start(context.Background()))

	_, err := f.scheduler.TriggerIncrementalSync(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return partner.calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.scheduler.Stop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, f.scheduler.IsRunning())
}

func TestSyncSchedulerConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*services.SyncSchedulerConfig)
	}{
		{"zero full interval", func(c *services.SyncSchedulerConfig) { c.FullSyncInterval = 0 }},
		{"negative retries", func(c *services.SyncSchedulerConfig) { c.MaxRetries = -1 }},
		{"backfill without days", func(c *services.SyncSchedulerConfig) { c.BackfillDaysOnFirstRun = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := services.DefaultSyncSchedulerConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), services.ErrInvalidConfig)
		})
	}
}
