package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/providers"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/telemed"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
	"github.com/zatekoja/telemedsync/pkg/config"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// ClientFactory builds a partner client for a provider
type ClientFactory interface {
	NewClient(ctx context.Context, provider *entities.Provider) (PartnerClient, error)
}

// ClientFactoryFunc adapts a function to ClientFactory
type ClientFactoryFunc func(ctx context.Context, provider *entities.Provider) (PartnerClient, error)

// NewClient calls f
func (f ClientFactoryFunc) NewClient(ctx context.Context, provider *entities.Provider) (PartnerClient, error) {
	return f(ctx, provider)
}

// TelemedClientFactory exposes a telemed factory as a ClientFactory
func TelemedClientFactory(f *telemed.ClientFactory) ClientFactory {
	return ClientFactoryFunc(func(ctx context.Context, provider *entities.Provider) (PartnerClient, error) {
		c, err := f.NewClient(ctx, provider)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// SyncSchedulerConfig holds the sync cadence and retry discipline
type SyncSchedulerConfig struct {
	FullSyncInterval        time.Duration `json:"full_sync_interval"`
	IncrementalSyncInterval time.Duration `json:"incremental_sync_interval"`
	RetryDelay              time.Duration `json:"retry_delay"`
	MaxRetries              int           `json:"max_retries"`
	EnableAutoBackfill      bool          `json:"enable_auto_backfill"`
	BackfillDaysOnFirstRun  int           `json:"backfill_days_on_first_run"`
	StartupDelay            time.Duration `json:"startup_delay"`
	HistoryRetention        time.Duration `json:"history_retention"`
	CleanupInterval         time.Duration `json:"cleanup_interval"`
	// IncrementalLookback replaces the provider's lastSyncAt as the
	// incremental lower bound when positive.
	IncrementalLookback time.Duration `json:"incremental_lookback"`
}

// DefaultSyncSchedulerConfig returns the default cadence
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		FullSyncInterval:        6 * time.Hour,
		IncrementalSyncInterval: 15 * time.Minute,
		RetryDelay:              5 * time.Minute,
		MaxRetries:              3,
		EnableAutoBackfill:      true,
		BackfillDaysOnFirstRun:  30,
		StartupDelay:            10 * time.Second,
		HistoryRetention:        7 * 24 * time.Hour,
		CleanupInterval:         time.Hour,
	}
}

// SyncSchedulerConfigFrom converts the env configuration
func SyncSchedulerConfigFrom(cfg config.SchedulerConfig) SyncSchedulerConfig {
	return SyncSchedulerConfig{
		FullSyncInterval:        time.Duration(cfg.FullSyncIntervalHours) * time.Hour,
		IncrementalSyncInterval: time.Duration(cfg.IncrementalSyncIntervalMinutes) * time.Minute,
		RetryDelay:              time.Duration(cfg.RetryOnFailureMinutes) * time.Minute,
		MaxRetries:              cfg.MaxRetries,
		EnableAutoBackfill:      cfg.EnableAutoBackfill,
		BackfillDaysOnFirstRun:  cfg.BackfillDaysOnFirstRun,
		StartupDelay:            cfg.StartupDelay,
		HistoryRetention:        cfg.HistoryRetention,
		CleanupInterval:         cfg.CleanupInterval,
		IncrementalLookback:     cfg.IncrementalLookback,
	}
}

// Validate validates the configuration
func (c *SyncSchedulerConfig) Validate() error {
	if c.FullSyncInterval <= 0 || c.IncrementalSyncInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxRetries < 0 || c.RetryDelay < 0 {
		return ErrInvalidConfig
	}
	if c.EnableAutoBackfill && c.BackfillDaysOnFirstRun <= 0 {
		return ErrInvalidConfig
	}
	if c.HistoryRetention <= 0 || c.CleanupInterval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// SchedulerStatus is a point-in-time view of the scheduler
type SchedulerStatus struct {
	IsRunning          bool                `json:"is_running"`
	FullSyncInProgress bool                `json:"full_sync_in_progress"`
	Providers          int                 `json:"providers"`
	ActiveJobs         []*entities.SyncJob `json:"active_jobs"`
	RecentJobs         []*entities.SyncJob `json:"recent_jobs"`
	Config             SyncSchedulerConfig `json:"config"`
}

// SyncScheduler owns the recurring sync timers, one-off backfills, retries
// of failed jobs and the job history
type SyncScheduler struct {
	cfg       SyncSchedulerConfig
	providers repositories.ProviderRepository
	jobRepo   repositories.SyncJobRepository
	factory   ClientFactory
	sync      *ProviderSyncService
	events    providers.EventBus
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	// mu guards everything below, including job state transitions
	mu          sync.RWMutex
	running     bool
	clients     map[string]PartnerClient
	history     map[string]*entities.SyncJob
	order       []string
	retryTimers map[string]*time.Timer
	loopCancel  context.CancelFunc
	jobCtx      context.Context
	jobCancel   context.CancelFunc

	wg             sync.WaitGroup
	fullSync       sync.Mutex
	fullSyncActive atomic.Bool
}

// NewSyncScheduler creates a scheduler. events may be nil.
func NewSyncScheduler(
	cfg SyncSchedulerConfig,
	providerRepo repositories.ProviderRepository,
	jobRepo repositories.SyncJobRepository,
	factory ClientFactory,
	syncService *ProviderSyncService,
	events providers.EventBus,
	metrics *observability.Metrics,
) (*SyncScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SyncScheduler{
		cfg:         cfg,
		providers:   providerRepo,
		jobRepo:     jobRepo,
		factory:     factory,
		sync:        syncService,
		events:      events,
		metrics:     metrics,
		logger:      observability.GetLogger().With().Str("component", "sync_scheduler").Logger(),
		now:         time.Now,
		clients:     make(map[string]PartnerClient),
		history:     make(map[string]*entities.SyncJob),
		retryTimers: make(map[string]*time.Timer),
	}, nil
}

// Start builds clients, schedules first-run backfills, arms the recurring
// timers and fires one incremental sync after StartupDelay
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	active, err := s.providers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load providers: %w", err)
	}

	for _, p := range active {
		if _, err := s.clientFor(ctx, p); err != nil {
			s.logger.Warn().Err(err).Str("provider_id", p.ID).Msg("Skipping provider without a usable client")
		}
	}

	loopCtx, loopCancel := context.WithCancel(context.WithoutCancel(ctx))
	jobCtx, jobCancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.running = true
	s.loopCancel = loopCancel
	s.jobCtx = jobCtx
	s.jobCancel = jobCancel
	clients := len(s.clients)
	s.mu.Unlock()

	backfills := 0
	if s.cfg.EnableAutoBackfill {
		now := s.now().UTC()
		start := now.AddDate(0, 0, -s.cfg.BackfillDaysOnFirstRun)
		for _, p := range active {
			if !p.NeverSynced() || !s.hasClient(p.ID) || s.hasOpenBackfill(p.ID) {
				continue
			}
			job := entities.NewBackfillJob(p.ID, start, now, s.cfg.MaxRetries, now)
			if err := s.submit(job); err != nil {
				s.logger.Error().Err(err).Str("provider_id", p.ID).Msg("Failed to schedule first-run backfill")
				continue
			}
			backfills++
		}
	}

	s.startLoop(loopCtx, s.cfg.IncrementalSyncInterval, func() {
		if _, err := s.TriggerIncrementalSync(loopCtx); err != nil {
			s.logger.Warn().Err(err).Msg("Scheduled incremental sync not started")
		}
	})
	s.startLoop(loopCtx, s.cfg.FullSyncInterval, func() {
		if _, err := s.TriggerFullSync(loopCtx); err != nil {
			s.logger.Warn().Err(err).Msg("Scheduled full sync not started")
		}
	})
	s.startLoop(loopCtx, s.cfg.CleanupInterval, func() {
		if removed := s.CleanupHistory(s.now()); removed > 0 {
			s.logger.Info().Int("removed", removed).Msg("Pruned sync job history")
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.cfg.StartupDelay)
		defer timer.Stop()
		select {
		case <-loopCtx.Done():
		case <-timer.C:
			if _, err := s.TriggerIncrementalSync(loopCtx); err != nil {
				s.logger.Warn().Err(err).Msg("Startup incremental sync not started")
			}
		}
	}()

	s.logger.Info().
		Int("providers", clients).
		Int("backfills", backfills).
		Dur("incremental_interval", s.cfg.IncrementalSyncInterval).
		Dur("full_interval", s.cfg.FullSyncInterval).
		Msg("Sync scheduler started")
	return nil
}

// Stop disarms the timers and pending retries, then waits for in-flight jobs.
// When ctx expires first the jobs are cancelled and ctx's error returned.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.loopCancel()
	for id, t := range s.retryTimers {
		t.Stop()
		delete(s.retryTimers, id)
	}
	jobCancel := s.jobCancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		jobCancel()
		s.logger.Info().Msg("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		jobCancel()
		s.logger.Warn().Msg("Sync scheduler stop timed out, cancelling running jobs")
		<-done
		return ctx.Err()
	}
}

func (s *SyncScheduler) startLoop(ctx context.Context, interval time.Duration, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// TriggerFullSync starts a full sync of every provider. While another full
// sync is in flight no job is created and ErrSyncInProgress is returned.
func (s *SyncScheduler) TriggerFullSync(ctx context.Context) (string, error) {
	if !s.IsRunning() {
		return "", ErrSchedulerNotRunning
	}
	if !s.fullSync.TryLock() {
		return "", ErrSyncInProgress
	}
	s.fullSyncActive.Store(true)

	job := entities.NewSyncJob(entities.SyncJobTypeFull, nil, s.cfg.MaxRetries, s.now().UTC())
	if err := s.submit(job); err != nil {
		s.releaseFullSync()
		return "", err
	}
	return job.ID, nil
}

// TriggerIncrementalSync starts an incremental sync of every provider
func (s *SyncScheduler) TriggerIncrementalSync(ctx context.Context) (string, error) {
	job := entities.NewSyncJob(entities.SyncJobTypeIncremental, nil, s.cfg.MaxRetries, s.now().UTC())
	if err := s.submit(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// TriggerProviderSync starts an incremental sync of one provider
func (s *SyncScheduler) TriggerProviderSync(ctx context.Context, providerID string) (string, error) {
	if _, err := s.providers.GetByID(ctx, providerID); err != nil {
		return "", err
	}
	job := entities.NewSyncJob(entities.SyncJobTypeIncremental, &providerID, s.cfg.MaxRetries, s.now().UTC())
	if err := s.submit(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// TriggerBackfill starts a backfill of [start, end] for one provider
func (s *SyncScheduler) TriggerBackfill(ctx context.Context, providerID string, start, end time.Time) (string, error) {
	if !end.After(start) {
		return "", apperrors.NewValidationError("backfill end must be after start")
	}
	if _, err := s.providers.GetByID(ctx, providerID); err != nil {
		return "", err
	}
	job := entities.NewBackfillJob(providerID, start.UTC(), end.UTC(), s.cfg.MaxRetries, s.now().UTC())
	if err := s.submit(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// submit records a new job and starts it in the background
func (s *SyncScheduler) submit(job *entities.SyncJob) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.history[job.ID] = job
	s.order = append(s.order, job.ID)
	snapshot := job.Clone()
	s.wg.Add(1)
	jobCtx := s.jobCtx
	s.mu.Unlock()

	s.record(jobCtx, entities.SyncJobEventScheduled, snapshot)
	go func() {
		defer s.wg.Done()
		s.execute(jobCtx, job)
	}()
	return nil
}

func (s *SyncScheduler) releaseFullSync() {
	s.fullSyncActive.Store(false)
	s.fullSync.Unlock()
}

// execute runs one attempt of job. Full syncs arrive holding the
// single-flight guard and release it here.
func (s *SyncScheduler) execute(ctx context.Context, job *entities.SyncJob) {
	if job.Type == entities.SyncJobTypeFull {
		defer s.releaseFullSync()
	}

	s.mu.Lock()
	if err := job.Start(s.now().UTC()); err != nil {
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Sync job not started")
		return
	}
	snapshot := job.Clone()
	s.mu.Unlock()

	logger := s.logger.With().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("retry_count", snapshot.RetryCount).
		Logger()
	if job.ProviderID != nil {
		logger = logger.With().Str("provider_id", *job.ProviderID).Logger()
	}
	logger.Info().Msg("Sync job started")
	s.record(ctx, entities.SyncJobEventStarted, snapshot)

	spanCtx, span := observability.StartSpan(ctx, "sync.job")
	observability.SetSpanAttributes(span,
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
	)
	results, runErr := s.runProviders(spanCtx, snapshot)
	observability.RecordError(span, runErr)
	span.End()

	s.mu.Lock()
	now := s.now().UTC()
	if runErr != nil {
		job.Fail(runErr.Error(), now)
	} else {
		job.Complete(results, now)
	}
	retry := job.ShouldRetry() && s.running
	exhausted := job.Exhausted()
	if exhausted {
		job.LastError = apperrors.NewJobExhaustedError(job.ID, job.RetryCount, errors.New(job.LastError)).Error()
	}
	snapshot = job.Clone()
	s.mu.Unlock()

	var duration time.Duration
	if snapshot.StartedAt != nil {
		duration = now.Sub(*snapshot.StartedAt)
	}
	observability.RecordSyncJob(ctx, s.metrics, string(job.Type), string(snapshot.Status), duration)

	switch {
	case snapshot.Status == entities.SyncJobStatusCompleted:
		logger.Info().Dur("duration", duration).Msg("Sync job completed")
		s.record(ctx, entities.SyncJobEventCompleted, snapshot)
	case exhausted:
		logger.Error().Str("last_error", snapshot.LastError).Msg("Sync job exhausted its retries")
		s.record(ctx, entities.SyncJobEventExhausted, snapshot)
	default:
		logger.Warn().Str("last_error", snapshot.LastError).Msg("Sync job failed")
		s.record(ctx, entities.SyncJobEventFailed, snapshot)
	}

	if retry {
		s.scheduleRetry(job)
	}
}

// scheduleRetry re-executes job after RetryDelay with retryCount+1
func (s *SyncScheduler) scheduleRetry(job *entities.SyncJob) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	job.PrepareRetry()
	snapshot := job.Clone()
	jobCtx := s.jobCtx
	s.retryTimers[job.ID] = time.AfterFunc(s.cfg.RetryDelay, func() {
		s.mu.Lock()
		delete(s.retryTimers, job.ID)
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		if job.Type == entities.SyncJobTypeFull {
			if !s.fullSync.TryLock() {
				s.failAttempt(jobCtx, job, ErrSyncInProgress)
				return
			}
			s.fullSyncActive.Store(true)
		}
		s.execute(jobCtx, job)
	})
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", job.ID).
		Int("retry_count", snapshot.RetryCount).
		Int("max_retries", snapshot.MaxRetries).
		Dur("delay", s.cfg.RetryDelay).
		Msg("Sync job scheduled for retry")
	s.record(jobCtx, entities.SyncJobEventRetrying, snapshot)
}

// failAttempt fails a retry that could not run at all
func (s *SyncScheduler) failAttempt(ctx context.Context, job *entities.SyncJob, err error) {
	s.mu.Lock()
	job.Fail(err.Error(), s.now().UTC())
	retry := job.ShouldRetry() && s.running
	if job.Exhausted() {
		job.LastError = apperrors.NewJobExhaustedError(job.ID, job.RetryCount, err).Error()
	}
	snapshot := job.Clone()
	s.mu.Unlock()

	s.record(ctx, entities.SyncJobEventFailed, snapshot)
	if retry {
		s.scheduleRetry(job)
	}
}

// runProviders syncs every target provider in turn. The error is returned
// only when the provider list itself cannot be loaded.
func (s *SyncScheduler) runProviders(ctx context.Context, job *entities.SyncJob) ([]entities.SyncResult, error) {
	var targets []*entities.Provider
	if job.ProviderID != nil {
		p, err := s.providers.GetByID(ctx, *job.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("load provider %s: %w", *job.ProviderID, err)
		}
		targets = []*entities.Provider{p}
	} else {
		active, err := s.providers.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("load providers: %w", err)
		}
		for _, p := range active {
			if p.IsConfigured() {
				targets = append(targets, p)
			}
		}
	}

	results := make([]entities.SyncResult, 0, len(targets))
	for _, p := range targets {
		if err := ctx.Err(); err != nil {
			r := entities.NewSyncResult(p, s.now().UTC())
			r.FailProvider(entities.EntityProvider, err)
			results = append(results, r)
			continue
		}
		results = append(results, s.runProvider(ctx, job, p))
	}
	return results, nil
}

func (s *SyncScheduler) runProvider(ctx context.Context, job *entities.SyncJob, p *entities.Provider) entities.SyncResult {
	client, err := s.clientFor(ctx, p)
	if err != nil {
		r := entities.NewSyncResult(p, s.now().UTC())
		r.FailProvider(entities.EntityProvider, err)
		r.FinishedAt = r.StartedAt
		s.updateProviderState(ctx, p.ID, r)
		return r
	}

	var r entities.SyncResult
	switch {
	case job.IsBackfill():
		r = s.sync.Backfill(ctx, client, p, *job.BackfillStart, *job.BackfillEnd)
	case job.Type == entities.SyncJobTypeIncremental:
		r = s.sync.SyncProvider(ctx, client, p, s.incrementalWindow(p))
	default:
		r = s.sync.SyncProvider(ctx, client, p, SyncWindow{})
	}

	s.updateProviderState(ctx, p.ID, r)
	return r
}

// incrementalWindow starts at the lookback horizon when configured, else at
// the provider's last successful sync
func (s *SyncScheduler) incrementalWindow(p *entities.Provider) SyncWindow {
	if s.cfg.IncrementalLookback > 0 {
		since := s.now().UTC().Add(-s.cfg.IncrementalLookback)
		return SyncWindow{Since: &since}
	}
	if p.LastSyncAt != nil {
		since := *p.LastSyncAt
		return SyncWindow{Since: &since}
	}
	return SyncWindow{}
}

// updateProviderState marks the provider active when the run succeeded,
// else errored. lastSyncAt advances to the run start only for a clean run, so
// an incremental retry refetches the records that failed.
func (s *SyncScheduler) updateProviderState(ctx context.Context, providerID string, r entities.SyncResult) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if r.Success {
		var at *time.Time
		if !r.HasErrors() {
			started := r.StartedAt
			at = &started
		}
		err = s.providers.UpdateSyncState(ctx, providerID, entities.IntegrationStatusActive, at)
	} else {
		err = s.providers.UpdateSyncState(ctx, providerID, entities.IntegrationStatusError, nil)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("provider_id", providerID).Msg("Failed to update provider sync state")
	}
}

func (s *SyncScheduler) clientFor(ctx context.Context, p *entities.Provider) (PartnerClient, error) {
	s.mu.RLock()
	c, ok := s.clients[p.ID]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	if !p.IsConfigured() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("provider %s is not configured for sync", p.ID))
	}
	c, err := s.factory.NewClient(ctx, p)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.clients[p.ID]; ok {
		c = existing
	} else {
		s.clients[p.ID] = c
	}
	s.mu.Unlock()
	return c, nil
}

func (s *SyncScheduler) hasClient(providerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[providerID]
	return ok
}

// hasOpenBackfill reports a pending or running backfill for the provider
func (s *SyncScheduler) hasOpenBackfill(providerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.history {
		if job.Type != entities.SyncJobTypeBackfill || job.ProviderID == nil || *job.ProviderID != providerID {
			continue
		}
		if job.Status == entities.SyncJobStatusPending || job.Status == entities.SyncJobStatusRunning {
			return true
		}
	}
	return false
}

// record persists a job snapshot and publishes the transition. Both are
// best effort.
func (s *SyncScheduler) record(ctx context.Context, eventType entities.SyncJobEventType, job *entities.SyncJob) {
	ctx = context.WithoutCancel(ctx)
	if s.jobRepo != nil {
		if err := s.jobRepo.Save(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist sync job")
		}
	}
	if s.events == nil {
		return
	}
	event := entities.NewSyncJobEvent(eventType, job, s.now().UTC())
	if err := s.events.Publish(ctx, providers.EventChannelSyncJobs, event); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish sync job event")
	}
	if job.ProviderID != nil {
		if err := s.events.Publish(ctx, providers.GetProviderChannel(*job.ProviderID), event); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish provider sync event")
		}
	}
}

// IsRunning reports whether the scheduler accepts jobs
func (s *SyncScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetJob returns a copy of a job from the history
func (s *SyncScheduler) GetJob(id string) (*entities.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.history[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// ListJobs returns copies of every job, newest first
func (s *SyncScheduler) ListJobs() []*entities.SyncJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entities.SyncJob, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.history[s.order[i]].Clone())
	}
	return out
}

// ListRecentJobs returns jobs scheduled within the last d, newest first
func (s *SyncScheduler) ListRecentJobs(d time.Duration) []*entities.SyncJob {
	cutoff := s.now().Add(-d)
	var out []*entities.SyncJob
	for _, job := range s.ListJobs() {
		if job.ScheduledAt.After(cutoff) {
			out = append(out, job)
		}
	}
	return out
}

// Status returns the scheduler status with jobs from the last 24 hours
func (s *SyncScheduler) Status() SchedulerStatus {
	status := SchedulerStatus{
		IsRunning:          s.IsRunning(),
		FullSyncInProgress: s.fullSyncActive.Load(),
		ActiveJobs:         []*entities.SyncJob{},
		RecentJobs:         s.ListRecentJobs(24 * time.Hour),
		Config:             s.cfg,
	}
	if status.RecentJobs == nil {
		status.RecentJobs = []*entities.SyncJob{}
	}

	s.mu.RLock()
	status.Providers = len(s.clients)
	for _, id := range s.order {
		if job := s.history[id]; job.Status == entities.SyncJobStatusRunning {
			status.ActiveJobs = append(status.ActiveJobs, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(status.ActiveJobs, func(i, j int) bool {
		return status.ActiveJobs[i].ScheduledAt.After(status.ActiveJobs[j].ScheduledAt)
	})
	return status
}

// CleanupHistory drops jobs older than the retention that are not running
// or waiting for a retry. It returns the number removed.
func (s *SyncScheduler) CleanupHistory(now time.Time) int {
	cutoff := now.Add(-s.cfg.HistoryRetention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		job := s.history[id]
		_, retrying := s.retryTimers[id]
		if job.Status != entities.SyncJobStatusRunning && !retrying && job.ScheduledAt.Before(cutoff) {
			delete(s.history, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}
