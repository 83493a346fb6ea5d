package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/telemedsync/internal/application/services"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
)

// recentWindow bounds ?recent=true job listings
const recentWindow = 24 * time.Hour

// SyncController is the scheduler surface the admin API drives
type SyncController interface {
	Status() services.SchedulerStatus
	GetJob(id string) (*entities.SyncJob, error)
	ListJobs() []*entities.SyncJob
	ListRecentJobs(d time.Duration) []*entities.SyncJob
	TriggerFullSync(ctx context.Context) (string, error)
	TriggerIncrementalSync(ctx context.Context) (string, error)
	TriggerBackfill(ctx context.Context, providerID string, start, end time.Time) (string, error)
}

var _ SyncController = (*services.SyncScheduler)(nil)

// SyncAdminHandler exposes scheduler state and manual triggers
type SyncAdminHandler struct {
	scheduler SyncController
}

// NewSyncAdminHandler creates a new admin handler
func NewSyncAdminHandler(scheduler SyncController) *SyncAdminHandler {
	return &SyncAdminHandler{scheduler: scheduler}
}

// TriggerRequest is the body of POST /api/sync/trigger
type TriggerRequest struct {
	Type string `json:"type"`
}

// BackfillRequest is the body of POST /api/sync/backfill
type BackfillRequest struct {
	ProviderID string    `json:"providerId"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// GetStatus handles GET /api/sync/status
func (h *SyncAdminHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.scheduler.Status())
}

// ListJobs handles GET /api/sync/jobs
func (h *SyncAdminHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var jobs []*entities.SyncJob
	if recent, _ := strconv.ParseBool(r.URL.Query().Get("recent")); recent {
		jobs = h.scheduler.ListRecentJobs(recentWindow)
	} else {
		jobs = h.scheduler.ListJobs()
	}
	if jobs == nil {
		jobs = []*entities.SyncJob{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /api/sync/jobs/{id}
func (h *SyncAdminHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.GetJob(r.PathValue("id"))
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

// Trigger handles POST /api/sync/trigger
func (h *SyncAdminHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		jobID string
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case string(entities.SyncJobTypeFull):
		jobID, err = h.scheduler.TriggerFullSync(ctx)
	case string(entities.SyncJobTypeIncremental):
		jobID, err = h.scheduler.TriggerIncrementalSync(ctx)
	default:
		respondWithError(w, http.StatusBadRequest, "type must be full or incremental")
		return
	}
	if err != nil {
		h.respondTriggerError(ctx, w, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// Backfill handles POST /api/sync/backfill
func (h *SyncAdminHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ProviderID) == "" {
		respondWithError(w, http.StatusBadRequest, "providerId is required")
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		respondWithError(w, http.StatusBadRequest, "start and end are required")
		return
	}

	jobID, err := h.scheduler.TriggerBackfill(ctx, req.ProviderID, req.Start, req.End)
	if err != nil {
		h.respondTriggerError(ctx, w, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *SyncAdminHandler) respondTriggerError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		observability.LoggerFromContext(ctx).Error().Err(err).Msg("Failed to trigger sync job")
	}
	respondWithError(w, status, err.Error())
}
