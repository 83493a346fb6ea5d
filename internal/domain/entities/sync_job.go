package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrJobAlreadyRunning is returned when a running job is started again
var ErrJobAlreadyRunning = errors.New("sync job is already running")

// SyncJobType is the kind of synchronization a job performs
type SyncJobType string

const (
	SyncJobTypeFull        SyncJobType = "full"
	SyncJobTypeIncremental SyncJobType = "incremental"
	SyncJobTypeBackfill    SyncJobType = "backfill"
)

// SyncJobStatus is the lifecycle state of a sync job
type SyncJobStatus string

const (
	SyncJobStatusPending   SyncJobStatus = "pending"
	SyncJobStatusRunning   SyncJobStatus = "running"
	SyncJobStatusCompleted SyncJobStatus = "completed"
	SyncJobStatusFailed    SyncJobStatus = "failed"
)

// SyncJob is one scheduled or manually triggered synchronization run
type SyncJob struct {
	ID            string        `json:"id" db:"id"`
	Type          SyncJobType   `json:"type" db:"type"`
	Status        SyncJobStatus `json:"status" db:"status"`
	ProviderID    *string       `json:"provider_id,omitempty" db:"provider_id"`
	ScheduledAt   time.Time     `json:"scheduled_at" db:"scheduled_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	RetryCount    int           `json:"retry_count" db:"retry_count"`
	MaxRetries    int           `json:"max_retries" db:"max_retries"`
	LastError     string        `json:"last_error,omitempty" db:"last_error"`
	Results       []SyncResult  `json:"results,omitempty" db:"results"`
	BackfillStart *time.Time    `json:"backfill_start,omitempty" db:"backfill_start"`
	BackfillEnd   *time.Time    `json:"backfill_end,omitempty" db:"backfill_end"`
}

// NewSyncJob creates a pending job
func NewSyncJob(jobType SyncJobType, providerID *string, maxRetries int, scheduledAt time.Time) *SyncJob {
	return &SyncJob{
		ID:          uuid.New().String(),
		Type:        jobType,
		Status:      SyncJobStatusPending,
		ProviderID:  providerID,
		ScheduledAt: scheduledAt,
		MaxRetries:  maxRetries,
	}
}

// NewBackfillJob creates a pending backfill job for one provider and range
func NewBackfillJob(providerID string, start, end time.Time, maxRetries int, scheduledAt time.Time) *SyncJob {
	job := NewSyncJob(SyncJobTypeBackfill, &providerID, maxRetries, scheduledAt)
	job.BackfillStart = &start
	job.BackfillEnd = &end
	return job
}

// Start marks the job as running. A running job is never re-entered.
func (j *SyncJob) Start(now time.Time) error {
	if j.Status == SyncJobStatusRunning {
		return ErrJobAlreadyRunning
	}
	j.Status = SyncJobStatusRunning
	j.StartedAt = &now
	j.CompletedAt = nil
	return nil
}

// Complete records results. Any provider error fails the whole run.
func (j *SyncJob) Complete(results []SyncResult, now time.Time) {
	j.Results = results
	j.CompletedAt = &now
	if HasErrors(results) {
		j.Status = SyncJobStatusFailed
		j.LastError = summarizeErrors(results)
		return
	}
	j.Status = SyncJobStatusCompleted
	j.LastError = ""
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err string, now time.Time) {
	j.Status = SyncJobStatusFailed
	j.CompletedAt = &now
	j.LastError = err
}

// ShouldRetry returns true if the job failed and has retries left
func (j *SyncJob) ShouldRetry() bool {
	return j.Status == SyncJobStatusFailed && j.RetryCount < j.MaxRetries
}

// Exhausted reports a failed job that will not be retried again
func (j *SyncJob) Exhausted() bool {
	return j.Status == SyncJobStatusFailed && j.RetryCount >= j.MaxRetries
}

// PrepareRetry bumps the retry counter and returns the job to pending
func (j *SyncJob) PrepareRetry() {
	j.RetryCount++
	j.Status = SyncJobStatusPending
}

// IsBackfill reports whether this job covers an explicit historical range
func (j *SyncJob) IsBackfill() bool {
	return j.Type == SyncJobTypeBackfill && j.BackfillStart != nil && j.BackfillEnd != nil
}

// Clone returns a copy safe to hand out of the scheduler lock
func (j *SyncJob) Clone() *SyncJob {
	c := *j
	if j.Results != nil {
		c.Results = make([]SyncResult, len(j.Results))
		for i, r := range j.Results {
			c.Results[i] = r.Clone()
		}
	}
	return &c
}

// HasErrors reports whether any provider result carries errors or failed outright
func HasErrors(results []SyncResult) bool {
	for _, r := range results {
		if !r.Success || len(r.Errors) > 0 {
			return true
		}
	}
	return false
}

func summarizeErrors(results []SyncResult) string {
	var failed, errs int
	var first string
	for _, r := range results {
		if !r.Success || len(r.Errors) > 0 {
			failed++
		}
		errs += len(r.Errors)
		if first == "" && len(r.Errors) > 0 {
			first = r.ProviderID + ": " + r.Errors[0].Message
		}
	}
	msg := "sync finished with errors"
	if first != "" {
		msg += " (" + first + ")"
	}
	return fmt.Sprintf("%s: %d provider(s), %d error(s)", msg, failed, errs)
}
