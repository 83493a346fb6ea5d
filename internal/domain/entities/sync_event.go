package entities

import "time"

// SyncJobEventType names a job lifecycle transition
type SyncJobEventType string

const (
	SyncJobEventScheduled SyncJobEventType = "job.scheduled"
	SyncJobEventStarted   SyncJobEventType = "job.started"
	SyncJobEventCompleted SyncJobEventType = "job.completed"
	SyncJobEventFailed    SyncJobEventType = "job.failed"
	SyncJobEventRetrying  SyncJobEventType = "job.retrying"
	SyncJobEventExhausted SyncJobEventType = "job.exhausted"
)

// SyncJobEvent is published whenever a sync job changes state
type SyncJobEvent struct {
	ID         string           `json:"id"`
	Type       SyncJobEventType `json:"type"`
	JobID      string           `json:"job_id"`
	JobType    SyncJobType      `json:"job_type"`
	Status     SyncJobStatus    `json:"status"`
	ProviderID *string          `json:"provider_id,omitempty"`
	RetryCount int              `json:"retry_count"`
	LastError  string           `json:"last_error,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// NewSyncJobEvent snapshots job for publication
func NewSyncJobEvent(eventType SyncJobEventType, job *SyncJob, at time.Time) *SyncJobEvent {
	return &SyncJobEvent{
		ID:         job.ID + ":" + string(eventType) + ":" + at.UTC().Format(time.RFC3339Nano),
		Type:       eventType,
		JobID:      job.ID,
		JobType:    job.Type,
		Status:     job.Status,
		ProviderID: job.ProviderID,
		RetryCount: job.RetryCount,
		LastError:  job.LastError,
		Timestamp:  at,
	}
}
