package entities

import (
	"time"

	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

// Entity names used in sync errors
const (
	EntityConsultation  = "consultation"
	EntityPrescription  = "prescription"
	EntityMedicalRecord = "medical_record"
	EntityProvider      = "provider"
)

// SyncError is one failure recorded during a provider run
type SyncError struct {
	Entity     string              `json:"entity"`
	ExternalID string              `json:"external_id,omitempty"`
	Kind       apperrors.ErrorType `json:"kind"`
	Message    string              `json:"message"`
}

// SyncResult aggregates the outcome of one provider run (or one backfill)
type SyncResult struct {
	ProviderID   string      `json:"provider_id"`
	ProviderName string      `json:"provider_name,omitempty"`
	Success      bool        `json:"success"`
	Processed    int         `json:"processed"`
	Created      int         `json:"created"`
	Updated      int         `json:"updated"`
	Errors       []SyncError `json:"errors"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
	Chunks       int         `json:"chunks,omitempty"`
}

// NewSyncResult starts an optimistic result for a provider
func NewSyncResult(provider *Provider, startedAt time.Time) SyncResult {
	return SyncResult{
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		Success:      true,
		Errors:       []SyncError{},
		StartedAt:    startedAt,
	}
}

// AddError records a per-record failure without failing the run
func (r *SyncResult) AddError(entity, externalID string, err error) {
	r.Errors = append(r.Errors, SyncError{
		Entity:     entity,
		ExternalID: externalID,
		Kind:       apperrors.TypeOf(err),
		Message:    err.Error(),
	})
}

// FailProvider records a whole-provider failure
func (r *SyncResult) FailProvider(entity string, err error) {
	r.Success = false
	r.AddError(entity, "", err)
}

// HasErrors reports whether the run failed or recorded any error
func (r SyncResult) HasErrors() bool {
	return !r.Success || len(r.Errors) > 0
}

// Merge folds a chunk result into r
func (r *SyncResult) Merge(other SyncResult) {
	if r.StartedAt.IsZero() || (!other.StartedAt.IsZero() && other.StartedAt.Before(r.StartedAt)) {
		r.StartedAt = other.StartedAt
	}
	if other.FinishedAt.After(r.FinishedAt) {
		r.FinishedAt = other.FinishedAt
	}
	r.Success = r.Success && other.Success
	r.Processed += other.Processed
	r.Created += other.Created
	r.Updated += other.Updated
	r.Errors = append(r.Errors, other.Errors...)
	r.Chunks++
}

// Clone returns a deep copy
func (r SyncResult) Clone() SyncResult {
	c := r
	c.Errors = append([]SyncError(nil), r.Errors...)
	return c
}
