package entities

import "time"

// ConsultationStatus mirrors the partner-side state of a consultation
type ConsultationStatus string

const (
	ConsultationStatusScheduled  ConsultationStatus = "scheduled"
	ConsultationStatusInProgress ConsultationStatus = "in_progress"
	ConsultationStatusCompleted  ConsultationStatus = "completed"
	ConsultationStatusCancelled  ConsultationStatus = "cancelled"
)

// Consultation is a telemedicine encounter, unique per (ProviderID, ExternalID)
type Consultation struct {
	ID                string             `json:"id" db:"id"`
	ProviderID        string             `json:"provider_id" db:"provider_id"`
	ExternalID        string             `json:"external_id" db:"external_id"`
	PatientExternalID string             `json:"patient_external_id" db:"patient_external_id"`
	PractitionerName  string             `json:"practitioner_name,omitempty" db:"practitioner_name"`
	Specialty         string             `json:"specialty,omitempty" db:"specialty"`
	Status            ConsultationStatus `json:"status" db:"status"`
	ScheduledAt       *time.Time         `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt         *time.Time         `json:"started_at,omitempty" db:"started_at"`
	EndedAt           *time.Time         `json:"ended_at,omitempty" db:"ended_at"`
	Notes             string             `json:"notes,omitempty" db:"notes"`
	ExternalUpdatedAt *time.Time         `json:"external_updated_at,omitempty" db:"external_updated_at"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}
