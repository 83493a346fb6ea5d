package entities

import "time"

// PrescribedMedication is a single line of a prescription
type PrescribedMedication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// Prescription issued during a consultation. ConsultationID is the local id
// resolved through (ProviderID, ExternalConsultationID); it is never set to a
// value that does not exist locally.
type Prescription struct {
	ID                     string                 `json:"id" db:"id"`
	ProviderID             string                 `json:"provider_id" db:"provider_id"`
	ExternalID             string                 `json:"external_id" db:"external_id"`
	ConsultationID         *string                `json:"consultation_id,omitempty" db:"consultation_id"`
	ExternalConsultationID string                 `json:"external_consultation_id,omitempty" db:"external_consultation_id"`
	PatientExternalID      string                 `json:"patient_external_id" db:"patient_external_id"`
	Medications            []PrescribedMedication `json:"medications" db:"medications"`
	Status                 string                 `json:"status,omitempty" db:"status"`
	IssuedAt               *time.Time             `json:"issued_at,omitempty" db:"issued_at"`
	ExpiresAt              *time.Time             `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt              time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at" db:"updated_at"`
}
