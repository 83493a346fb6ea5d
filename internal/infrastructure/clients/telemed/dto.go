package telemed

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

// Record is the set of partner DTO types a page can carry
type Record interface {
	ConsultationDTO | PrescriptionDTO | MedicalRecordDTO
}

// Decoded is one record of a page: either a validated Value or Err, a
// TransformError. ExternalID is filled on a best-effort basis for errors.
type Decoded[T Record] struct {
	Value      *T
	ExternalID string
	Err        error
}

// Page is one page of partner records
type Page[T Record] struct {
	Data       []Decoded[T]
	HasMore    bool
	NextCursor string
}

type envelope struct {
	Data       []json.RawMessage `json:"data"`
	HasMore    bool              `json:"hasMore"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// ConsultationDTO is the partner shape of a consultation
type ConsultationDTO struct {
	ID               string     `json:"id" validate:"notblank"`
	PatientID        string     `json:"patientId" validate:"notblank"`
	PractitionerName string     `json:"practitionerName,omitempty"`
	Specialty        string     `json:"specialty,omitempty"`
	Status           string     `json:"status" validate:"consultation_status"`
	ScheduledAt      *time.Time `json:"scheduledAt,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
}

// MedicationDTO is one prescribed medication
type MedicationDTO struct {
	Name      string `json:"name" validate:"notblank"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// PrescriptionDTO is the partner shape of a prescription
type PrescriptionDTO struct {
	ID             string          `json:"id" validate:"notblank"`
	ConsultationID string          `json:"consultationId,omitempty"`
	PatientID      string          `json:"patientId" validate:"notblank"`
	Medications    []MedicationDTO `json:"medications" validate:"min=1,dive"`
	Status         string          `json:"status,omitempty"`
	IssuedAt       *time.Time      `json:"issuedAt,omitempty"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
}

// VitalSignsDTO is the partner shape of vital signs
type VitalSignsDTO struct {
	BloodPressure    string   `json:"bloodPressure,omitempty"`
	HeartRate        *int     `json:"heartRate,omitempty" validate:"omitnil,gte=0"`
	RespiratoryRate  *int     `json:"respiratoryRate,omitempty" validate:"omitnil,gte=0"`
	Temperature      *float64 `json:"temperature,omitempty" validate:"omitnil,gte=0"`
	OxygenSaturation *float64 `json:"oxygenSaturation,omitempty" validate:"omitnil,gte=0,lte=100"`
	Weight           *float64 `json:"weight,omitempty" validate:"omitnil,gte=0"`
	Height           *float64 `json:"height,omitempty" validate:"omitnil,gte=0"`
}

// MedicalRecordDTO is the partner shape of a medical record
type MedicalRecordDTO struct {
	ID             string         `json:"id" validate:"notblank"`
	ConsultationID string         `json:"consultationId,omitempty"`
	PatientID      string         `json:"patientId" validate:"notblank"`
	RecordDate     *time.Time     `json:"recordDate,omitempty"`
	Anamnesis      string         `json:"anamnesis,omitempty"`
	VitalSigns     *VitalSignsDTO `json:"vitalSigns,omitempty" validate:"omitnil"`
	PhysicalExam   string         `json:"physicalExam,omitempty"`
	MedicalHistory string         `json:"medicalHistory,omitempty"`
	FamilyHistory  string         `json:"familyHistory,omitempty"`
	SocialHistory  string         `json:"socialHistory,omitempty"`
	Medications    []string       `json:"medications,omitempty"`
	Allergies      []string       `json:"allergies,omitempty"`
}

var consultationStatuses = map[string]entities.ConsultationStatus{
	"scheduled":   entities.ConsultationStatusScheduled,
	"booked":      entities.ConsultationStatusScheduled,
	"in_progress": entities.ConsultationStatusInProgress,
	"in-progress": entities.ConsultationStatusInProgress,
	"ongoing":     entities.ConsultationStatusInProgress,
	"completed":   entities.ConsultationStatusCompleted,
	"finished":    entities.ConsultationStatusCompleted,
	"cancelled":   entities.ConsultationStatusCancelled,
	"canceled":    entities.ConsultationStatusCancelled,
}

// NormalizedStatus maps partner vocabularies onto local statuses
func (d ConsultationDTO) NormalizedStatus() (entities.ConsultationStatus, bool) {
	s, ok := consultationStatuses[strings.ToLower(strings.TrimSpace(d.Status))]
	return s, ok
}

// DecodeRecord turns one raw partner record into a validated DTO or a
// TransformError. Unvalidated shapes never leave this package.
func DecodeRecord[T Record](raw json.RawMessage) Decoded[T] {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return Decoded[T]{ExternalID: probe.ID, Err: apperrors.NewTransformError("malformed record", err)}
	}
	if err := validateStruct(&v); err != nil {
		return Decoded[T]{ExternalID: probe.ID, Err: apperrors.NewTransformError("invalid record", err)}
	}
	return Decoded[T]{Value: &v, ExternalID: probe.ID}
}

// ToEntity maps a consultation DTO onto a new local record
func (d ConsultationDTO) ToEntity(providerID string) *entities.Consultation {
	status, _ := d.NormalizedStatus()
	return &entities.Consultation{
		ProviderID:        providerID,
		ExternalID:        d.ID,
		PatientExternalID: d.PatientID,
		PractitionerName:  d.PractitionerName,
		Specialty:         d.Specialty,
		Status:            status,
		ScheduledAt:       d.ScheduledAt,
		StartedAt:         d.StartedAt,
		EndedAt:           d.EndedAt,
		Notes:             d.Notes,
		ExternalUpdatedAt: d.UpdatedAt,
	}
}

// ToEntity maps a prescription DTO; ConsultationID is left for link resolution
func (d PrescriptionDTO) ToEntity(providerID string) *entities.Prescription {
	meds := make([]entities.PrescribedMedication, 0, len(d.Medications))
	for _, m := range d.Medications {
		meds = append(meds, entities.PrescribedMedication{
			Name:      m.Name,
			Dosage:    m.Dosage,
			Frequency: m.Frequency,
			Duration:  m.Duration,
		})
	}
	return &entities.Prescription{
		ProviderID:             providerID,
		ExternalID:             d.ID,
		ExternalConsultationID: d.ConsultationID,
		PatientExternalID:      d.PatientID,
		Medications:            meds,
		Status:                 d.Status,
		IssuedAt:               d.IssuedAt,
		ExpiresAt:              d.ExpiresAt,
	}
}

// ToEntity maps a medical record DTO; ConsultationID is left for link resolution
func (d MedicalRecordDTO) ToEntity(providerID string) *entities.MedicalRecord {
	m := &entities.MedicalRecord{
		ProviderID:             providerID,
		ExternalID:             d.ID,
		ExternalConsultationID: d.ConsultationID,
		PatientExternalID:      d.PatientID,
		RecordDate:             d.RecordDate,
		Anamnesis:              d.Anamnesis,
		PhysicalExam:           d.PhysicalExam,
		MedicalHistory:         d.MedicalHistory,
		FamilyHistory:          d.FamilyHistory,
		SocialHistory:          d.SocialHistory,
		Medications:            d.Medications,
		Allergies:              d.Allergies,
	}
	if d.VitalSigns != nil {
		m.VitalSigns = &entities.VitalSigns{
			BloodPressure:    d.VitalSigns.BloodPressure,
			HeartRate:        d.VitalSigns.HeartRate,
			RespiratoryRate:  d.VitalSigns.RespiratoryRate,
			TemperatureC:     d.VitalSigns.Temperature,
			OxygenSaturation: d.VitalSigns.OxygenSaturation,
			WeightKg:         d.VitalSigns.Weight,
			HeightCm:         d.VitalSigns.Height,
		}
	}
	return m
}
