package entities

import (
	"strings"
	"time"
)

// Clinical sections tracked by the completeness score, in report order.
const (
	SectionAnamnesis     = "anamnesis"
	SectionVitalSigns    = "vital_signs"
	SectionPhysicalExam  = "physical_exam"
	SectionHistory       = "medical_history"
	SectionFamilyHistory = "family_history"
	SectionSocialHistory = "social_history"
	SectionMedications   = "medications"
	SectionAllergies     = "allergies"
)

// TrackedSections lists every section that counts towards the score
var TrackedSections = []string{
	SectionAnamnesis,
	SectionVitalSigns,
	SectionPhysicalExam,
	SectionHistory,
	SectionFamilyHistory,
	SectionSocialHistory,
	SectionMedications,
	SectionAllergies,
}

// VitalSigns holds the measurements taken during an encounter
type VitalSigns struct {
	BloodPressure    string   `json:"blood_pressure,omitempty"`
	HeartRate        *int     `json:"heart_rate,omitempty"`
	RespiratoryRate  *int     `json:"respiratory_rate,omitempty"`
	TemperatureC     *float64 `json:"temperature_c,omitempty"`
	OxygenSaturation *float64 `json:"oxygen_saturation,omitempty"`
	WeightKg         *float64 `json:"weight_kg,omitempty"`
	HeightCm         *float64 `json:"height_cm,omitempty"`
}

// IsEmpty reports whether no measurement was taken
func (v *VitalSigns) IsEmpty() bool {
	if v == nil {
		return true
	}
	return strings.TrimSpace(v.BloodPressure) == "" &&
		v.HeartRate == nil && v.RespiratoryRate == nil &&
		v.TemperatureC == nil && v.OxygenSaturation == nil &&
		v.WeightKg == nil && v.HeightCm == nil
}

// MedicalRecord is a clinical note for a patient, optionally tied to a
// consultation by local id
type MedicalRecord struct {
	ID                     string      `json:"id" db:"id"`
	ProviderID             string      `json:"provider_id" db:"provider_id"`
	ExternalID             string      `json:"external_id" db:"external_id"`
	ConsultationID         *string     `json:"consultation_id,omitempty" db:"consultation_id"`
	ExternalConsultationID string      `json:"external_consultation_id,omitempty" db:"external_consultation_id"`
	PatientExternalID      string      `json:"patient_external_id" db:"patient_external_id"`
	RecordDate             *time.Time  `json:"record_date,omitempty" db:"record_date"`
	Anamnesis              string      `json:"anamnesis,omitempty" db:"anamnesis"`
	VitalSigns             *VitalSigns `json:"vital_signs,omitempty" db:"vital_signs"`
	PhysicalExam           string      `json:"physical_exam,omitempty" db:"physical_exam"`
	MedicalHistory         string      `json:"medical_history,omitempty" db:"medical_history"`
	FamilyHistory          string      `json:"family_history,omitempty" db:"family_history"`
	SocialHistory          string      `json:"social_history,omitempty" db:"social_history"`
	Medications            []string    `json:"medications,omitempty" db:"medications"`
	Allergies              []string    `json:"allergies,omitempty" db:"allergies"`
	CompletenessScore      float64     `json:"completeness_score" db:"completeness_score"`
	DataQualityFlags       []string    `json:"data_quality_flags" db:"data_quality_flags"`
	CreatedAt              time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at" db:"updated_at"`
}

// sectionPopulated reports whether a tracked section carries any content
func (m *MedicalRecord) sectionPopulated(section string) bool {
	switch section {
	case SectionAnamnesis:
		return strings.TrimSpace(m.Anamnesis) != ""
	case SectionVitalSigns:
		return !m.VitalSigns.IsEmpty()
	case SectionPhysicalExam:
		return strings.TrimSpace(m.PhysicalExam) != ""
	case SectionHistory:
		return strings.TrimSpace(m.MedicalHistory) != ""
	case SectionFamilyHistory:
		return strings.TrimSpace(m.FamilyHistory) != ""
	case SectionSocialHistory:
		return strings.TrimSpace(m.SocialHistory) != ""
	case SectionMedications:
		return len(m.Medications) > 0
	case SectionAllergies:
		return len(m.Allergies) > 0
	}
	return false
}

// ScoreCompleteness returns populated/tracked and a missing_<section> flag
// for every empty section. It never rejects a record.
func ScoreCompleteness(m *MedicalRecord) (float64, []string) {
	flags := []string{}
	populated := 0
	for _, section := range TrackedSections {
		if m.sectionPopulated(section) {
			populated++
			continue
		}
		flags = append(flags, "missing_"+section)
	}
	return float64(populated) / float64(len(TrackedSections)), flags
}

// ApplyCompleteness stores the score and flags on the record
func (m *MedicalRecord) ApplyCompleteness() {
	m.CompletenessScore, m.DataQualityFlags = ScoreCompleteness(m)
}
