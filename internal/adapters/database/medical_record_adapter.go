package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

var medicalRecordColumns = []interface{}{
	"id", "provider_id", "external_id", "consultation_id", "external_consultation_id",
	"patient_external_id", "record_date", "anamnesis", "vital_signs", "physical_exam",
	"medical_history", "family_history", "social_history", "medications", "allergies",
	"completeness_score", "data_quality_flags", "created_at", "updated_at",
}

// MedicalRecordAdapter implements MedicalRecordRepository
type MedicalRecordAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

var _ repositories.MedicalRecordRepository = (*MedicalRecordAdapter)(nil)

// NewMedicalRecordAdapter creates a new medical record adapter
func NewMedicalRecordAdapter(client *postgres.Client) *MedicalRecordAdapter {
	return &MedicalRecordAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// GetByExternalID retrieves a medical record by its partner key
func (a *MedicalRecordAdapter) GetByExternalID(ctx context.Context, providerID, externalID string) (*entities.MedicalRecord, error) {
	query, args, err := a.db.Select(medicalRecordColumns...).From(tableMedicalRecords).
		Where(goqu.Ex{"provider_id": providerID, "external_id": externalID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	m := &entities.MedicalRecord{}
	var consultationID, externalConsultationID sql.NullString
	var anamnesis, exam, history, family, social sql.NullString
	var recordDate sql.NullTime
	var vitals []byte
	var medications, allergies, flags pq.StringArray

	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&m.ID,
		&m.ProviderID,
		&m.ExternalID,
		&consultationID,
		&externalConsultationID,
		&m.PatientExternalID,
		&recordDate,
		&anamnesis,
		&vitals,
		&exam,
		&history,
		&family,
		&social,
		&medications,
		&allergies,
		&m.CompletenessScore,
		&flags,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("medical record %s/%s not found", providerID, externalID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to scan medical record", err)
	}

	if len(vitals) > 0 {
		m.VitalSigns = &entities.VitalSigns{}
		if err := decodeJSONColumn(vitals, m.VitalSigns); err != nil {
			return nil, err
		}
	}
	m.ConsultationID = stringPtr(consultationID)
	m.ExternalConsultationID = externalConsultationID.String
	m.RecordDate = timePtr(recordDate)
	m.Anamnesis = anamnesis.String
	m.PhysicalExam = exam.String
	m.MedicalHistory = history.String
	m.FamilyHistory = family.String
	m.SocialHistory = social.String
	m.Medications = []string(medications)
	m.Allergies = []string(allergies)
	m.DataQualityFlags = []string(flags)
	return m, nil
}

// Create inserts a medical record
func (a *MedicalRecordAdapter) Create(ctx context.Context, m *entities.MedicalRecord) error {
	record, err := medicalRecordRecord(m)
	if err != nil {
		return err
	}
	record["id"] = m.ID
	record["provider_id"] = m.ProviderID
	record["external_id"] = m.ExternalID
	record["created_at"] = m.CreatedAt

	query, args, err := a.db.Insert(tableMedicalRecords).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return insertError("failed to create medical record", err)
	}
	return nil
}

// Update overwrites the partner-owned fields of a medical record
func (a *MedicalRecordAdapter) Update(ctx context.Context, m *entities.MedicalRecord) error {
	m.UpdatedAt = time.Now()

	record, err := medicalRecordRecord(m)
	if err != nil {
		return err
	}

	query, args, err := a.db.Update(tableMedicalRecords).
		Set(record).
		Where(goqu.Ex{"id": m.ID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	return execUpdate(ctx, a.client, query, args, fmt.Sprintf("medical record with id %s not found", m.ID))
}

func medicalRecordRecord(m *entities.MedicalRecord) (goqu.Record, error) {
	var vitals interface{}
	if !m.VitalSigns.IsEmpty() {
		encoded, err := jsonColumn(m.VitalSigns)
		if err != nil {
			return nil, err
		}
		vitals = encoded
	}
	return goqu.Record{
		"consultation_id":          nullStringPtr(m.ConsultationID),
		"external_consultation_id": nullString(m.ExternalConsultationID),
		"patient_external_id":      m.PatientExternalID,
		"record_date":              nullTime(m.RecordDate),
		"anamnesis":                nullString(m.Anamnesis),
		"vital_signs":              vitals,
		"physical_exam":            nullString(m.PhysicalExam),
		"medical_history":          nullString(m.MedicalHistory),
		"family_history":           nullString(m.FamilyHistory),
		"social_history":           nullString(m.SocialHistory),
		"medications":              pq.StringArray(m.Medications),
		"allergies":                pq.StringArray(m.Allergies),
		"completeness_score":       m.CompletenessScore,
		"data_quality_flags":       pq.StringArray(m.DataQualityFlags),
		"updated_at":               m.UpdatedAt,
	}, nil
}
