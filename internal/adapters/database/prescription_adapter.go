package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

var prescriptionColumns = []interface{}{
	"id", "provider_id", "external_id", "consultation_id", "external_consultation_id",
	"patient_external_id", "medications", "status", "issued_at", "expires_at",
	"created_at", "updated_at",
}

// PrescriptionAdapter implements PrescriptionRepository
type PrescriptionAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

var _ repositories.PrescriptionRepository = (*PrescriptionAdapter)(nil)

// NewPrescriptionAdapter creates a new prescription adapter
func NewPrescriptionAdapter(client *postgres.Client) *PrescriptionAdapter {
	return &PrescriptionAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// GetByExternalID retrieves a prescription by its partner key
func (a *PrescriptionAdapter) GetByExternalID(ctx context.Context, providerID, externalID string) (*entities.Prescription, error) {
	query, args, err := a.db.Select(prescriptionColumns...).From(tablePrescriptions).
		Where(goqu.Ex{"provider_id": providerID, "external_id": externalID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	p := &entities.Prescription{}
	var consultationID, externalConsultationID, status sql.NullString
	var medications []byte
	var issuedAt, expiresAt sql.NullTime

	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&p.ID,
		&p.ProviderID,
		&p.ExternalID,
		&consultationID,
		&externalConsultationID,
		&p.PatientExternalID,
		&medications,
		&status,
		&issuedAt,
		&expiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("prescription %s/%s not found", providerID, externalID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to scan prescription", err)
	}

	if err := decodeJSONColumn(medications, &p.Medications); err != nil {
		return nil, err
	}
	p.ConsultationID = stringPtr(consultationID)
	p.ExternalConsultationID = externalConsultationID.String
	p.Status = status.String
	p.IssuedAt = timePtr(issuedAt)
	p.ExpiresAt = timePtr(expiresAt)
	return p, nil
}

// Create inserts a prescription
func (a *PrescriptionAdapter) Create(ctx context.Context, p *entities.Prescription) error {
	record, err := prescriptionRecord(p)
	if err != nil {
		return err
	}
	record["id"] = p.ID
	record["provider_id"] = p.ProviderID
	record["external_id"] = p.ExternalID
	record["created_at"] = p.CreatedAt

	query, args, err := a.db.Insert(tablePrescriptions).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return insertError("failed to create prescription", err)
	}
	return nil
}

// Update overwrites the partner-owned fields of a prescription
func (a *PrescriptionAdapter) Update(ctx context.Context, p *entities.Prescription) error {
	p.UpdatedAt = time.Now()

	record, err := prescriptionRecord(p)
	if err != nil {
		return err
	}

	query, args, err := a.db.Update(tablePrescriptions).
		Set(record).
		Where(goqu.Ex{"id": p.ID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	return execUpdate(ctx, a.client, query, args, fmt.Sprintf("prescription with id %s not found", p.ID))
}

func prescriptionRecord(p *entities.Prescription) (goqu.Record, error) {
	medications, err := jsonColumn(p.Medications)
	if err != nil {
		return nil, err
	}
	return goqu.Record{
		"consultation_id":          nullStringPtr(p.ConsultationID),
		"external_consultation_id": nullString(p.ExternalConsultationID),
		"patient_external_id":      p.PatientExternalID,
		"medications":              medications,
		"status":                   nullString(p.Status),
		"issued_at":                nullTime(p.IssuedAt),
		"expires_at":               nullTime(p.ExpiresAt),
		"updated_at":               p.UpdatedAt,
	}, nil
}
