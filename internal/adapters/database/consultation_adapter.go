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

var consultationColumns = []interface{}{
	"id", "provider_id", "external_id", "patient_external_id", "practitioner_name",
	"specialty", "status", "scheduled_at", "started_at", "ended_at", "notes",
	"external_updated_at", "created_at", "updated_at",
}

// ConsultationAdapter implements ConsultationRepository
type ConsultationAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

var _ repositories.ConsultationRepository = (*ConsultationAdapter)(nil)

// NewConsultationAdapter creates a new consultation adapter
func NewConsultationAdapter(client *postgres.Client) *ConsultationAdapter {
	return &ConsultationAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// GetByExternalID retrieves a consultation by its partner key
func (a *ConsultationAdapter) GetByExternalID(ctx context.Context, providerID, externalID string) (*entities.Consultation, error) {
	query, args, err := a.db.Select(consultationColumns...).From(tableConsultations).
		Where(goqu.Ex{"provider_id": providerID, "external_id": externalID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	c := &entities.Consultation{}
	var practitioner, specialty, notes sql.NullString
	var scheduledAt, startedAt, endedAt, externalUpdatedAt sql.NullTime

	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&c.ID,
		&c.ProviderID,
		&c.ExternalID,
		&c.PatientExternalID,
		&practitioner,
		&specialty,
		&c.Status,
		&scheduledAt,
		&startedAt,
		&endedAt,
		&notes,
		&externalUpdatedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("consultation %s/%s not found", providerID, externalID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to scan consultation", err)
	}

	c.PractitionerName = practitioner.String
	c.Specialty = specialty.String
	c.Notes = notes.String
	c.ScheduledAt = timePtr(scheduledAt)
	c.StartedAt = timePtr(startedAt)
	c.EndedAt = timePtr(endedAt)
	c.ExternalUpdatedAt = timePtr(externalUpdatedAt)
	return c, nil
}

// Create inserts a consultation
func (a *ConsultationAdapter) Create(ctx context.Context, c *entities.Consultation) error {
	record := consultationRecord(c)
	record["id"] = c.ID
	record["provider_id"] = c.ProviderID
	record["external_id"] = c.ExternalID
	record["created_at"] = c.CreatedAt

	query, args, err := a.db.Insert(tableConsultations).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return insertError("failed to create consultation", err)
	}
	return nil
}

// Update overwrites the partner-owned fields of a consultation
func (a *ConsultationAdapter) Update(ctx context.Context, c *entities.Consultation) error {
	c.UpdatedAt = time.Now()

	query, args, err := a.db.Update(tableConsultations).
		Set(consultationRecord(c)).
		Where(goqu.Ex{"id": c.ID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	return execUpdate(ctx, a.client, query, args, fmt.Sprintf("consultation with id %s not found", c.ID))
}

func consultationRecord(c *entities.Consultation) goqu.Record {
	return goqu.Record{
		"patient_external_id": c.PatientExternalID,
		"practitioner_name":   nullString(c.PractitionerName),
		"specialty":           nullString(c.Specialty),
		"status":              c.Status,
		"scheduled_at":        nullTime(c.ScheduledAt),
		"started_at":          nullTime(c.StartedAt),
		"ended_at":            nullTime(c.EndedAt),
		"notes":               nullString(c.Notes),
		"external_updated_at": nullTime(c.ExternalUpdatedAt),
		"updated_at":          c.UpdatedAt,
	}
}

// execUpdate runs an UPDATE and maps zero affected rows to NOT_FOUND
func execUpdate(ctx context.Context, client *postgres.Client, query string, args []interface{}, notFound string) error {
	result, err := client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to execute update", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(notFound)
	}
	return nil
}
