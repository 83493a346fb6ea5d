package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/telemed"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

// linkNotFound is the message recorded for dependents without a local parent
const linkNotFound = "link not found"

// RecordIngestor upserts validated partner records by (providerID, externalID).
// The sync service and the webhook handler share it.
type RecordIngestor struct {
	consultations repositories.ConsultationRepository
	prescriptions repositories.PrescriptionRepository
	records       repositories.MedicalRecordRepository
	now           func() time.Time
}

// NewRecordIngestor creates an ingestor over the clinical repositories
func NewRecordIngestor(
	consultations repositories.ConsultationRepository,
	prescriptions repositories.PrescriptionRepository,
	records repositories.MedicalRecordRepository,
) *RecordIngestor {
	return &RecordIngestor{
		consultations: consultations,
		prescriptions: prescriptions,
		records:       records,
		now:           time.Now,
	}
}

// retryOnConflict runs an upsert a second time when another writer inserted
// the same key between the lookup and the insert. The retry takes the update
// path.
func retryOnConflict(upsert func() (bool, error)) (bool, error) {
	created, err := upsert()
	if apperrors.IsType(err, apperrors.ErrorTypeConflict) {
		return upsert()
	}
	return created, err
}

// UpsertConsultation creates or updates a consultation. It reports whether a
// new row was created.
func (i *RecordIngestor) UpsertConsultation(ctx context.Context, providerID string, dto *telemed.ConsultationDTO) (bool, error) {
	return retryOnConflict(func() (bool, error) { return i.upsertConsultation(ctx, providerID, dto) })
}

func (i *RecordIngestor) upsertConsultation(ctx context.Context, providerID string, dto *telemed.ConsultationDTO) (bool, error) {
	incoming := dto.ToEntity(providerID)
	now := i.now().UTC()

	existing, err := i.consultations.GetByExternalID(ctx, providerID, incoming.ExternalID)
	switch {
	case apperrors.IsType(err, apperrors.ErrorTypeNotFound):
		incoming.ID = uuid.New().String()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		return true, i.consultations.Create(ctx, incoming)
	case err != nil:
		return false, err
	}

	incoming.ID = existing.ID
	incoming.CreatedAt = existing.CreatedAt
	incoming.UpdatedAt = now
	return false, i.consultations.Update(ctx, incoming)
}

// UpsertPrescription links and stores a prescription. A prescription naming
// a consultation that is not stored locally is rejected with a
// LINK_RESOLUTION error.
func (i *RecordIngestor) UpsertPrescription(ctx context.Context, providerID string, dto *telemed.PrescriptionDTO) (bool, error) {
	return retryOnConflict(func() (bool, error) { return i.upsertPrescription(ctx, providerID, dto) })
}

func (i *RecordIngestor) upsertPrescription(ctx context.Context, providerID string, dto *telemed.PrescriptionDTO) (bool, error) {
	incoming := dto.ToEntity(providerID)

	parentID, err := i.resolveConsultation(ctx, providerID, incoming.ExternalConsultationID)
	if err != nil {
		return false, err
	}
	incoming.ConsultationID = parentID
	now := i.now().UTC()

	existing, err := i.prescriptions.GetByExternalID(ctx, providerID, incoming.ExternalID)
	switch {
	case apperrors.IsType(err, apperrors.ErrorTypeNotFound):
		incoming.ID = uuid.New().String()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		return true, i.prescriptions.Create(ctx, incoming)
	case err != nil:
		return false, err
	}

	incoming.ID = existing.ID
	incoming.CreatedAt = existing.CreatedAt
	incoming.UpdatedAt = now
	return false, i.prescriptions.Update(ctx, incoming)
}

// UpsertMedicalRecord links, scores and stores a medical record
func (i *RecordIngestor) UpsertMedicalRecord(ctx context.Context, providerID string, dto *telemed.MedicalRecordDTO) (bool, error) {
	return retryOnConflict(func() (bool, error) { return i.upsertMedicalRecord(ctx, providerID, dto) })
}

func (i *RecordIngestor) upsertMedicalRecord(ctx context.Context, providerID string, dto *telemed.MedicalRecordDTO) (bool, error) {
	incoming := dto.ToEntity(providerID)

	parentID, err := i.resolveConsultation(ctx, providerID, incoming.ExternalConsultationID)
	if err != nil {
		return false, err
	}
	incoming.ConsultationID = parentID
	incoming.ApplyCompleteness()
	now := i.now().UTC()

	existing, err := i.records.GetByExternalID(ctx, providerID, incoming.ExternalID)
	switch {
	case apperrors.IsType(err, apperrors.ErrorTypeNotFound):
		incoming.ID = uuid.New().String()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		return true, i.records.Create(ctx, incoming)
	case err != nil:
		return false, err
	}

	incoming.ID = existing.ID
	incoming.CreatedAt = existing.CreatedAt
	incoming.UpdatedAt = now
	return false, i.records.Update(ctx, incoming)
}

// resolveConsultation returns the local id of the parent consultation, or
// nil when the record names none
func (i *RecordIngestor) resolveConsultation(ctx context.Context, providerID, externalID string) (*string, error) {
	if externalID == "" {
		return nil, nil
	}
	parent, err := i.consultations.GetByExternalID(ctx, providerID, externalID)
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, apperrors.NewLinkResolutionError(fmt.Sprintf("%s: consultation %s", linkNotFound, externalID))
	}
	if err != nil {
		return nil, err
	}
	id := parent.ID
	return &id, nil
}
