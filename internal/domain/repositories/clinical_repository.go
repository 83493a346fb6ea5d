package repositories

import (
	"context"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
)

// The clinical repositories are keyed by (providerID, externalID). GetByExternalID
// returns a NOT_FOUND AppError when no row matches.

// ConsultationRepository defines operations for consultation storage
type ConsultationRepository interface {
	GetByExternalID(ctx context.Context, providerID, externalID string) (*entities.Consultation, error)
	Create(ctx context.Context, consultation *entities.Consultation) error
	Update(ctx context.Context, consultation *entities.Consultation) error
}

// PrescriptionRepository defines operations for prescription storage
type PrescriptionRepository interface {
	GetByExternalID(ctx context.Context, providerID, externalID string) (*entities.Prescription, error)
	Create(ctx context.Context, prescription *entities.Prescription) error
	Update(ctx context.Context, prescription *entities.Prescription) error
}

// MedicalRecordRepository defines operations for medical record storage
type MedicalRecordRepository interface {
	GetByExternalID(ctx context.Context, providerID, externalID string) (*entities.MedicalRecord, error)
	Create(ctx context.Context, record *entities.MedicalRecord) error
	Update(ctx context.Context, record *entities.MedicalRecord) error
}
