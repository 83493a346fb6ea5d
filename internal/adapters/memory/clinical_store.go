package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

type externalKey struct {
	providerID string
	externalID string
}

// keyedStore holds copies of records unique by (providerID, externalID)
type keyedStore[T any] struct {
	mu      sync.RWMutex
	name    string
	records map[externalKey]T
	keyOf   func(*T) externalKey
}

func newKeyedStore[T any](name string, keyOf func(*T) externalKey) *keyedStore[T] {
	return &keyedStore[T]{name: name, records: make(map[externalKey]T), keyOf: keyOf}
}

func (s *keyedStore[T]) get(providerID, externalID string) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[externalKey{providerID, externalID}]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("%s %s/%s not found", s.name, providerID, externalID))
	}
	return &rec, nil
}

func (s *keyedStore[T]) create(rec *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.keyOf(rec)
	if _, ok := s.records[k]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("%s %s/%s already exists", s.name, k.providerID, k.externalID))
	}
	s.records[k] = *rec
	return nil
}

func (s *keyedStore[T]) update(rec *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.keyOf(rec)
	if _, ok := s.records[k]; !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s %s/%s not found", s.name, k.providerID, k.externalID))
	}
	s.records[k] = *rec
	return nil
}

func (s *keyedStore[T]) all() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// ConsultationStore is an in-memory ConsultationRepository
type ConsultationStore struct{ *keyedStore[entities.Consultation] }

var _ repositories.ConsultationRepository = (*ConsultationStore)(nil)

// NewConsultationStore creates an empty consultation store
func NewConsultationStore() *ConsultationStore {
	return &ConsultationStore{newKeyedStore("consultation", func(c *entities.Consultation) externalKey {
		return externalKey{c.ProviderID, c.ExternalID}
	})}
}

func (s *ConsultationStore) GetByExternalID(_ context.Context, providerID, externalID string) (*entities.Consultation, error) {
	return s.get(providerID, externalID)
}

func (s *ConsultationStore) Create(_ context.Context, c *entities.Consultation) error {
	return s.create(c)
}

func (s *ConsultationStore) Update(_ context.Context, c *entities.Consultation) error {
	return s.update(c)
}

// All returns a snapshot of every stored consultation
func (s *ConsultationStore) All() []entities.Consultation { return s.all() }

// PrescriptionStore is an in-memory PrescriptionRepository
type PrescriptionStore struct{ *keyedStore[entities.Prescription] }

var _ repositories.PrescriptionRepository = (*PrescriptionStore)(nil)

// NewPrescriptionStore creates an empty prescription store
func NewPrescriptionStore() *PrescriptionStore {
	return &PrescriptionStore{newKeyedStore("prescription", func(p *entities.Prescription) externalKey {
		return externalKey{p.ProviderID, p.ExternalID}
	})}
}

func (s *PrescriptionStore) GetByExternalID(_ context.Context, providerID, externalID string) (*entities.Prescription, error) {
	return s.get(providerID, externalID)
}

func (s *PrescriptionStore) Create(_ context.Context, p *entities.Prescription) error {
	return s.create(p)
}

func (s *PrescriptionStore) Update(_ context.Context, p *entities.Prescription) error {
	return s.update(p)
}

// All returns a snapshot of every stored prescription
func (s *PrescriptionStore) All() []entities.Prescription { return s.all() }

// MedicalRecordStore is an in-memory MedicalRecordRepository
type MedicalRecordStore struct{ *keyedStore[entities.MedicalRecord] }

var _ repositories.MedicalRecordRepository = (*MedicalRecordStore)(nil)

// NewMedicalRecordStore creates an empty medical record store
func NewMedicalRecordStore() *MedicalRecordStore {
	return &MedicalRecordStore{newKeyedStore("medical record", func(m *entities.MedicalRecord) externalKey {
		return externalKey{m.ProviderID, m.ExternalID}
	})}
}

func (s *MedicalRecordStore) GetByExternalID(_ context.Context, providerID, externalID string) (*entities.MedicalRecord, error) {
	return s.get(providerID, externalID)
}

func (s *MedicalRecordStore) Create(_ context.Context, m *entities.MedicalRecord) error {
	return s.create(m)
}

func (s *MedicalRecordStore) Update(_ context.Context, m *entities.MedicalRecord) error {
	return s.update(m)
}

// All returns a snapshot of every stored medical record
func (s *MedicalRecordStore) All() []entities.MedicalRecord { return s.all() }
