package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

func setupMockDB(t *testing.T) (*postgres.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewFromDB(db), mock
}

func TestProviderAdapter_ListActive(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProviderAdapter(client)

	lastSync := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "telemed_providers" WHERE ("is_active" IS TRUE)`)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "api_url", "auth_config", "credentials_config", "is_active",
			"integration_status", "last_sync_at", "created_at", "updated_at",
		}).
			AddRow("p1", "Alpha", "https://alpha.test", []byte(`{"type":"bearer","credentials":{"token":"t"}}`),
				[]byte(`{"client_id":"c"}`), true, "active", lastSync, created, created).
			AddRow("p2", "Beta", "https://beta.test", []byte(`{"type":"api_key"}`),
				nil, true, "pending", nil, created, created))

	providers, err := adapter.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, providers, 2)

	assert.Equal(t, entities.AuthTypeBearer, providers[0].AuthConfig.Type)
	assert.Equal(t, "t", providers[0].Credential("token"))
	assert.Equal(t, "c", providers[0].Credential("client_id"))
	require.NotNil(t, providers[0].LastSyncAt)
	assert.True(t, providers[1].NeverSynced())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderAdapter_UpdateSyncState(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProviderAdapter(client)

	t.Run("updates status and last sync", func(t *testing.T) {
		mock.ExpectExec(`UPDATE "telemed_providers" SET .*"last_sync_at"=.*WHERE \("id" = 'p1'\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		now := time.Now()
		err := adapter.UpdateSyncState(context.Background(), "p1", entities.IntegrationStatusActive, &now)
		require.NoError(t, err)
	})

	t.Run("missing provider", func(t *testing.T) {
		mock.ExpectExec(`UPDATE "telemed_providers"`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := adapter.UpdateSyncState(context.Background(), "nope", entities.IntegrationStatusError, nil)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsultationAdapter_GetByExternalIDNotFound(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewConsultationAdapter(client)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "telemed_consultations" WHERE (("external_id" = 'c-1') AND ("provider_id" = 'p1'))`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := adapter.GetByExternalID(context.Background(), "p1", "c-1")
	assert.True(t, isNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsultationAdapter_CreateAndUpdate(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewConsultationAdapter(client)

	c := &entities.Consultation{
		ID:                "local-1",
		ProviderID:        "p1",
		ExternalID:        "c-1",
		PatientExternalID: "pat-1",
		Status:            entities.ConsultationStatusCompleted,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}

	mock.ExpectExec(`INSERT INTO "telemed_consultations"`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, adapter.Create(context.Background(), c))

	mock.ExpectExec(`UPDATE "telemed_consultations" SET .* WHERE \("id" = 'local-1'\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, adapter.Update(context.Background(), c))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrescriptionAdapter_GetByExternalID(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewPrescriptionAdapter(client)
	now := time.Now()

	mock.ExpectQuery(`FROM "telemed_prescriptions"`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "provider_id", "external_id", "consultation_id", "external_consultation_id",
			"patient_external_id", "medications", "status", "issued_at", "expires_at",
			"created_at", "updated_at",
		}).AddRow("rx-local", "p1", "rx-1", "local-1", "c-1", "pat-1",
			[]byte(`[{"name":"amoxicillin","dosage":"500mg"}]`), "active", now, nil, now, now))

	p, err := adapter.GetByExternalID(context.Background(), "p1", "rx-1")
	require.NoError(t, err)
	require.NotNil(t, p.ConsultationID)
	assert.Equal(t, "local-1", *p.ConsultationID)
	require.Len(t, p.Medications, 1)
	assert.Equal(t, "amoxicillin", p.Medications[0].Name)
	assert.Nil(t, p.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMedicalRecordAdapter_CreateWritesScore(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewMedicalRecordAdapter(client)

	m := &entities.MedicalRecord{
		ID:         "mr-local",
		ProviderID: "p1",
		ExternalID: "mr-1",
		Anamnesis:  "cough",
		Allergies:  []string{"penicillin"},
	}
	m.ApplyCompleteness()

	mock.ExpectExec(`INSERT INTO "telemed_medical_records" .*0\.25.*missing_vital_signs`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, adapter.Create(context.Background(), m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncJobAdapter_SaveUpserts(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewSyncJobAdapter(client)

	job := entities.NewSyncJob(entities.SyncJobTypeFull, nil, 3, time.Now())

	mock.ExpectExec(`INSERT INTO "sync_jobs" .* ON CONFLICT \(id\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, adapter.Save(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}
