//go:build integration

package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/telemedsync/internal/infrastructure/migration"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

const migrationsDir = "../../../migrations"

func newIntegrationDB(t *testing.T) *postgres.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("telemedsync_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migration.New(dsn, migrationsDir)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(ctx, `INSERT INTO telemed_providers (id, name, api_url, auth_config)
		VALUES ('prov-1', 'Partner One', 'https://partner.test', '{"type":"bearer","credentials":{"token":"t"}}')`)
	require.NoError(t, err)

	return postgres.NewFromDB(db)
}

func TestPostgresIntegration_ProviderSyncState(t *testing.T) {
	client := newIntegrationDB(t)
	ctx := context.Background()
	providers := NewProviderAdapter(client)

	active, err := providers.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].NeverSynced())
	assert.Equal(t, "t", active[0].AuthConfig.Credentials["token"])

	synced := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, providers.UpdateSyncState(ctx, "prov-1", entities.IntegrationStatusActive, &synced))
	require.NoError(t, providers.UpdateSyncState(ctx, "prov-1", entities.IntegrationStatusError, nil))

	p, err := providers.GetByID(ctx, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, entities.IntegrationStatusError, p.IntegrationStatus)
	require.NotNil(t, p.LastSyncAt, "a failed run keeps the last successful sync time")
	assert.True(t, p.LastSyncAt.Equal(synced))
}

func TestPostgresIntegration_ClinicalUpsertKeys(t *testing.T) {
	client := newIntegrationDB(t)
	ctx := context.Background()
	consultations := NewConsultationAdapter(client)
	prescriptions := NewPrescriptionAdapter(client)

	now := time.Now().UTC()
	c := &entities.Consultation{
		ID: "local-c1", ProviderID: "prov-1", ExternalID: "c1", PatientExternalID: "p1",
		Status: entities.ConsultationStatusScheduled, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, consultations.Create(ctx, c))

	dup := *c
	dup.ID = "local-c2"
	err := consultations.Create(ctx, &dup)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	c.Status = entities.ConsultationStatusCompleted
	require.NoError(t, consultations.Update(ctx, c))
	got, err := consultations.GetByExternalID(ctx, "prov-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, entities.ConsultationStatusCompleted, got.Status)

	parent := c.ID
	rx := &entities.Prescription{
		ID: "local-rx1", ProviderID: "prov-1", ExternalID: "rx1", ConsultationID: &parent,
		ExternalConsultationID: "c1", PatientExternalID: "p1",
		Medications: []entities.PrescribedMedication{{Name: "amoxicillin", Dosage: "500mg"}},
		CreatedAt:   now, UpdatedAt: now,
	}
	require.NoError(t, prescriptions.Create(ctx, rx))
	gotRx, err := prescriptions.GetByExternalID(ctx, "prov-1", "rx1")
	require.NoError(t, err)
	require.NotNil(t, gotRx.ConsultationID)
	assert.Equal(t, "local-c1", *gotRx.ConsultationID)
	assert.Equal(t, "amoxicillin", gotRx.Medications[0].Name)
}

func TestPostgresIntegration_SyncJobSaveIsUpsert(t *testing.T) {
	client := newIntegrationDB(t)
	ctx := context.Background()
	jobs := NewSyncJobAdapter(client)

	now := time.Now().UTC()
	job := entities.NewBackfillJob("prov-1", now.AddDate(0, 0, -30), now, 3, now)
	require.NoError(t, jobs.Save(ctx, job))

	require.NoError(t, job.Start(now))
	job.Fail("partner unavailable", now)
	require.NoError(t, jobs.Save(ctx, job))

	var status, lastError string
	err := client.DB().QueryRowContext(ctx, `SELECT status, last_error FROM sync_jobs WHERE id = $1`, job.ID).Scan(&status, &lastError)
	require.NoError(t, err)
	assert.Equal(t, string(entities.SyncJobStatusFailed), status)
	assert.Equal(t, "partner unavailable", lastError)
}
