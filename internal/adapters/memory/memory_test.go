package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

func TestConsultationStore_UpsertByExternalKey(t *testing.T) {
	store := NewConsultationStore()
	ctx := context.Background()

	_, err := store.GetByExternalID(ctx, "p1", "c1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	c := &entities.Consultation{ID: "local-1", ProviderID: "p1", ExternalID: "c1", Status: entities.ConsultationStatusScheduled}
	require.NoError(t, store.Create(ctx, c))

	err = store.Create(ctx, c)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	// same external id under another provider is a different record
	require.NoError(t, store.Create(ctx, &entities.Consultation{ID: "local-2", ProviderID: "p2", ExternalID: "c1"}))

	c.Status = entities.ConsultationStatusCompleted
	require.NoError(t, store.Update(ctx, c))

	got, err := store.GetByExternalID(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "local-1", got.ID)
	assert.Equal(t, entities.ConsultationStatusCompleted, got.Status)
	assert.Len(t, store.All(), 2)
}

func TestPrescriptionStore_UpdateMissing(t *testing.T) {
	store := NewPrescriptionStore()
	err := store.Update(context.Background(), &entities.Prescription{ProviderID: "p1", ExternalID: "rx"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestProviderStore(t *testing.T) {
	store := NewProviderStore(
		&entities.Provider{ID: "b", Name: "Beta", IsActive: true},
		&entities.Provider{ID: "a", Name: "Alpha", IsActive: true},
		&entities.Provider{ID: "c", Name: "Gamma", IsActive: false},
	)
	ctx := context.Background()

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)

	now := time.Now()
	require.NoError(t, store.UpdateSyncState(ctx, "a", entities.IntegrationStatusActive, &now))
	require.NoError(t, store.UpdateSyncState(ctx, "a", entities.IntegrationStatusError, nil))

	p, err := store.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, entities.IntegrationStatusError, p.IntegrationStatus)
	require.NotNil(t, p.LastSyncAt)
	assert.True(t, p.LastSyncAt.Equal(now), "nil lastSyncAt keeps the previous value")

	_, err = store.GetByID(ctx, "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestLoadProvidersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id":"p1","name":"Partner","api_url":"https://partner.test","is_active":true,
		 "auth_config":{"type":"bearer","credentials":{"token":"vault:secret/partner#token"}}}
	]`), 0o600))

	providers, err := LoadProvidersFile(path)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, entities.AuthTypeBearer, providers[0].AuthConfig.Type)
	assert.Equal(t, entities.IntegrationStatusPending, providers[0].IntegrationStatus)
	assert.True(t, providers[0].NeverSynced())

	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"no id"}]`), 0o600))
	_, err = LoadProvidersFile(path)
	assert.Error(t, err)
}

func TestSyncJobStore_SaveCopies(t *testing.T) {
	store := NewSyncJobStore()
	job := entities.NewSyncJob(entities.SyncJobTypeFull, nil, 3, time.Now())
	require.NoError(t, store.Save(context.Background(), job))

	job.Status = entities.SyncJobStatusRunning
	saved, ok := store.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, entities.SyncJobStatusPending, saved.Status)
	assert.Equal(t, 1, store.Len())
}
