package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

var providerColumns = []interface{}{
	"id", "name", "api_url", "auth_config", "credentials_config", "is_active",
	"integration_status", "last_sync_at", "created_at", "updated_at",
}

// ProviderAdapter implements ProviderRepository
type ProviderAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

var _ repositories.ProviderRepository = (*ProviderAdapter)(nil)

// NewProviderAdapter creates a new provider adapter
func NewProviderAdapter(client *postgres.Client) *ProviderAdapter {
	return &ProviderAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// ListActive returns active providers ordered by name
func (a *ProviderAdapter) ListActive(ctx context.Context) ([]*entities.Provider, error) {
	query, args, err := a.db.Select(providerColumns...).From(tableProviders).
		Where(goqu.Ex{"is_active": true}).
		Order(goqu.I("name").Asc(), goqu.I("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list providers", err)
	}
	defer rows.Close()

	var providers []*entities.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate providers", err)
	}
	return providers, nil
}

// GetByID retrieves a provider by ID
func (a *ProviderAdapter) GetByID(ctx context.Context, id string) (*entities.Provider, error) {
	query, args, err := a.db.Select(providerColumns...).From(tableProviders).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	p, err := scanProvider(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("provider %s not found", id))
	}
	return p, err
}

// UpdateSyncState stores integration status and, when given, lastSyncAt
func (a *ProviderAdapter) UpdateSyncState(ctx context.Context, id string, status entities.IntegrationStatus, lastSyncAt *time.Time) error {
	record := goqu.Record{
		"integration_status": status,
		"updated_at":         time.Now(),
	}
	if lastSyncAt != nil {
		record["last_sync_at"] = *lastSyncAt
	}

	query, args, err := a.db.Update(tableProviders).
		Set(record).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update provider sync state", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("provider with id %s not found", id))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProvider(row rowScanner) (*entities.Provider, error) {
	p := &entities.Provider{}
	var authConfig, credentials []byte
	var lastSyncAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.APIURL,
		&authConfig,
		&credentials,
		&p.IsActive,
		&p.IntegrationStatus,
		&lastSyncAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to scan provider", err)
	}

	if err := decodeJSONColumn(authConfig, &p.AuthConfig); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(credentials, &p.CredentialsConfig); err != nil {
		return nil, err
	}
	p.LastSyncAt = timePtr(lastSyncAt)
	return p, nil
}
