package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/telemedsync/internal/adapters/database"
	"github.com/zatekoja/telemedsync/internal/application/services"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/telemed"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
	"github.com/zatekoja/telemedsync/pkg/config"
	"github.com/zatekoja/telemedsync/pkg/secrets"
)

func main() {
	var providerID, startFlag, endFlag string
	var days int

	flag.StringVar(&providerID, "provider", "", "Provider ID to backfill (default: every never-synced provider)")
	flag.IntVar(&days, "days", 30, "Days to backfill when -start is not given")
	flag.StringVar(&startFlag, "start", "", "Range start, RFC3339")
	flag.StringVar(&endFlag, "end", "", "Range end, RFC3339 (default: now)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	vaultCfg := secrets.LoadVaultConfigFromEnv("")
	if _, err := secrets.ApplyVaultSecrets(ctx, vaultCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Vault secrets")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	observability.InitLogger("telemedsync-backfill", cfg.Environment, cfg.LogLevel)
	logger := observability.GetLogger()

	start, end, err := parseRange(startFlag, endFlag, days, time.Now().UTC())
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid backfill range")
	}

	if cfg.Database.Backend != "postgres" {
		logger.Fatal().Str("backend", cfg.Database.Backend).Msg("Backfill writes to Postgres only")
	}
	pgClient, err := postgres.NewClient(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pgClient.Close()

	providerRepo := database.NewProviderAdapter(pgClient)
	ingestor := services.NewRecordIngestor(
		database.NewConsultationAdapter(pgClient),
		database.NewPrescriptionAdapter(pgClient),
		database.NewMedicalRecordAdapter(pgClient),
	)
	svc := services.NewProviderSyncService(ingestor, services.ProviderSyncConfigFrom(cfg.ProviderClient), nil)
	factory := telemed.NewClientFactory(telemed.OptionsFromConfig(cfg.ProviderClient, nil), secrets.NewCredentialResolver(vaultCfg))

	targets, err := selectProviders(ctx, providerRepo, providerID)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load providers")
	}
	if len(targets) == 0 {
		logger.Info().Msg("Nothing to backfill")
		return
	}

	began := time.Now()
	failed := 0
	for _, p := range targets {
		if ctx.Err() != nil {
			break
		}
		plog := logger.With().Str("provider_id", p.ID).Logger()

		client, err := factory.NewClient(ctx, p)
		if err != nil {
			plog.Error().Err(err).Msg("Skipping provider")
			failed++
			continue
		}

		plog.Info().Time("start", start).Time("end", end).Msg("Backfilling provider")
		result := svc.Backfill(ctx, client, p, start, end)

		status := entities.IntegrationStatusActive
		var lastSyncAt *time.Time
		if result.Success {
			lastSyncAt = &result.StartedAt
		} else {
			status = entities.IntegrationStatusError
			failed++
		}
		if err := providerRepo.UpdateSyncState(context.WithoutCancel(ctx), p.ID, status, lastSyncAt); err != nil {
			plog.Error().Err(err).Msg("Failed to update provider sync state")
		}

		plog.Info().
			Bool("success", result.Success).
			Int("chunks", result.Chunks).
			Int("processed", result.Processed).
			Int("created", result.Created).
			Int("updated", result.Updated).
			Int("errors", len(result.Errors)).
			Msg("Provider backfill finished")
	}

	logger.Info().
		Int("providers", len(targets)).
		Int("failed", failed).
		Dur("duration", time.Since(began)).
		Msg("Backfill complete")
	if failed > 0 {
		os.Exit(1)
	}
}

// selectProviders returns the named provider, or every configured provider
// that has never synced
func selectProviders(ctx context.Context, repo repositories.ProviderRepository, providerID string) ([]*entities.Provider, error) {
	if providerID != "" {
		p, err := repo.GetByID(ctx, providerID)
		if err != nil {
			return nil, err
		}
		return []*entities.Provider{p}, nil
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var out []*entities.Provider
	for _, p := range active {
		if p.IsConfigured() && p.NeverSynced() {
			out = append(out, p)
		}
	}
	return out, nil
}
