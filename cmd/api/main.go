package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/telemedsync/internal/adapters/cache"
	"github.com/zatekoja/telemedsync/internal/adapters/database"
	"github.com/zatekoja/telemedsync/internal/adapters/events"
	"github.com/zatekoja/telemedsync/internal/adapters/memory"
	"github.com/zatekoja/telemedsync/internal/adapters/state"
	"github.com/zatekoja/telemedsync/internal/api/handlers"
	"github.com/zatekoja/telemedsync/internal/api/middleware"
	"github.com/zatekoja/telemedsync/internal/api/routes"
	"github.com/zatekoja/telemedsync/internal/application/services"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/providers"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/redis"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/telemed"
	"github.com/zatekoja/telemedsync/internal/infrastructure/migration"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
	"github.com/zatekoja/telemedsync/pkg/config"
	"github.com/zatekoja/telemedsync/pkg/secrets"
)

const gatewayKeyPrefix = "telemedsync:gateway:"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Secrets first so config.Load sees them
	vaultCfg := secrets.LoadVaultConfigFromEnv("")
	if res, err := secrets.ApplyVaultSecrets(ctx, vaultCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Vault secrets")
	} else if res.Enabled {
		log.Info().Str("path", res.Path).Int("loaded", res.Loaded).Int("skipped", res.Skipped).Msg("Vault secrets applied")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Environment, cfg.LogLevel)
	logger := observability.GetLogger()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()
			logger.Info().Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize metrics")
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Database.Backend).Msg("Failed to initialize storage")
	}
	defer func() {
		if err := store.close(); err != nil {
			logger.Error().Err(err).Msg("Error closing storage")
		}
	}()
	logger.Info().Str("backend", cfg.Database.Backend).Msg("Storage initialized")

	// Redis is optional unless the gateway state lives there
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			if cfg.Gateway.StateBackend == "redis" {
				logger.Fatal().Err(err).Msg("Redis is required for GATEWAY_STATE_BACKEND=redis")
			}
			logger.Warn().Err(err).Msg("Redis unavailable; sync events and provider cache disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Redis client initialized")
		}
	}

	var gatewayState providers.GatewayStateStore
	var closeGatewayState func() error
	if cfg.Gateway.StateBackend == "redis" {
		gatewayState = state.NewRedisStore(redisClient, gatewayKeyPrefix)
	} else {
		ms := state.NewMemoryStore(time.Minute)
		gatewayState, closeGatewayState = ms, ms.Close
	}
	logger.Info().Str("backend", cfg.Gateway.StateBackend).Msg("Gateway state store initialized")

	var eventBus providers.EventBus
	var providerLookup handlers.ProviderLookup = store.providers
	if redisClient != nil {
		eventBus = events.NewRedisEventBus(redisClient)
		providerLookup = cache.NewProviderDirectory(
			store.providers,
			cache.NewRedisAdapter(redisClient, "telemedsync:cache:"),
			cache.DefaultProviderTTL,
		)
	}

	// Services
	ingestor := services.NewRecordIngestor(store.consultations, store.prescriptions, store.records)
	syncService := services.NewProviderSyncService(ingestor, services.ProviderSyncConfigFrom(cfg.ProviderClient), metrics)
	clientFactory := telemed.NewClientFactory(
		telemed.OptionsFromConfig(cfg.ProviderClient, metrics),
		secrets.NewCredentialResolver(vaultCfg),
	)

	scheduler, err := services.NewSyncScheduler(
		services.SyncSchedulerConfigFrom(cfg.Scheduler),
		store.providers,
		store.jobs,
		services.TelemedClientFactory(clientFactory),
		syncService,
		eventBus,
		metrics,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid sync scheduler configuration")
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start sync scheduler")
	}

	// HTTP surface
	if cfg.Gateway.RequireSignature && cfg.Gateway.Secret == "" {
		logger.Warn().Msg("WEBHOOK_SECRET is not set; signed webhooks will be rejected")
	}
	adminKeys := cfg.APIKeys.AdminKeys
	if len(adminKeys) == 0 {
		logger.Warn().Msg("ADMIN_API_KEYS is not set; sync admin endpoints accept integration keys")
		adminKeys = cfg.APIKeys.Keys
	}

	router := routes.NewRouter(
		handlers.NewTelemedWebhookHandler(providerLookup, ingestor, scheduler),
		handlers.NewSyncAdminHandler(scheduler),
		middleware.NewWebhookSecurity(middleware.WebhookSecurityConfigFrom(cfg.Gateway), gatewayState, metrics),
		middleware.NewAPIKeyAuth(middleware.APIKeyConfigFrom(cfg.APIKeys, cfg.APIKeys.Keys), metrics),
		middleware.NewAPIKeyAuth(middleware.APIKeyConfigFrom(cfg.APIKeys, adminKeys), metrics),
		cfg.Server.AdminAllowedOrigins,
		metrics,
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serverAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during server shutdown")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Sync jobs did not finish before shutdown")
	}
	if closeGatewayState != nil {
		if err := closeGatewayState(); err != nil {
			logger.Error().Err(err).Msg("Error closing gateway state store")
		}
	}
	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing event bus")
		}
	}

	logger.Info().Msg("Server stopped")
}

// storage bundles the repositories of one backend
type storage struct {
	providers     repositories.ProviderRepository
	consultations repositories.ConsultationRepository
	prescriptions repositories.PrescriptionRepository
	records       repositories.MedicalRecordRepository
	jobs          repositories.SyncJobRepository
	close         func() error
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Database.Backend == "memory" {
		var seed []*entities.Provider
		if cfg.Database.ProvidersFile != "" {
			loaded, err := memory.LoadProvidersFile(cfg.Database.ProvidersFile)
			if err != nil {
				return nil, err
			}
			seed = loaded
		}
		return &storage{
			providers:     memory.NewProviderStore(seed...),
			consultations: memory.NewConsultationStore(),
			prescriptions: memory.NewPrescriptionStore(),
			records:       memory.NewMedicalRecordStore(),
			jobs:          memory.NewSyncJobStore(),
			close:         func() error { return nil },
		}, nil
	}

	pg, err := postgres.NewClient(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := migrate(cfg.Database); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return &storage{
		providers:     database.NewProviderAdapter(pg),
		consultations: database.NewConsultationAdapter(pg),
		prescriptions: database.NewPrescriptionAdapter(pg),
		records:       database.NewMedicalRecordAdapter(pg),
		jobs:          database.NewSyncJobAdapter(pg),
		close:         pg.Close,
	}, nil
}

func migrate(cfg config.DatabaseConfig) error {
	m, err := migration.New(cfg.DatabaseURL(), cfg.MigrationsPath)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
