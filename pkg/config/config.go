package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment    string
	LogLevel       string
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	OTEL           OTELConfig
	Gateway        GatewayConfig
	APIKeys        APIKeyConfig
	Scheduler      SchedulerConfig
	ProviderClient ProviderClientConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port int
	// AdminAllowedOrigins may call /api/ from a browser.
	AdminAllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Backend is "postgres" or "memory".
	Backend string
	// ProvidersFile seeds provider configuration for the memory backend.
	ProvidersFile string
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string

	// AutoMigrate applies MigrationsPath on startup.
	AutoMigrate    bool
	MigrationsPath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	// Enabled connects Redis even when the gateway state stays in memory,
	// e.g. to publish sync job events.
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// GatewayConfig configures the webhook security gateway
type GatewayConfig struct {
	Secret            string
	RequireSignature  bool
	RequireTimestamp  bool
	RequireNonce      bool
	EnableRateLimit   bool
	EnableIdempotency bool
	RateLimitWindow   time.Duration
	RateLimitMax      int
	MaxTimestampAge   time.Duration
	NonceTTL          time.Duration
	IdempotencyTTL    time.Duration
	MaxBodyBytes      int64
	// StateBackend is "memory" or "redis".
	StateBackend string
}

// APIKeyConfig configures the API-key gateway
type APIKeyConfig struct {
	Keys            []string
	HeaderName      string
	AllowQueryParam bool
	AdminKeys       []string
}

// SchedulerConfig holds the sync cadence and retry discipline
type SchedulerConfig struct {
	FullSyncIntervalHours          int
	IncrementalSyncIntervalMinutes int
	RetryOnFailureMinutes          int
	MaxRetries                     int
	EnableAutoBackfill             bool
	BackfillDaysOnFirstRun         int
	StartupDelay                   time.Duration
	HistoryRetention               time.Duration
	CleanupInterval                time.Duration
	IncrementalLookback            time.Duration
}

// ProviderClientConfig tunes partner API calls
type ProviderClientConfig struct {
	HTTPTimeout        time.Duration
	PageSize           int
	MaxAttempts        int
	BackfillChunkDays  int
	BackfillChunkDelay time.Duration
	BreakerFailures    int
	BreakerOpenTimeout time.Duration
	// RateLimitRPS caps outbound calls per partner; 0 disables the limiter.
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host:                getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                getEnvAsInt("SERVER_PORT", 8080),
			AdminAllowedOrigins: getEnvAsList("ADMIN_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Backend:       getEnv("STORAGE_BACKEND", "postgres"),
			ProvidersFile: getEnv("PROVIDERS_FILE", ""),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", ""),
			Database:      getEnv("DB_NAME", "telemedsync"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),

			AutoMigrate:    getEnvAsBool("DB_AUTO_MIGRATE", false),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "telemedsync"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
		Gateway: GatewayConfig{
			Secret:            getEnv("WEBHOOK_SECRET", ""),
			RequireSignature:  getEnvAsBool("WEBHOOK_REQUIRE_SIGNATURE", true),
			RequireTimestamp:  getEnvAsBool("WEBHOOK_REQUIRE_TIMESTAMP", true),
			RequireNonce:      getEnvAsBool("WEBHOOK_REQUIRE_NONCE", false),
			EnableRateLimit:   getEnvAsBool("WEBHOOK_RATE_LIMIT_ENABLED", true),
			EnableIdempotency: getEnvAsBool("WEBHOOK_IDEMPOTENCY_ENABLED", true),
			RateLimitWindow:   getEnvAsDuration("WEBHOOK_RATE_LIMIT_WINDOW", 60*time.Second),
			RateLimitMax:      getEnvAsInt("WEBHOOK_RATE_LIMIT_MAX", 100),
			MaxTimestampAge:   getEnvAsDuration("WEBHOOK_MAX_TIMESTAMP_AGE", 300*time.Second),
			NonceTTL:          getEnvAsDuration("WEBHOOK_NONCE_TTL", 10*time.Minute),
			IdempotencyTTL:    getEnvAsDuration("WEBHOOK_IDEMPOTENCY_TTL", 24*time.Hour),
			MaxBodyBytes:      int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
			StateBackend:      getEnv("GATEWAY_STATE_BACKEND", "memory"),
		},
		APIKeys: APIKeyConfig{
			Keys:            getEnvAsList("INTEGRATION_API_KEYS"),
			HeaderName:      getEnv("API_KEY_HEADER", "X-Api-Key"),
			AllowQueryParam: getEnvAsBool("API_KEY_ALLOW_QUERY", false),
			AdminKeys:       getEnvAsList("ADMIN_API_KEYS"),
		},
		Scheduler: SchedulerConfig{
			FullSyncIntervalHours:          getEnvAsInt("SYNC_FULL_INTERVAL_HOURS", 6),
			IncrementalSyncIntervalMinutes: getEnvAsInt("SYNC_INCREMENTAL_INTERVAL_MINUTES", 15),
			RetryOnFailureMinutes:          getEnvAsInt("SYNC_RETRY_ON_FAILURE_MINUTES", 5),
			MaxRetries:                     getEnvAsInt("SYNC_MAX_RETRIES", 3),
			EnableAutoBackfill:             getEnvAsBool("SYNC_AUTO_BACKFILL", true),
			BackfillDaysOnFirstRun:         getEnvAsInt("SYNC_BACKFILL_DAYS_ON_FIRST_RUN", 30),
			StartupDelay:                   getEnvAsDuration("SYNC_STARTUP_DELAY", 10*time.Second),
			HistoryRetention:               getEnvAsDuration("SYNC_HISTORY_RETENTION", 7*24*time.Hour),
			CleanupInterval:                getEnvAsDuration("SYNC_CLEANUP_INTERVAL", time.Hour),
			IncrementalLookback:            getEnvAsDuration("SYNC_INCREMENTAL_LOOKBACK", 0),
		},
		ProviderClient: ProviderClientConfig{
			HTTPTimeout:        getEnvAsDuration("PROVIDER_HTTP_TIMEOUT", 30*time.Second),
			PageSize:           getEnvAsInt("PROVIDER_PAGE_SIZE", 100),
			MaxAttempts:        getEnvAsInt("PROVIDER_MAX_ATTEMPTS", 3),
			BackfillChunkDays:  getEnvAsInt("PROVIDER_BACKFILL_CHUNK_DAYS", 7),
			BackfillChunkDelay: getEnvAsDuration("PROVIDER_BACKFILL_CHUNK_DELAY", time.Second),
			BreakerFailures:    getEnvAsInt("PROVIDER_BREAKER_FAILURES", 5),
			BreakerOpenTimeout: getEnvAsDuration("PROVIDER_BREAKER_OPEN_TIMEOUT", 60*time.Second),
			RateLimitRPS:       getEnvAsFloat("PROVIDER_RATE_LIMIT_RPS", 0),
			RateLimitBurst:     getEnvAsInt("PROVIDER_RATE_LIMIT_BURST", 1),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would make the scheduler or gateway misbehave.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Database.Backend)
	}
	switch c.Gateway.StateBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported GATEWAY_STATE_BACKEND %q", c.Gateway.StateBackend)
	}
	if c.Gateway.StateBackend == "redis" {
		c.Redis.Enabled = true
	}
	if c.Scheduler.FullSyncIntervalHours <= 0 || c.Scheduler.IncrementalSyncIntervalMinutes <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES must not be negative")
	}
	if c.Gateway.RateLimitMax <= 0 || c.Gateway.RateLimitWindow <= 0 {
		return fmt.Errorf("webhook rate limit must be positive")
	}
	if c.ProviderClient.BackfillChunkDays <= 0 {
		return fmt.Errorf("PROVIDER_BACKFILL_CHUNK_DAYS must be positive")
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the connection string in URL form
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
