package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/telemedsync/internal/infrastructure/migration"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
	"github.com/zatekoja/telemedsync/pkg/config"
	"github.com/zatekoja/telemedsync/pkg/secrets"
)

func main() {
	path := flag.String("path", "", "migrations directory (default DB_MIGRATIONS_PATH)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	if _, err := secrets.ApplyVaultSecrets(context.Background(), secrets.LoadVaultConfigFromEnv("")); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Vault secrets")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	observability.InitLogger("telemedsync-migrate", cfg.Environment, cfg.LogLevel)
	logger := observability.GetLogger()

	dir := cfg.Database.MigrationsPath
	if *path != "" {
		dir = *path
	}

	m, err := migration.New(cfg.Database.DatabaseURL(), dir)
	if err != nil {
		logger.Fatal().Err(err).Str("path", dir).Msg("Failed to open migrations")
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing migrator")
		}
	}()

	if err := run(m, args); err != nil {
		logger.Error().Err(err).Str("command", args[0]).Msg("Migration failed")
		os.Exit(1)
	}
}

func run(m *migration.Migrator, args []string) error {
	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "steps", "force":
		if len(args) < 2 {
			return fmt.Errorf("%s requires a number", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", args[1], err)
		}
		if args[0] == "steps" {
			return m.Steps(n)
		}
		return m.Force(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: migrate [-path dir] <command>

Commands:
  up            apply all pending migrations
  down          roll back all migrations
  steps <n>     apply n migrations, negative rolls back
  force <v>     set version without running migrations
  version       print the applied version
`)
}
