package store

import (
	"embed"
	"errors"
	"fmt"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/schedlens/core/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to date from the embedded migrations. It is
// safe to call on every start; an already current schema is not an error.
func Migrate(databaseURL string) error {
	log := logger.New("schedule-store")

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			log.Warn().Err(sourceErr).Msg("Failed to close migration source")
		}
		if dbErr != nil {
			log.Warn().Err(dbErr).Msg("Failed to close migration database handle")
		}
	}()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database schema is dirty at version %d, refusing to migrate", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().
				Uint("version", version).
				Str("action", "schema_current").
				Msg("Database schema already up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	final, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version after migrate: %w", err)
	}

	log.Info().
		Uint("version", final).
		Str("action", "schema_migrated").
		Msg("Database schema migrated")
	return nil
}
