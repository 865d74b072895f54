package database

import (
	"errors"
	"fmt"

	"github.com/avissapr/groupwork/internal/logging"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies all pending migrations from sourceURL to the database at dbURL.
//
// Parameters:
//   - sourceURL: migration source, e.g. "file://migrations"
//   - dbURL: PostgreSQL connection string
//   - logger: receives progress records
//
// A database left dirty by an interrupted migration is forced back to its
// recorded version before migrating up.
func RunMigrations(sourceURL, dbURL string, logger logging.Logger) error {
	if dbURL == "" {
		return fmt.Errorf("database URL not set")
	}

	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Warn("could not get migration version", "error", err)
	}

	if dirty {
		logger.Warn("database in dirty state, forcing version", "version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		version, _, _ := m.Version()
		logger.Info("database is up to date", "version", version)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ = m.Version()
	logger.Info("migrations complete", "version", version)
	return nil
}

// RollbackMigration rolls back the last applied migration.
func RollbackMigration(sourceURL, dbURL string, logger logging.Logger) error {
	if dbURL == "" {
		return fmt.Errorf("database URL not set")
	}

	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("rolled back migration", "version", version)
	return nil
}
