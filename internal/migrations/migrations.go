package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var MigrationFiles embed.FS

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations brings the database schema up to date from the
// embedded SQL files. With autoMigrate false it reports the current
// version and applies nothing.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read current migration version: %w", err)
	}

	if dirty {
		slog.Warn("Migration state is dirty - a previous run was interrupted",
			"version", version,
			"action", "forcing recorded version",
		)

		// Forcing back to the recorded version is safe while the
		// migration set is a single baseline file.
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to clear dirty migration state at version %d: %w", version, err)
		}
		slog.Info("Cleared dirty migration state", "version", version)
	}

	if !autoMigrate {
		slog.Info("Auto-migration disabled, leaving schema untouched",
			"current_version", version,
			"dirty", dirty,
		)
		return nil
	}

	slog.Info("Applying database migrations", "current_version", version)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("Database schema is up to date", "version", version)
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version after apply: %w", err)
	}

	slog.Info("Database migrations applied",
		"from_version", version,
		"to_version", newVersion,
	)
	return nil
}
