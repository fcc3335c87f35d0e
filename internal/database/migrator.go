package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Migrator applies the schema migrations under a directory of numbered SQL
// files. It borrows connections from the pool through a database/sql wrapper
// that must be closed with the migrator.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB
	logger  zerolog.Logger
}

// NewMigrator builds a migrator over the given pool and migrations directory.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil || db.pool == nil {
		return nil, fmt.Errorf("database is required")
	}
	if migrationsPath == "" {
		return nil, fmt.Errorf("migrations path is required")
	}
	if _, err := os.Stat(migrationsPath); err != nil {
		return nil, fmt.Errorf("migrations path: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("creating postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath), "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}

	return &Migrator{migrate: m, sqlDB: sqlDB, logger: logger}, nil
}

// Up applies all pending migrations. Being already at the latest version is
// not an error.
func (m *Migrator) Up() error {
	m.logger.Info().Msg("running database migrations")
	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("running migrations: %w", err)
	}
	m.logger.Info().Msg("migrations applied")
	return nil
}

// Down rolls back every migration.
func (m *Migrator) Down() error {
	m.logger.Warn().Msg("rolling back all migrations")
	if err := m.migrate.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	m.logger.Info().Msg("migrations rolled back")
	return nil
}

// Steps runs n migrations, up for positive n and down for negative.
func (m *Migrator) Steps(n int) error {
	m.logger.Info().Int("steps", n).Msg("running migration steps")
	if err := m.migrate.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) {
			// os.ErrNotExist surfaces when stepping past the last migration.
			m.logger.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("running migration steps: %w", err)
	}
	return nil
}

// Version returns the current migration version and whether it is dirty.
func (m *Migrator) Version() (uint, bool, error) {
	return m.migrate.Version()
}

// Force sets the recorded version without running migrations, to recover
// from a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing migration version")
	return m.migrate.Force(version)
}

// Close releases the migrator's source and its borrowed connections.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if m.sqlDB != nil {
		if err := m.sqlDB.Close(); err != nil && dbErr == nil {
			dbErr = err
		}
	}

	switch {
	case sourceErr != nil && dbErr != nil:
		return fmt.Errorf("closing migrator: source error: %v, database error: %w", sourceErr, dbErr)
	case sourceErr != nil:
		return fmt.Errorf("closing migration source: %w", sourceErr)
	case dbErr != nil:
		return fmt.Errorf("closing migration database handle: %w", dbErr)
	}
	return nil
}
