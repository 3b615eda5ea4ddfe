package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// MigrationState is the schema version recorded by golang-migrate.
type MigrationState struct {
	Version uint
	Dirty   bool
	// Empty is true before the first migration has run.
	Empty bool
}

// withMigrator opens a migrator over db, runs fn and closes the migrator.
func withMigrator(db *sql.DB, migrationsPath string, logger *zap.Logger, fn func(m *migrate.Migrate) error) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			logger.Warn("Failed to close migrator", zap.Error(err))
		}
	}()
	return fn(m)
}

func currentState(m *migrate.Migrate) (MigrationState, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationState{Empty: true}, nil
	}
	if err != nil {
		return MigrationState{}, fmt.Errorf("read migration version: %w", err)
	}
	return MigrationState{Version: version, Dirty: dirty}, nil
}

// RunMigrations applies pending migrations. Safe to call on every start.
func RunMigrations(db *sql.DB, migrationsPath string, logger *zap.Logger) error {
	return withMigrator(db, migrationsPath, logger, func(m *migrate.Migrate) error {
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("No migrations to apply (database up-to-date)")
			return nil
		}
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		state, err := currentState(m)
		if err != nil {
			return err
		}
		logger.Info("Applied migrations", zap.Uint("version", state.Version))
		return nil
	})
}

// MigrateDown rolls back steps migrations. steps must be positive.
func MigrateDown(db *sql.DB, migrationsPath string, steps int, logger *zap.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	return withMigrator(db, migrationsPath, logger, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("roll back %d steps: %w", steps, err)
		}
		state, err := currentState(m)
		if err != nil {
			return err
		}
		logger.Info("Rolled back migrations",
			zap.Uint("version", state.Version),
			zap.Bool("dirty", state.Dirty),
			zap.Bool("empty", state.Empty))
		return nil
	})
}

// MigrationStatus reports the applied schema version without changing it.
func MigrationStatus(db *sql.DB, migrationsPath string, logger *zap.Logger) (MigrationState, error) {
	var state MigrationState
	err := withMigrator(db, migrationsPath, logger, func(m *migrate.Migrate) error {
		var err error
		state, err = currentState(m)
		return err
	})
	return state, err
}
