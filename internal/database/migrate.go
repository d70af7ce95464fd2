package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	apperrors "autoforge/internal/errors"
	"autoforge/internal/logger"
)

//go:embed migrations
var migrationFS embed.FS

// Migrator handles database migrations
type Migrator struct {
	migrate *migrate.Migrate
	logger  logger.Logger
}

// NewMigrator builds a migrator over the embedded migrations for the database's driver.
// The migrator shares the connection pool, so it is never closed on its own.
func NewMigrator(db *DB) (*Migrator, error) {
	var (
		driver database.Driver
		err    error
	)
	switch db.driver {
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	default:
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	}
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, fmt.Sprintf("failed to create %s migration driver", db.driver), err)
	}

	src, err := iofs.New(migrationFS, "migrations/"+db.driver)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInternal, "failed to open embedded migrations", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.driver, driver)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to create migrator", err)
	}
	m.Log = &migrateLogger{logger: db.logger}
	return &Migrator{migrate: m, logger: db.logger}, nil
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to run migrations", err)
	}
	m.logger.Info("database migrations applied")
	return nil
}

// Down rolls back the most recent migration
func (m *Migrator) Down() error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to roll back migration", err)
	}
	return nil
}

// Version returns the current migration version; zero when nothing is applied
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.NewAppError(apperrors.ErrCodeDBQuery, "failed to get migration version", err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeDBQuery, fmt.Sprintf("failed to force migration version %d", version), err)
	}
	m.logger.Warn("forced migration version", "version", version)
	return nil
}

// Migrate opens a migrator and applies every pending migration
func (db *DB) Migrate() error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}
	return m.Up()
}

type migrateLogger struct {
	logger logger.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l *migrateLogger) Verbose() bool { return false }
