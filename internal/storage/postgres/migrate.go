package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationVersion reports the schema version after a migration run.
type MigrationVersion struct {
	Version uint
	Dirty   bool
}

// Migrate applies embedded migrations. steps == 0 migrates fully up; a
// negative value rolls back that many migrations.
func Migrate(dsn string, steps int, logger *zap.Logger) (MigrationVersion, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		return MigrationVersion{}, fmt.Errorf("database.dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return MigrationVersion{}, fmt.Errorf("open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // best-effort close

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return MigrationVersion{}, fmt.Errorf("create pgx migrate driver: %w", err)
	}
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return MigrationVersion{}, fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return MigrationVersion{}, fmt.Errorf("create migrate instance: %w", err)
	}

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no pending migrations")
	case err != nil:
		return MigrationVersion{}, fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationVersion{}, nil
	}
	if err != nil {
		return MigrationVersion{}, fmt.Errorf("read migration version: %w", err)
	}
	logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return MigrationVersion{Version: version, Dirty: dirty}, nil
}
