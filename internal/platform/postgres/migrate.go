package postgres

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsTable = "checkout_schema_migrations"

// Migrate applies all pending schema migrations. It opens a dedicated connection so closing
// the migrator never affects the application pool.
func Migrate(databaseURL string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, withMigrationsTable(databaseURL))
	if err != nil {
		return fmt.Errorf("postgres: create migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("postgres migrator close failed", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("postgres: read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("postgres: schema version %d is dirty", version)
	}
	logger.Info("postgres schema up to date", zap.Uint("version", version))
	return nil
}

func withMigrationsTable(databaseURL string) string {
	if strings.Contains(databaseURL, "x-migrations-table=") {
		return databaseURL
	}
	separator := "?"
	if strings.Contains(databaseURL, "?") {
		separator = "&"
	}
	return databaseURL + separator + "x-migrations-table=" + migrationsTable
}
