// Package migration applies versioned schema migrations for the SQL
// execution store backends. Migration files are embedded in the binary,
// so deployments need no external migration directory.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationFS embed.FS

// Run applies all pending migrations for the given driver ("postgres"
// or "mysql") against an open database handle. Already-applied
// migrations are skipped.
func Run(db *sql.DB, driver string) error {
	var target database.Driver
	var err error
	switch driver {
	case "postgres":
		target, err = migratepostgres.WithInstance(db, &migratepostgres.Config{})
	case "mysql":
		target, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("migration driver %s: %w", driver, err)
	}

	source, err := iofs.New(migrationFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, target)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
