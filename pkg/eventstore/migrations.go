package eventstore

import (
	"database/sql"
	"embed"

	"github.com/navicore/spec-service/pkg/eventstore/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies all pending schema migrations. Safe to call on
// every startup; applied versions are skipped.
func RunMigrations(db *sql.DB) error {
	migrator := migrate.New(db, "schema_migrations")
	if err := migrator.LoadFromFS(migrationFiles, "migrations"); err != nil {
		return err
	}
	return migrator.Up()
}
