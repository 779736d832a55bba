package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending goose migration embedded in this package
// against db, recording progress in migrationsTable.
func Migrate(db *sql.DB, migrationsTable string) error {
	if migrationsTable == "" {
		migrationsTable = "goose_db_version"
	}
	goose.SetTableName(migrationsTable)
	goose.SetBaseFS(migrationFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
