// Package database provides schema migration helpers for the service's
// Postgres/PostGIS database.
package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/000001_init.up.sql
var initMigrationUp string

//go:embed migrations/000001_init.down.sql
var initMigrationDown string

// MigrateUp applies the schema. Statements are idempotent so running it on
// every boot is safe.
func MigrateUp(ctx context.Context, db *pgx.Conn) error {
	if _, err := db.Exec(ctx, initMigrationUp); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// MigrateDown drops the schema.
func MigrateDown(ctx context.Context, db *pgx.Conn) error {
	if _, err := db.Exec(ctx, initMigrationDown); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}
