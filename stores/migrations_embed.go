package stores

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oarkflow/squealx"
)

//go:embed sql_migrations.sql
var migrationsSQL string

//go:embed pg_migrations.sql
var pgMigrationsSQL string

// Migrate creates the grant and audit tables for the squealx stores.
func Migrate(ctx context.Context, db *squealx.DB) error {
	if _, err := db.ExecContext(ctx, migrationsSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigratePostgres creates the grant tables for PostgresGrantStore.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, pgMigrationsSQL); err != nil {
		return fmt.Errorf("run postgres migrations: %w", err)
	}
	return nil
}
