package db

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations brings the schema up to date from the SQL files embedded
// under migrations/. A nil handle means the deployment runs without a
// database; there is nothing to do.
func RunMigrations(ctx context.Context, conn *sql.DB) error {
	if conn == nil {
		return nil
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	return goose.UpContext(ctx, conn, "migrations")
}
