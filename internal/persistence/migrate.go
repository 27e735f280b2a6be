package persistence

import (
	"EscrowLedger/migrations"
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

// gooseUpContext, gooseDownContext and gooseStatusContext are seams for
// testing without a database.
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseStatusContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.StatusContext(ctx, db, dir, opts...)
	}
)

func setupGoose() error {
	goose.SetBaseFS(migrations.Migrations)
	return goose.SetDialect("postgres")
}

// RunMigrations applies every pending embedded migration.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// RollbackMigration rolls back the most recent migration.
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return gooseDownContext(ctx, db, ".")
}

// MigrationStatus logs the applied state of every migration.
func MigrationStatus(ctx context.Context, db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return gooseStatusContext(ctx, db, ".")
}
