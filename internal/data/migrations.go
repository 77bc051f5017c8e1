package data

import (
	"context"
	"database/sql"

	"github.com/appointflow/notifier/internal/migrate"
)

// RunMigrations applies the embedded schema for runs, step memos and the collaborator tables.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

// PendingMigrations lists embedded migrations not yet applied to db.
func PendingMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	return migrate.Pending(ctx, db)
}
