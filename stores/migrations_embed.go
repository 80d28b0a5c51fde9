package stores

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/oarkflow/squealx"
)

//go:embed sql_migrations.sql
var migrationsSQL string

// Migrate creates the schema. Statements are IF NOT EXISTS, so running it on
// an already-migrated database is harmless.
func Migrate(db *squealx.DB) error {
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
