package migrations

import (
	"context"
	"fmt"

	"sol-beast/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Migrations are expected to be idempotent.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := readSorted(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		if _, err := pool.Exec(ctx, file.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", file.Name, err)
		}
	}

	return nil
}
