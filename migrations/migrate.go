package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
)

// Apply runs every embedded migration in filename order. Statements are
// idempotent, so reapplying on startup is safe.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := fs.Glob(FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(entries)
	for _, name := range entries {
		raw, err := FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
	}
	return nil
}
