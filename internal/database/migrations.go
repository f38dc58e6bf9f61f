package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		// Databases carried over from the original Supabase tables have no
		// per-template uniqueness on region names.
		name:  "add template_regions unique region name",
		sql:   `CREATE UNIQUE INDEX IF NOT EXISTS uq_template_regions_name_idx ON template_regions (template_id, region_name)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'template_regions' AND indexdef ILIKE '%UNIQUE%(template_id, region_name)%')`,
	},
	{
		name:  "convert podcast_templates.features to jsonb",
		sql:   `ALTER TABLE podcast_templates ALTER COLUMN features TYPE jsonb USING features::jsonb`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'podcast_templates' AND column_name = 'features' AND data_type = 'jsonb')`,
	},
	{
		name:  "add podcast_templates created_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_template_created_at ON podcast_templates (created_at)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_template_created_at')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. If the apply fails (e.g. insufficient
// privileges), the error is returned and the caller should treat this as fatal
// since the application's queries depend on these columns existing.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	// Try to apply each pending migration
	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart podshot.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
