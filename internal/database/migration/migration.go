package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_illustration_templates",
		SQL: `CREATE TABLE IF NOT EXISTS illustration_templates (
  id                UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  carrier           TEXT        NOT NULL,
  product           TEXT        NOT NULL,
  page_signatures   JSONB       NOT NULL DEFAULT '[]'::jsonb,
  field_patterns    JSONB       NOT NULL DEFAULT '{}'::jsonb,
  sample_extraction JSONB       NOT NULL DEFAULT '{}'::jsonb,
  usage_count       INTEGER     NOT NULL DEFAULT 1 CHECK (usage_count >= 0),
  created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_used_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (carrier, product)
);`,
	},
	{
		Name: "create_index_illustration_templates_last_used_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_illustration_templates_last_used_at ON illustration_templates (last_used_at);`,
	},
	{
		Name: "create_function_increment_template_usage",
		SQL: `CREATE OR REPLACE FUNCTION increment_template_usage(p_carrier TEXT, p_product TEXT)
RETURNS VOID
LANGUAGE plpgsql
AS $$
BEGIN
  UPDATE illustration_templates
     SET usage_count  = usage_count + 1,
         last_used_at = now()
   WHERE carrier = p_carrier AND product = p_product;
END;
$$;`,
	},
}

// EnsureMigrated creates the template schema unless illustration_templates
// already exists.
func EnsureMigrated(ctx context.Context, db *sql.DB, logger *slog.Logger, dbHost string) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "database", "db_host", dbHost)
	start := time.Now()

	log.Info("db.migration.check")

	var exists bool
	query := "SELECT to_regclass('public.illustration_templates') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		log.Error("db.migration.failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info("db.migration.skip",
			"msg", "schema already exists, skipping migration",
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	log.Info("db.migration.start", "steps", len(steps))

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error("db.migration.failed",
				"migration_step", step.Name,
				"error", err,
				"duration_ms", time.Since(start).Milliseconds(),
				"step_duration_ms", time.Since(stepStart).Milliseconds(),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info("db.migration.step",
			"migration_step", step.Name,
			"step_duration_ms", time.Since(stepStart).Milliseconds(),
		)
	}

	log.Info("db.migration.success", "duration_ms", time.Since(start).Milliseconds())
	return nil
}
