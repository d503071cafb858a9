package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied on every start; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		doc JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS workflows_business_idx ON workflows (business_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS workflows_trigger_idx ON workflows (trigger_type)`,
	`CREATE TABLE IF NOT EXISTS workflow_steps (
		workflow_id TEXT NOT NULL REFERENCES workflows (id),
		id TEXT NOT NULL,
		ord INT NOT NULL,
		doc JSONB NOT NULL,
		PRIMARY KEY (workflow_id, id),
		UNIQUE (workflow_id, ord)
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		doc JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_workflow_idx ON runs (workflow_id, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS run_steps (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs (id),
		ord INT NOT NULL,
		status TEXT NOT NULL,
		doc JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS run_steps_run_idx ON run_steps (run_id, ord)`,
	`CREATE INDEX IF NOT EXISTS run_steps_status_idx ON run_steps (status)`,
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
