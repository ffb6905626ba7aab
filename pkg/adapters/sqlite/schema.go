package sqlite

import (
	"context"
	"fmt"
)

// schema is applied by Migrate. Statements are idempotent.
// seq columns preserve creation order independently of the clock.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		seq              INTEGER PRIMARY KEY AUTOINCREMENT,
		id               TEXT NOT NULL UNIQUE,
		workflow_id      TEXT NOT NULL,
		name             TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		current_stage_id TEXT NOT NULL DEFAULT '',
		completed_stages TEXT NOT NULL DEFAULT '[]',
		context          TEXT NOT NULL DEFAULT '{}',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		version          INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_workflow ON sessions (workflow_id)`,
	`CREATE TABLE IF NOT EXISTS stage_instances (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		session_id      TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
		stage_id        TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		started_at      TEXT,
		completed_at    TEXT,
		completed_items TEXT NOT NULL DEFAULT '[]',
		context         TEXT NOT NULL DEFAULT '{}',
		deliverables    TEXT NOT NULL DEFAULT '{}',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		version         INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_instances_session ON stage_instances (session_id, stage_id)`,
}

// Migrate creates the tables the store needs.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("stageflow/sqlite: migration failed: %w", err)
		}
	}
	return nil
}
