package broker

import (
	"context"
	"database/sql"
	"fmt"
)

// schema contains the DDL for the broker database.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		tag        TEXT NOT NULL UNIQUE,
		task       TEXT NOT NULL,
		task_id    TEXT NOT NULL UNIQUE,
		body       BLOB NOT NULL,
		delivered  INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS task_states (
		id          TEXT PRIMARY KEY,
		state       TEXT NOT NULL DEFAULT 'PENDING',
		finished_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS control (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_delivered ON messages(delivered)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task, delivered)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate broker schema: %w", err)
		}
	}
	return nil
}
