package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		idea TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS documents (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		status INTEGER NOT NULL,
		content TEXT,
		error TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		finished_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, task_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		score REAL NOT NULL,
		threshold REAL NOT NULL,
		passed INTEGER NOT NULL,
		summary TEXT,
		issues TEXT,
		FOREIGN KEY (run_id, task_id) REFERENCES documents(run_id, task_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_assessments_document
		ON assessments(run_id, task_id, attempt);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
