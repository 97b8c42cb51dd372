package store

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = 1

// schemaV1 is portable between SQLite and PostgreSQL: text ids, RFC 3339
// text timestamps, JSON payloads as text.
var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		target_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		failed_keys TEXT,
		error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		batch_id TEXT,
		candidate_key TEXT,
		seed TEXT,
		status TEXT NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch_id)`,
	`CREATE TABLE IF NOT EXISTS step_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		step_id INTEGER NOT NULL,
		phase INTEGER NOT NULL,
		name TEXT NOT NULL,
		outputs TEXT NOT NULL,
		parsed INTEGER NOT NULL,
		recorded_at TEXT NOT NULL,
		UNIQUE(run_id, seq)
	)`,
}
