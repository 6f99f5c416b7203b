package store

import "database/sql"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS builds (
    id TEXT PRIMARY KEY,
    job_name TEXT NOT NULL,
    display_name TEXT NOT NULL,
    status TEXT NOT NULL,
    result TEXT,
    exit_code INTEGER,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    duration_ms INTEGER,
    output_tail TEXT,
    error_msg TEXT,
    trigger_type TEXT NOT NULL DEFAULT 'schedule',
    params TEXT,
    url TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_builds_job_name ON builds(job_name);
CREATE INDEX IF NOT EXISTS idx_builds_started_at ON builds(started_at);

CREATE TABLE IF NOT EXISTS deliveries (
    id TEXT PRIMARY KEY,
    job_name TEXT NOT NULL DEFAULT '',
    build_name TEXT,
    build_url TEXT,
    action TEXT NOT NULL,
    trigger_type TEXT,
    outcome TEXT NOT NULL,
    rooms TEXT,
    message TEXT,
    detail TEXT,
    duration_ms INTEGER,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_job_name ON deliveries(job_name);
CREATE INDEX IF NOT EXISTS idx_deliveries_created_at ON deliveries(created_at);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// RunMigrations applies the database schema migrations.
func RunMigrations(db *sql.DB) error {
	_, err := db.Exec(migrationSQL)
	return err
}
