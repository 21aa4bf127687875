package store

import (
	"context"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "discovery_jobs: one row per discovery run",
		SQL: `
CREATE TABLE discovery_jobs (
    id                    TEXT PRIMARY KEY,
    user_id               TEXT NOT NULL,
    status                TEXT NOT NULL CHECK (status IN ('running', 'completed', 'completed_with_errors', 'failed')),
    started_at            INTEGER NOT NULL,
    completed_at          INTEGER,
    error                 TEXT NOT NULL DEFAULT '',

    total_contacts        INTEGER NOT NULL DEFAULT 0,
    companies_found       INTEGER NOT NULL DEFAULT 0,
    tag_relationships     INTEGER NOT NULL DEFAULT 0,
    auto_committed        INTEGER NOT NULL DEFAULT 0,
    queued_for_review     INTEGER NOT NULL DEFAULT 0,
    duplicates_suppressed INTEGER NOT NULL DEFAULT 0,
    failed                INTEGER NOT NULL DEFAULT 0
);

-- at most one running job per user
CREATE UNIQUE INDEX idx_jobs_one_running ON discovery_jobs(user_id) WHERE status = 'running';
CREATE INDEX idx_jobs_user_started ON discovery_jobs(user_id, started_at DESC);
`,
	},
	{
		Version:     2,
		Description: "pending_relationships: review queue",
		SQL: `
CREATE TABLE pending_relationships (
    id               TEXT PRIMARY KEY,
    job_id           TEXT NOT NULL,
    user_id          TEXT NOT NULL,
    source_id        TEXT NOT NULL,
    target_id        TEXT NOT NULL,
    edge_type        TEXT NOT NULL,
    confidence       REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    tier             TEXT NOT NULL CHECK (tier IN ('medium', 'low')),
    review_status    TEXT NOT NULL DEFAULT 'pending' CHECK (review_status IN ('pending', 'approved', 'rejected')),
    committed        INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    reviewed_at      INTEGER,

    FOREIGN KEY (job_id) REFERENCES discovery_jobs(id) ON DELETE CASCADE
);

-- an unresolved or accepted candidate is never queued twice
CREATE UNIQUE INDEX idx_pending_active_key
    ON pending_relationships(user_id, source_id, target_id, edge_type)
    WHERE review_status IN ('pending', 'approved');
CREATE INDEX idx_pending_user_job_tier ON pending_relationships(user_id, job_id, tier);
CREATE INDEX idx_pending_user_status ON pending_relationships(user_id, review_status);
`,
	},
	{
		Version:     3,
		Description: "discovery_jobs: owner lease",
		SQL: `
ALTER TABLE discovery_jobs ADD COLUMN owner TEXT NOT NULL DEFAULT '';
ALTER TABLE discovery_jobs ADD COLUMN heartbeat_at INTEGER NOT NULL DEFAULT 0;
UPDATE discovery_jobs SET heartbeat_at = started_at;
`,
	},
}

const schemaVersionsDDL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
)`

// migrate applies, in order, every migration not yet recorded in
// schema_versions. Each one commits together with its version row.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}
	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_versions (version, description) VALUES (?, ?)", m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 on a new database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
