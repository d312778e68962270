package observability

import (
	"context"
	"database/sql"
)

// Schema is the DDL for the observability tables. It lives in the same
// database as the tasks so a single file holds a deployment's history.
const Schema = `
CREATE TABLE IF NOT EXISTS business_event_logs (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    service     TEXT NOT NULL,
    task_id     TEXT NOT NULL DEFAULT '',
    document_id TEXT NOT NULL DEFAULT '',
    request_id  TEXT NOT NULL DEFAULT '',
    details     TEXT NOT NULL DEFAULT '{}',
    success     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON business_event_logs(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_task ON business_event_logs(task_id);

CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id   INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT,
    unit        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time ON metrics_timeseries(metric_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id     INTEGER PRIMARY KEY AUTOINCREMENT,
    worker_name      TEXT NOT NULL,
    hostname         TEXT NOT NULL,
    worker_pid       INTEGER NOT NULL,
    timestamp        INTEGER NOT NULL,
    goroutines_count INTEGER NOT NULL DEFAULT 0,
    memory_alloc_mb  REAL NOT NULL DEFAULT 0,
    queue_depth      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time ON worker_heartbeats(worker_name, timestamp DESC);
`

// Init applies Schema to db.
func Init(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
