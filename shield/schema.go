package shield

import (
	"context"
	"database/sql"
)

// Schema holds the rate limit rules and the maintenance flag. An endpoint
// is "METHOD /path" as routed, e.g. "POST /v1/documents".
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS maintenance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    active  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT 'docroute is under maintenance'
);

INSERT OR IGNORE INTO maintenance (id, active, message)
VALUES (1, 0, 'docroute is under maintenance');
`

// Init creates the shield tables if they don't exist.
func Init(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
