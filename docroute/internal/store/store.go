// Package store persists submitted tasks and their triage results.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/docroute/dbopen"
	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/triage"
)

// Schema is the DDL of the tasks and triage_results tables.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
    task_id      TEXT PRIMARY KEY,
    document_id  TEXT NOT NULL,
    path         TEXT NOT NULL,
    route        TEXT NOT NULL,
    reason       TEXT NOT NULL DEFAULT '',
    parser       TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT '',
    attempts     INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    markdown     TEXT,
    metadata     TEXT NOT NULL DEFAULT '{}',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    started_at   INTEGER,
    completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_route ON tasks(route, updated_at DESC);

CREATE TABLE IF NOT EXISTS triage_results (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id               TEXT NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
    document_id           TEXT NOT NULL,
    path                  TEXT NOT NULL,
    page_count            INTEGER NOT NULL,
    language              TEXT,
    scanned               INTEGER NOT NULL,
    image_only_pages      INTEGER NOT NULL,
    image_only_page_ratio REAL NOT NULL,
    route                 TEXT NOT NULL,
    parser                TEXT,
    reason                TEXT NOT NULL DEFAULT '',
    policy                TEXT NOT NULL DEFAULT '',
    rule                  TEXT NOT NULL DEFAULT '',
    hint                  TEXT NOT NULL DEFAULT '',
    created_at            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_triage_task ON triage_results(task_id);
`

// Task is the persisted view of one submitted document.
type Task struct {
	TaskID      string               `json:"task_id"`
	DocumentID  string               `json:"document_id"`
	Path        string               `json:"path"`
	Route       triage.Route         `json:"route"`
	Reason      string               `json:"reason,omitempty"`
	Parser      string               `json:"parser,omitempty"`
	Status      document.ParseStatus `json:"status,omitempty"`
	Attempts    int                  `json:"attempts"`
	Error       string               `json:"error,omitempty"`
	Markdown    *string              `json:"markdown,omitempty"`
	Metadata    map[string]string    `json:"metadata,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// TriageRecord is one stored triage outcome.
type TriageRecord struct {
	ID         int64         `json:"id"`
	TaskID     string        `json:"task_id"`
	DocumentID string        `json:"document_id"`
	Path       string        `json:"path"`
	Result     triage.Result `json:"result"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Store reads and writes tasks.
type Store struct {
	db *sql.DB
}

// New returns a store on db. Call EnsureSchema once at startup.
func New(db *sql.DB) *Store { return &Store{db: db} }

// EnsureSchema creates the tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// Submit records a new task with its triage result and runs enqueue in the
// same transaction. A task_id that is already recorded yields a
// *document.ConflictError.
func (s *Store) Submit(ctx context.Context, rec TriageRecord, enqueue func(*sql.Tx) error) error {
	now := time.Now().UnixMilli()
	d := rec.Result.Decision
	md := rec.Result.Metadata

	var parserJSON sql.NullString
	if len(d.Parser) > 0 {
		b, err := json.Marshal(d.Parser)
		if err != nil {
			return fmt.Errorf("store: encode parser: %w", err)
		}
		parserJSON = sql.NullString{String: string(b), Valid: true}
	}
	var lang sql.NullString
	if md.Language != "" {
		lang = sql.NullString{String: md.Language, Valid: true}
	}

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (task_id, document_id, path, route, reason, parser, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			rec.TaskID, rec.DocumentID, rec.Path, string(d.Route), d.Reason, d.ParserKind(), now, now)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return &document.ConflictError{Kind: "task", ID: rec.TaskID}
			}
			return fmt.Errorf("store: insert task %s: %w", rec.TaskID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO triage_results (
				task_id, document_id, path, page_count, language, scanned,
				image_only_pages, image_only_page_ratio, route, parser,
				reason, policy, rule, hint, created_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			rec.TaskID, rec.DocumentID, rec.Path, md.PageCount, lang, md.Scanned,
			md.ImageOnlyPages, md.ImageOnlyPageRatio, string(d.Route), parserJSON,
			d.Reason, d.Policy, d.Rule, d.Hint, now)
		if err != nil {
			return fmt.Errorf("store: insert triage %s: %w", rec.TaskID, err)
		}
		if enqueue != nil {
			return enqueue(tx)
		}
		return nil
	})
}

// SaveRun stores the outcome of a parse attempt.
func (s *Store) SaveRun(ctx context.Context, task *document.ParsingTask, attempts int) error {
	var markdown sql.NullString
	metadata := "{}"
	if doc := task.Document(); doc != nil {
		if md, ok := doc.Markdown(); ok {
			markdown = sql.NullString{String: md, Valid: true}
		}
		if meta := doc.Metadata(); len(meta) > 0 {
			b, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("store: encode metadata: %w", err)
			}
			metadata = string(b)
		}
	}
	id := string(task.Request().TaskID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, attempts = ?, error = ?, markdown = ?, metadata = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE task_id = ?`,
		string(task.Status()), attempts, task.ErrorMessage(), markdown, metadata,
		millis(task.StartedAt()), millis(task.CompletedAt()), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: save run %s: %w", id, err)
	}
	return mustAffect(res, id)
}

// RecordAttempt stores the attempt count and error of a parse attempt that
// will be retried. Status and output are left untouched.
func (s *Store) RecordAttempt(ctx context.Context, taskID string, attempts int, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET attempts = ?, error = ?, updated_at = ? WHERE task_id = ?`,
		attempts, errMsg, time.Now().UnixMilli(), taskID)
	if err != nil {
		return fmt.Errorf("store: record attempt %s: %w", taskID, err)
	}
	return mustAffect(res, taskID)
}

// MarkDeadLettered moves a task to the dlq route with reason.
func (s *Store) MarkDeadLettered(ctx context.Context, taskID, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET route = ?, reason = ?, updated_at = ? WHERE task_id = ?`,
		string(triage.RouteDLQ), reason, time.Now().UnixMilli(), taskID)
	if err != nil {
		return fmt.Errorf("store: dead-letter %s: %w", taskID, err)
	}
	return mustAffect(res, taskID)
}

// GetTask returns the task with id, or a *document.NotFoundError.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var (
		t                  Task
		route, status      string
		markdown           sql.NullString
		metadata           string
		created, updated   int64
		started, completed sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, document_id, path, route, reason, parser, status, attempts, error,
		       markdown, metadata, created_at, updated_at, started_at, completed_at
		FROM tasks WHERE task_id = ?`, id).
		Scan(&t.TaskID, &t.DocumentID, &t.Path, &route, &t.Reason, &t.Parser, &status, &t.Attempts, &t.Error,
			&markdown, &metadata, &created, &updated, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &document.NotFoundError{Path: "task " + id}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task %s: %w", id, err)
	}
	t.Route = triage.Route(route)
	t.Status = document.ParseStatus(status)
	if markdown.Valid {
		t.Markdown = &markdown.String
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode metadata %s: %w", id, err)
		}
	}
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	t.StartedAt = fromMillis(started)
	t.CompletedAt = fromMillis(completed)
	return &t, nil
}

// ListTriage returns stored triage results, newest first. A non-empty
// route keeps only that route.
func (s *Store) ListTriage(ctx context.Context, route triage.Route, limit int) ([]TriageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, task_id, document_id, path, page_count, language, scanned,
	             image_only_pages, image_only_page_ratio, route, parser,
	             reason, policy, rule, hint, created_at
	      FROM triage_results`
	args := []any{}
	if route != "" {
		q += " WHERE route = ?"
		args = append(args, string(route))
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list triage: %w", err)
	}
	defer rows.Close()

	out := []TriageRecord{}
	for rows.Next() {
		var (
			r          TriageRecord
			lang       sql.NullString
			parserJSON sql.NullString
			route      string
			created    int64
		)
		md := &r.Result.Metadata
		d := &r.Result.Decision
		if err := rows.Scan(&r.ID, &r.TaskID, &r.DocumentID, &r.Path, &md.PageCount, &lang, &md.Scanned,
			&md.ImageOnlyPages, &md.ImageOnlyPageRatio, &route, &parserJSON,
			&d.Reason, &d.Policy, &d.Rule, &d.Hint, &created); err != nil {
			return nil, fmt.Errorf("store: scan triage: %w", err)
		}
		md.Language = lang.String
		d.Route = triage.Route(route)
		if parserJSON.Valid {
			if err := json.Unmarshal([]byte(parserJSON.String), &d.Parser); err != nil {
				return nil, fmt.Errorf("store: decode parser %d: %w", r.ID, err)
			}
		}
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func millis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func mustAffect(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &document.NotFoundError{Path: "task " + id}
	}
	return nil
}
