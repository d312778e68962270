// Package queue holds the route queues of the triage pipeline: "parse" for
// documents waiting for a parser, "dlq" for documents that will not be
// parsed. It is a visibility-timeout queue backed by SQLite.
//
// A claimed row stays invisible for the visibility duration. A consumer
// that succeeds acks (deletes) it. A consumer that fails nacks it with the
// cause. A consumer that crashes lets the lease expire and the row
// reappears. Once a row has been delivered MaxAttempts times, its next
// failure moves it to the DeadLetter queue in the same transaction, with
// Reason "<ReasonPrefix>: <last error>".
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS route_jobs (
//	    id          TEXT NOT NULL,
//	    queue       TEXT NOT NULL,
//	    payload     BLOB NOT NULL,               -- JSON Envelope
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- milliseconds since epoch
//	    created_at  INTEGER NOT NULL,
//	    attempts    INTEGER NOT NULL DEFAULT 0,
//	    last_error  TEXT NOT NULL DEFAULT '',
//	    PRIMARY KEY (queue, id)
//	);
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/docroute/dbopen"
	"github.com/hazyhaar/docroute/triage"
)

// Queue names used by the service.
const (
	Parse = "parse"
	DLQ   = "dlq"
)

// Envelope is the payload of a routed document.
type Envelope struct {
	TaskID     string         `json:"task_id"`
	DocumentID string         `json:"document_id"`
	Path       string         `json:"path"`
	Route      triage.Route   `json:"route"`
	Parser     map[string]any `json:"parser,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Policy     string         `json:"policy,omitempty"`
	Rule       string         `json:"rule,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// FromResult builds the envelope for a triage result.
func FromResult(taskID, documentID, path string, res triage.Result) Envelope {
	d := res.Decision.Clone()
	return Envelope{
		TaskID:     taskID,
		DocumentID: documentID,
		Path:       path,
		Route:      d.Route,
		Parser:     d.Parser,
		Reason:     d.Reason,
		Policy:     d.Policy,
		Rule:       d.Rule,
	}
}

// Job is a claimed row.
type Job struct {
	ID        string
	Queue     string
	Envelope  Envelope
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
	LastError string
}

// Options configures a queue handle.
type Options struct {
	// Name is the logical queue, e.g. Parse or DLQ.
	Name string
	// Visibility is how long a claimed job stays invisible. Default: 2m.
	Visibility time.Duration
	// PollInterval is the delay between claim rounds in Run. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts is how many deliveries a job gets. 0 means unlimited.
	MaxAttempts int
	// RetryDelay hides a nacked job before its next delivery. Default: 0.
	RetryDelay time.Duration
	// DeadLetter receives exhausted jobs. When nil they are dropped.
	DeadLetter *Queue
	// ReasonPrefix prefixes the dead-letter reason. Default: "failed".
	ReasonPrefix string
	// OnDeadLetter runs after a job has been moved to DeadLetter.
	OnDeadLetter func(ctx context.Context, env Envelope)
	Logger       *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ReasonPrefix == "" {
		o.ReasonPrefix = "failed"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is a handle on one logical queue.
type Queue struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Queue {
	opts.defaults()
	return &Queue{db: db, opts: opts}
}

// Name returns the logical queue name.
func (q *Queue) Name() string { return q.opts.Name }

// Schema is the DDL of the route_jobs table.
const Schema = `
CREATE TABLE IF NOT EXISTS route_jobs (
	id          TEXT NOT NULL,
	queue       TEXT NOT NULL,
	payload     BLOB NOT NULL,
	visible_at  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (queue, id)
);
CREATE INDEX IF NOT EXISTS idx_route_jobs_visible ON route_jobs (queue, visible_at);
`

// EnsureTable creates the route_jobs table and index if they don't exist.
func (q *Queue) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

// Publish inserts env as an immediately visible job keyed by env.TaskID.
func (q *Queue) Publish(ctx context.Context, env Envelope) error {
	return publish(ctx, q.db, q.opts.Name, env)
}

// PublishTx is Publish inside tx, so the job only exists if tx commits.
func (q *Queue) PublishTx(ctx context.Context, tx *sql.Tx, env Envelope) error {
	return publish(ctx, tx, q.opts.Name, env)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func publish(ctx context.Context, db execer, queueName string, env Envelope) error {
	if env.TaskID == "" {
		return errors.New("queue: envelope has no task id")
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: encode envelope: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.ExecContext(ctx,
		`INSERT INTO route_jobs (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)`,
		env.TaskID, queueName, payload, now, now,
	)
	if err != nil {
		return fmt.Errorf("queue: publish %s/%s: %w", queueName, env.TaskID, err)
	}
	return nil
}

const claimSQL = `
	UPDATE route_jobs
	SET visible_at = ?, attempts = attempts + 1
	WHERE queue = ? AND id IN (
		SELECT id FROM route_jobs
		WHERE queue = ? AND visible_at <= ?
		ORDER BY visible_at ASC, created_at ASC
		LIMIT ?
	)
	RETURNING id, queue, payload, visible_at, created_at, attempts, last_error`

// Claim picks up to n visible jobs and hides them for the visibility
// duration. It returns an empty slice when nothing is visible.
func (q *Queue) Claim(ctx context.Context, n int) ([]*Job, error) {
	if n <= 0 {
		n = 1
	}
	now := time.Now()
	rows, err := q.db.QueryContext(ctx, claimSQL,
		now.Add(q.opts.Visibility).UnixMilli(), q.opts.Name, q.opts.Name, now.UnixMilli(), n)
	if err != nil {
		return nil, fmt.Errorf("queue: claim %s: %w", q.opts.Name, err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("queue: claim %s: %w", q.opts.Name, err)
	}
	return jobs, nil
}

// Peek lists up to limit jobs, oldest first, without claiming them.
func (q *Queue) Peek(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, queue, payload, visible_at, created_at, attempts, last_error
		FROM route_jobs WHERE queue = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, q.opts.Name, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: peek %s: %w", q.opts.Name, err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	jobs := []*Job{}
	for rows.Next() {
		var j Job
		var payload []byte
		var visAt, creAt int64
		if err := rows.Scan(&j.ID, &j.Queue, &payload, &visAt, &creAt, &j.Attempts, &j.LastError); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &j.Envelope); err != nil {
			return nil, fmt.Errorf("decode envelope %s: %w", j.ID, err)
		}
		j.VisibleAt = time.UnixMilli(visAt)
		j.CreatedAt = time.UnixMilli(creAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// Ack deletes a processed job.
func (q *Queue) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM route_jobs WHERE id = ? AND queue = ?`, id, q.opts.Name)
	return err
}

// Nack records cause and makes the job visible again after RetryDelay.
func (q *Queue) Nack(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	visible := time.Now().Add(q.opts.RetryDelay).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE route_jobs SET visible_at = ?, last_error = ? WHERE id = ? AND queue = ?`,
		visible, msg, id, q.opts.Name)
	return err
}

// Release hands a claimed job back without charging the delivery: it is
// visible again immediately and its attempt count is restored.
func (q *Queue) Release(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE route_jobs SET visible_at = ?, attempts = MAX(attempts - 1, 0) WHERE id = ? AND queue = ?`,
		time.Now().UnixMilli(), id, q.opts.Name)
	return err
}

// Extend pushes the visibility timeout of a claimed job forward.
func (q *Queue) Extend(ctx context.Context, id string, extra time.Duration) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE route_jobs SET visible_at = ? WHERE id = ? AND queue = ?`,
		time.Now().Add(extra).UnixMilli(), id, q.opts.Name)
	return err
}

// Len returns the number of jobs, visible or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM route_jobs WHERE queue = ?`, q.opts.Name).Scan(&n)
	return n, err
}

// Purge deletes every job of the queue.
func (q *Queue) Purge(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM route_jobs WHERE queue = ?`, q.opts.Name)
	return err
}

// DeadLetter moves job to the dead-letter queue with the given cause, or
// drops it when no dead-letter queue is configured.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, cause string) error {
	dst := q.opts.DeadLetter
	if dst == nil {
		q.opts.Logger.Warn("queue: job exhausted, dropping", "queue", q.opts.Name, "id", job.ID, "attempts", job.Attempts, "cause", cause)
		return q.Ack(ctx, job.ID)
	}
	env := job.Envelope
	env.Route = triage.RouteDLQ
	env.Reason = q.opts.ReasonPrefix + ": " + cause
	env.EnqueuedAt = time.Now().UTC()

	err := dbopen.RunTx(ctx, q.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM route_jobs WHERE id = ? AND queue = ?`, job.ID, q.opts.Name); err != nil {
			return err
		}
		return publish(ctx, tx, dst.opts.Name, env)
	})
	if err != nil {
		return fmt.Errorf("queue: dead-letter %s: %w", job.ID, err)
	}
	q.opts.Logger.Warn("queue: job dead-lettered", "queue", q.opts.Name, "id", job.ID, "attempts", job.Attempts, "reason", env.Reason)
	if q.opts.OnDeadLetter != nil {
		q.opts.OnDeadLetter(ctx, env)
	}
	return nil
}

func (q *Queue) exhausted(attempts int) bool {
	return q.opts.MaxAttempts > 0 && attempts >= q.opts.MaxAttempts
}

// Handler processes one job. Return nil to ack, an error to nack, or an
// error wrapped by Permanent to dead-letter without further attempts.
type Handler func(ctx context.Context, job *Job) error

// ErrPermanent matches errors wrapped by Permanent.
var ErrPermanent = errors.New("queue: permanent failure")

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Process runs handler on job and settles it: ack on success, nack on
// failure, dead-letter once the job is out of attempts or the failure is
// permanent. A handler that stops because ctx was cancelled gets its job
// released instead, so a shutdown never costs an attempt.
func (q *Queue) Process(ctx context.Context, job *Job, handler Handler) {
	log := q.opts.Logger
	// A lease that expired after the last allowed delivery.
	if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
		cause := job.LastError
		if cause == "" {
			cause = "visibility timeout expired"
		}
		if err := q.DeadLetter(ctx, job, cause); err != nil {
			log.Error("queue: dead-letter failed", "id", job.ID, "error", err)
		}
		return
	}

	err := handler(ctx, job)
	// Settle with a fresh context so a shutdown does not strand the row.
	settle := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if aerr := q.Ack(settle, job.ID); aerr != nil {
			log.Warn("queue: ack failed", "id", job.ID, "error", aerr)
		}
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		log.Info("queue: handler interrupted, releasing", "queue", q.opts.Name, "id", job.ID, "attempts", job.Attempts)
		if rerr := q.Release(settle, job.ID); rerr != nil {
			log.Warn("queue: release failed", "id", job.ID, "error", rerr)
		}
	case q.exhausted(job.Attempts) || errors.Is(err, ErrPermanent):
		if derr := q.DeadLetter(settle, job, err.Error()); derr != nil {
			log.Error("queue: dead-letter failed", "id", job.ID, "error", derr)
		}
	default:
		log.Warn("queue: handler failed, nacking", "queue", q.opts.Name, "id", job.ID, "attempts", job.Attempts, "error", err)
		if nerr := q.Nack(settle, job.ID, err); nerr != nil {
			log.Warn("queue: nack failed", "id", job.ID, "error", nerr)
		}
	}
}

// Run polls the queue and processes jobs with at most concurrency handlers
// in flight. It blocks until ctx is cancelled, then drains in-flight
// handlers.
func (q *Queue) Run(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	log := q.opts.Logger
	log.Info("queue: consumer started",
		"queue", q.opts.Name,
		"concurrency", concurrency,
		"visibility", q.opts.Visibility,
		"poll", q.opts.PollInterval,
		"max_attempts", q.opts.MaxAttempts,
	)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Info("queue: consumer stopped", "queue", q.opts.Name)
			return
		case <-ticker.C:
		}

		free := concurrency - len(sem)
		if free <= 0 {
			continue
		}
		jobs, err := q.Claim(ctx, free)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("queue: claim failed", "queue", q.opts.Name, "error", err)
			}
			continue
		}
		for _, job := range jobs {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = q.Release(context.WithoutCancel(ctx), job.ID)
				continue
			}
			wg.Add(1)
			go func(j *Job) {
				defer wg.Done()
				defer func() { <-sem }()
				q.Process(ctx, j, handler)
			}(job)
		}
	}
}
