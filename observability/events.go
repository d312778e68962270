package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docroute/idgen"
	"github.com/hazyhaar/docroute/kit"
)

// Event types written by the service.
const (
	EventTriageDecided     = "triage.decided"
	EventTriageFailed      = "triage.failed"
	EventParseSucceeded    = "parse.succeeded"
	EventParseFailed       = "parse.failed"
	EventRouteDeadLettered = "route.dead_lettered"
)

// Event is a domain-level fact about a task.
type Event struct {
	ID         string         `json:"event_id"`
	Type       string         `json:"event_type"`
	Service    string         `json:"service"`
	TaskID     string         `json:"task_id,omitempty"`
	DocumentID string         `json:"document_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Success    bool           `json:"success"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EventLogger writes business events. Writes never fail the caller: a
// broken event store is logged and otherwise ignored.
type EventLogger struct {
	db      *sql.DB
	service string
	newID   idgen.Generator
	logger  *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLogger sets the slog logger used to report write failures.
func WithEventLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger returns a logger that stamps every event with service.
func NewEventLogger(db *sql.DB, service string, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:      db,
		service: service,
		newID:   idgen.Prefixed("evt_", idgen.UUIDv7()),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records an event. Task, document and request IDs missing from ev are
// taken from ctx.
func (l *EventLogger) Log(ctx context.Context, ev Event) {
	if l == nil || l.db == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = l.newID()
	}
	if ev.TaskID == "" {
		ev.TaskID = kit.GetTaskID(ctx)
	}
	if ev.DocumentID == "" {
		ev.DocumentID = kit.GetDocumentID(ctx)
	}
	if ev.RequestID == "" {
		ev.RequestID = kit.GetRequestID(ctx)
	}
	details := []byte("{}")
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = b
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service, task_id, document_id,
			request_id, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.Type, l.service, ev.TaskID, ev.DocumentID,
		ev.RequestID, string(details), ev.Success, time.Now().UnixMilli())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.Type, "task_id", ev.TaskID)
	}
}

// EventFilter narrows Events. Zero fields match everything.
type EventFilter struct {
	Type   string
	TaskID string
	Limit  int
}

// Events lists events newest first.
func (l *EventLogger) Events(ctx context.Context, f EventFilter) ([]Event, error) {
	q := `SELECT event_id, event_type, service, task_id, document_id, request_id, details, success, created_at
		FROM business_event_logs WHERE 1=1`
	var args []any
	if f.Type != "" {
		q += " AND event_type = ?"
		args = append(args, f.Type)
	}
	if f.TaskID != "" {
		q += " AND task_id = ?"
		args = append(args, f.TaskID)
	}
	q += " ORDER BY created_at DESC, event_id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var ev Event
		var details string
		var created int64
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Service, &ev.TaskID, &ev.DocumentID,
			&ev.RequestID, &details, &ev.Success, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if details != "" && details != "{}" {
			_ = json.Unmarshal([]byte(details), &ev.Details)
		}
		ev.CreatedAt = time.UnixMilli(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RetentionConfig is per-table retention in days. Zero keeps everything.
type RetentionConfig struct {
	EventDays     int `yaml:"event_days" json:"event_days"`
	MetricDays    int `yaml:"metric_days" json:"metric_days"`
	HeartbeatDays int `yaml:"heartbeat_days" json:"heartbeat_days"`
}

// Cleanup deletes rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now()
	targets := []struct {
		query string
		days  int
		unit  func(time.Time) int64
	}{
		{"DELETE FROM business_event_logs WHERE created_at < ?", cfg.EventDays, time.Time.UnixMilli},
		{"DELETE FROM metrics_timeseries WHERE timestamp < ?", cfg.MetricDays, time.Time.UnixMilli},
		{"DELETE FROM worker_heartbeats WHERE timestamp < ?", cfg.HeartbeatDays, time.Time.Unix},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := t.unit(now.AddDate(0, 0, -t.days))
		if _, err := db.ExecContext(ctx, t.query, cutoff); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}
	return nil
}
