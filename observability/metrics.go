// Package observability records what the docroute service did, in SQLite
// tables next to its tasks: business events per task, timeseries metrics
// and worker heartbeats. Call Init on the database first.
//
// Metric writes are buffered and flushed in batches. A full buffer drops
// datapoints instead of slowing the pipeline.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by the service.
const (
	MetricDocumentsRouted = "documents_routed"
	MetricTriagePages     = "triage_page_count"
	MetricParseDurationMs = "parse_duration_ms"
	MetricParseChars      = "parse_markdown_chars"
	MetricQueueDepth      = "queue_depth"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"`
}

// MetricsConfig configures a MetricsManager.
type MetricsConfig struct {
	// BatchSize triggers a flush when reached. Default: 100.
	BatchSize int
	// MaxBuffered caps unflushed datapoints. Default: 10 * BatchSize.
	MaxBuffered int
	// FlushInterval flushes a partial batch. Default: 5s.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

func (c *MetricsConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxBuffered < c.BatchSize {
		c.MaxBuffered = 10 * c.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// MetricsManager buffers metrics and flushes them to metrics_timeseries.
type MetricsManager struct {
	db      *sql.DB
	cfg     MetricsConfig
	mu      sync.Mutex
	buffer  []Metric
	dropped int
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewMetricsManager starts the background flusher. Close stops it.
func NewMetricsManager(db *sql.DB, cfg MetricsConfig) *MetricsManager {
	cfg.defaults()
	mm := &MetricsManager{
		db:     db,
		cfg:    cfg,
		buffer: make([]Metric, 0, cfg.BatchSize),
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues m. It never blocks on the database.
func (mm *MetricsManager) Record(m Metric) {
	if mm == nil {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	if len(mm.buffer) >= mm.cfg.MaxBuffered {
		mm.dropped++
		mm.mu.Unlock()
		return
	}
	mm.buffer = append(mm.buffer, m)
	full := len(mm.buffer) >= mm.cfg.BatchSize
	mm.mu.Unlock()
	if full {
		select {
		case mm.kick <- struct{}{}:
		default:
		}
	}
}

// Observe records a labelled value.
func (mm *MetricsManager) Observe(name string, value float64, unit string, labels map[string]string) {
	mm.Record(Metric{Name: name, Value: value, Unit: unit, Labels: labels})
}

// Count records one occurrence of name.
func (mm *MetricsManager) Count(name string, labels map[string]string) {
	mm.Observe(name, 1, "count", labels)
}

// Dropped returns how many datapoints were discarded on a full buffer.
func (mm *MetricsManager) Dropped() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.dropped
}

// MetricQuery selects datapoints. Zero fields are unbounded.
type MetricQuery struct {
	Name  string
	Since time.Time
	Until time.Time
	Limit int
}

// Query returns flushed datapoints, newest first.
func (mm *MetricsManager) Query(ctx context.Context, mq MetricQuery) ([]Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	var args []any
	if mq.Name != "" {
		q += " AND metric_name = ?"
		args = append(args, mq.Name)
	}
	if !mq.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, mq.Since.UnixMilli())
	}
	if !mq.Until.IsZero() {
		q += " AND timestamp <= ?"
		args = append(args, mq.Until.UnixMilli())
	}
	q += " ORDER BY timestamp DESC, metric_id DESC"
	if mq.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, mq.Limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	out := []Metric{}
	for rows.Next() {
		var m Metric
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &m.Unit); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		if labels.Valid {
			_ = json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Flush writes buffered datapoints now.
func (mm *MetricsManager) Flush(ctx context.Context) error {
	mm.mu.Lock()
	batch := mm.buffer
	mm.buffer = make([]Metric, 0, mm.cfg.BatchSize)
	mm.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return mm.write(ctx, batch)
}

// Close flushes what is left and stops the flusher.
func (mm *MetricsManager) Close() error {
	close(mm.stop)
	<-mm.done
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mm.Flush(ctx); err != nil {
			mm.cfg.Logger.Error("observability: metrics flush", "error", err)
		}
	}
	for {
		select {
		case <-mm.stop:
			flush()
			return
		case <-ticker.C:
			flush()
		case <-mm.kick:
			flush()
		}
	}
}

func (mm *MetricsManager) write(ctx context.Context, batch []Metric) error {
	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range batch {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", m.Name, err)
		}
	}
	return tx.Commit()
}
