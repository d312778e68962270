package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// DepthFunc reports the current backlog of a worker.
type DepthFunc func(ctx context.Context) (int, error)

// HeartbeatWriter writes periodic liveness rows for a queue worker.
type HeartbeatWriter struct {
	db         *sql.DB
	workerName string
	hostname   string
	pid        int
	interval   time.Duration
	depth      DepthFunc
	logger     *slog.Logger
}

// NewHeartbeatWriter returns a writer for workerName. depth may be nil.
func NewHeartbeatWriter(db *sql.DB, workerName string, interval time.Duration, depth DepthFunc, logger *slog.Logger) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatWriter{
		db:         db,
		workerName: workerName,
		hostname:   hostname,
		pid:        os.Getpid(),
		interval:   interval,
		depth:      depth,
		logger:     logger,
	}
}

// Run writes one heartbeat immediately, then one per interval until ctx is
// done.
func (hw *HeartbeatWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()
	for {
		if err := hw.Beat(ctx); err != nil && ctx.Err() == nil {
			hw.logger.Error("observability: heartbeat write failed", "error", err, "worker", hw.workerName)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Beat writes a single heartbeat row.
func (hw *HeartbeatWriter) Beat(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	depth := 0
	if hw.depth != nil {
		n, err := hw.depth(ctx)
		if err != nil {
			hw.logger.Warn("observability: queue depth unavailable", "error", err, "worker", hw.workerName)
		}
		depth = n
	}
	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			goroutines_count, memory_alloc_mb, queue_depth
		) VALUES (?,?,?,?,?,?,?)`,
		hw.workerName, hw.hostname, hw.pid, time.Now().Unix(),
		runtime.NumGoroutine(), float64(mem.Alloc)/1024/1024, depth)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	return nil
}

// HeartbeatStatus is the latest heartbeat of a worker.
type HeartbeatStatus struct {
	WorkerName      string    `json:"worker_name"`
	Hostname        string    `json:"hostname"`
	PID             int       `json:"pid"`
	Timestamp       time.Time `json:"timestamp"`
	GoroutinesCount int       `json:"goroutines_count"`
	MemoryAllocMB   float64   `json:"memory_alloc_mb"`
	QueueDepth      int       `json:"queue_depth"`
	Alive           bool      `json:"alive"`
}

// LatestHeartbeat returns the newest heartbeat of workerName, or nil when
// none was written. Alive is false once the beat is older than stale.
func LatestHeartbeat(ctx context.Context, db *sql.DB, workerName string, stale time.Duration) (*HeartbeatStatus, error) {
	var hs HeartbeatStatus
	var ts int64
	err := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp,
		       goroutines_count, memory_alloc_mb, queue_depth
		FROM worker_heartbeats
		WHERE worker_name = ?
		ORDER BY timestamp DESC, heartbeat_id DESC LIMIT 1`, workerName).
		Scan(&hs.WorkerName, &hs.Hostname, &hs.PID, &ts, &hs.GoroutinesCount, &hs.MemoryAllocMB, &hs.QueueDepth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}
	hs.Timestamp = time.Unix(ts, 0)
	hs.Alive = time.Since(hs.Timestamp) <= stale
	return &hs, nil
}
