package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultMaintenanceMessage = "docroute is under maintenance"

// MaintenanceMode answers 503 while the maintenance row is active. The flag
// is cached in memory and refreshed by StartReloader. A missing table or row
// means maintenance is off.
type MaintenanceMode struct {
	db      *sql.DB
	logger  *slog.Logger
	active  atomic.Bool
	message atomic.Value // string
	exclude []string
}

// NewMaintenanceMode creates a maintenance switch and reads the flag once.
// Paths under excludePrefixes are never blocked.
func NewMaintenanceMode(db *sql.DB, logger *slog.Logger, excludePrefixes ...string) *MaintenanceMode {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MaintenanceMode{
		db:      db,
		logger:  logger,
		exclude: excludePrefixes,
	}
	m.message.Store(defaultMaintenanceMessage)
	m.Reload(context.Background())
	return m
}

// Active reports whether maintenance mode is currently on.
func (m *MaintenanceMode) Active() bool {
	return m.active.Load()
}

// Message returns the current maintenance message.
func (m *MaintenanceMode) Message() string {
	s, _ := m.message.Load().(string)
	return s
}

// StartReloader re-reads the flag every 5 seconds until ctx ends.
func (m *MaintenanceMode) StartReloader(ctx context.Context) {
	tick := time.NewTicker(5 * time.Second)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				m.Reload(ctx)
			}
		}
	}()
}

// Reload reads the flag from the maintenance table.
func (m *MaintenanceMode) Reload(ctx context.Context) {
	var active int
	var message string
	err := m.db.QueryRowContext(ctx, `SELECT active, message FROM maintenance WHERE id = 1`).Scan(&active, &message)
	if err != nil {
		if m.active.Load() {
			m.logger.Info("maintenance: flag cleared", "error", err)
		}
		m.active.Store(false)
		return
	}

	was := m.active.Load()
	m.active.Store(active == 1)
	if message != "" {
		m.message.Store(message)
	}
	switch {
	case active == 1 && !was:
		m.logger.Warn("maintenance: mode enabled", "message", message)
	case active != 1 && was:
		m.logger.Info("maintenance: mode disabled")
	}
}

// Middleware blocks requests with a 503 JSON error while maintenance is on.
func (m *MaintenanceMode) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.active.Load() {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range m.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Retry-After", "300")
		writeError(w, http.StatusServiceUnavailable, m.Message())
	})
}
