// Package shield guards the docroute HTTP API: security headers, per-client
// rate limiting and a maintenance switch. Rate limit rules and the
// maintenance flag live in SQLite so an operator can change them without a
// restart.
//
//	if err := shield.Init(ctx, db); err != nil { ... }
//	g := shield.New(db, logger, "/v1/health")
//	g.StartReloader(ctx)
//	handler := g.Wrap(router)
package shield

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Guard bundles the middleware stack around a shared database.
type Guard struct {
	Limiter     *RateLimiter
	Maintenance *MaintenanceMode
	Headers     HeaderConfig
}

// New builds a Guard. Paths under exempt skip both the limiter and the
// maintenance switch.
func New(db *sql.DB, logger *slog.Logger, exempt ...string) *Guard {
	return &Guard{
		Limiter:     NewRateLimiter(db, logger, exempt...),
		Maintenance: NewMaintenanceMode(db, logger, exempt...),
		Headers:     DefaultHeaders(),
	}
}

// StartReloader refreshes rules and the maintenance flag until ctx ends.
func (g *Guard) StartReloader(ctx context.Context) {
	g.Limiter.StartReloader(ctx)
	g.Maintenance.StartReloader(ctx)
}

// Wrap applies maintenance, headers and rate limiting, outermost first.
func (g *Guard) Wrap(next http.Handler) http.Handler {
	return g.Maintenance.Middleware(SecurityHeaders(g.Headers)(g.Limiter.Middleware(next)))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
