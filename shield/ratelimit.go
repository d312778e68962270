package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the rate limit for a single endpoint.
type RateLimitConfig struct {
	MaxRequests   int
	WindowSeconds int
	Enabled       bool
}

func (c RateLimitConfig) window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint fixed-window limiting backed by
// the rate_limits table. A rule for "GET /v1/tasks" also covers
// "GET /v1/tasks/t1/events"; the longest matching rule wins.
type RateLimiter struct {
	db      *sql.DB
	logger  *slog.Logger
	rules   map[string]RateLimitConfig
	buckets sync.Map
	mu      sync.RWMutex
	exclude []string
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter and loads its rules once.
func NewRateLimiter(db *sql.DB, logger *slog.Logger, excludePrefixes ...string) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		db:      db,
		logger:  logger,
		rules:   make(map[string]RateLimitConfig),
		exclude: excludePrefixes,
		now:     time.Now,
	}
	rl.Reload(context.Background())
	return rl
}

// StartReloader reloads rules every minute and drops expired buckets every
// five, until ctx ends.
func (rl *RateLimiter) StartReloader(ctx context.Context) {
	reloadTick := time.NewTicker(time.Minute)
	gcTick := time.NewTicker(5 * time.Minute)
	go func() {
		defer reloadTick.Stop()
		defer gcTick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadTick.C:
				rl.Reload(ctx)
			case <-gcTick.C:
				rl.gc()
			}
		}
	}()
}

// Reload replaces the rules with the table contents. On error the previous
// rules stay in force.
func (rl *RateLimiter) Reload(ctx context.Context) {
	rows, err := rl.db.QueryContext(ctx, `SELECT endpoint, max_requests, window_seconds, enabled FROM rate_limits`)
	if err != nil {
		rl.logger.Warn("ratelimit: failed to reload rules", "error", err)
		return
	}
	defer rows.Close()

	rules := make(map[string]RateLimitConfig)
	for rows.Next() {
		var endpoint string
		var cfg RateLimitConfig
		var enabled int
		if err := rows.Scan(&endpoint, &cfg.MaxRequests, &cfg.WindowSeconds, &enabled); err != nil {
			continue
		}
		cfg.Enabled = enabled == 1 && cfg.MaxRequests > 0 && cfg.WindowSeconds > 0
		rules[endpoint] = cfg
	}
	if err := rows.Err(); err != nil {
		rl.logger.Warn("ratelimit: failed to reload rules", "error", err)
		return
	}

	rl.mu.Lock()
	rl.rules = rules
	rl.mu.Unlock()
	rl.logger.Debug("ratelimit: rules reloaded", "count", len(rules))
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// match returns the longest rule covering method and path.
func (rl *RateLimiter) match(method, path string) (string, RateLimitConfig, bool) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	var (
		best    string
		bestCfg RateLimitConfig
	)
	for endpoint, cfg := range rl.rules {
		m, p, ok := strings.Cut(endpoint, " ")
		if !ok || m != method {
			continue
		}
		if path != p && !strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			continue
		}
		if len(endpoint) > len(best) {
			best, bestCfg = endpoint, cfg
		}
	}
	return best, bestCfg, best != ""
}

// allow reports whether the request fits its window, and if not, how long
// until the window resets.
func (rl *RateLimiter) allow(ip, method, path string) (bool, time.Duration) {
	endpoint, cfg, ok := rl.match(method, path)
	if !ok || !cfg.Enabled {
		return true, 0
	}

	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip+"|"+endpoint, &bucket{resetAt: now.Add(cfg.window())})
	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(cfg.window())
	}
	b.count++
	if b.count <= cfg.MaxRequests {
		return true, 0
	}
	return false, b.resetAt.Sub(now)
}

// Middleware answers 429 with a JSON error once a client exceeds its window.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		ip := ExtractIP(r)
		ok, wait := rl.allow(ip, r.Method, r.URL.Path)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		rl.logger.Warn("ratelimit: request blocked", "ip", ip, "method", r.Method, "path", r.URL.Path)
		secs := int(wait.Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
