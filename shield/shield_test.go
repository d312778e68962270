package shield

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/docroute/dbopen"
)

var quiet = slog.New(slog.DiscardHandler)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	return db
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func serve(h http.Handler, method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %q", w.Body.String())
	}
	return body["error"]
}

func TestMaintenance_Off(t *testing.T) {
	mm := NewMaintenanceMode(setupDB(t), quiet)
	w := serve(mm.Middleware(okHandler()), "GET", "/v1/dlq", "")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("got %d %q, want 200 OK", w.Code, w.Body.String())
	}
}

func TestMaintenance_On(t *testing.T) {
	db := setupDB(t)
	db.Exec(`UPDATE maintenance SET active = 1, message = 'reindexing' WHERE id = 1`)
	mm := NewMaintenanceMode(db, quiet)

	w := serve(mm.Middleware(okHandler()), "POST", "/v1/documents", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if msg := errorOf(t, w); msg != "reindexing" {
		t.Errorf("error = %q", msg)
	}
	if ra := w.Header().Get("Retry-After"); ra != "300" {
		t.Errorf("Retry-After = %q, want 300", ra)
	}
}

func TestMaintenance_ExcludedPath(t *testing.T) {
	db := setupDB(t)
	db.Exec(`UPDATE maintenance SET active = 1 WHERE id = 1`)
	mm := NewMaintenanceMode(db, quiet, "/v1/health")

	if w := serve(mm.Middleware(okHandler()), "GET", "/v1/health", ""); w.Code != http.StatusOK {
		t.Errorf("health should bypass maintenance, got %d", w.Code)
	}
}

func TestMaintenance_NoTable(t *testing.T) {
	mm := NewMaintenanceMode(dbopen.OpenMemory(t), quiet)
	if mm.Active() {
		t.Error("expected maintenance off when table missing")
	}
	if w := serve(mm.Middleware(okHandler()), "GET", "/", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 when no table, got %d", w.Code)
	}
}

func TestMaintenance_Toggle(t *testing.T) {
	db := setupDB(t)
	mm := NewMaintenanceMode(db, quiet)
	ctx := context.Background()
	if mm.Active() {
		t.Fatal("expected off initially")
	}

	db.Exec(`UPDATE maintenance SET active = 1 WHERE id = 1`)
	mm.Reload(ctx)
	if !mm.Active() {
		t.Fatal("expected on after toggle")
	}
	if mm.Message() != defaultMaintenanceMessage {
		t.Errorf("message = %q", mm.Message())
	}

	db.Exec(`UPDATE maintenance SET active = 0 WHERE id = 1`)
	mm.Reload(ctx)
	if mm.Active() {
		t.Fatal("expected off after second toggle")
	}
}

func TestRateLimit_BlocksAfterMax(t *testing.T) {
	db := setupDB(t)
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds) VALUES ('POST /v1/documents', 2, 60)`)
	rl := NewRateLimiter(db, quiet)
	h := rl.Middleware(okHandler())

	for i := range 2 {
		if w := serve(h, "POST", "/v1/documents", "10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, w.Code)
		}
	}
	w := serve(h, "POST", "/v1/documents", "10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: got %d, want 429", w.Code)
	}
	if msg := errorOf(t, w); msg != "rate limit exceeded" {
		t.Errorf("error = %q", msg)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	if w := serve(h, "POST", "/v1/documents", "10.0.0.2"); w.Code != http.StatusOK {
		t.Errorf("other client: got %d", w.Code)
	}
	if w := serve(h, "GET", "/v1/documents", "10.0.0.1"); w.Code != http.StatusOK {
		t.Errorf("other method: got %d", w.Code)
	}
}

func TestRateLimit_WindowResets(t *testing.T) {
	db := setupDB(t)
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds) VALUES ('GET /v1/dlq', 1, 10)`)
	rl := NewRateLimiter(db, quiet)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(okHandler())

	serve(h, "GET", "/v1/dlq", "1.2.3.4")
	if w := serve(h, "GET", "/v1/dlq", "1.2.3.4"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", w.Code)
	}
	now = now.Add(11 * time.Second)
	if w := serve(h, "GET", "/v1/dlq", "1.2.3.4"); w.Code != http.StatusOK {
		t.Fatalf("after window: got %d", w.Code)
	}

	now = now.Add(time.Minute)
	rl.gc()
	n := 0
	rl.buckets.Range(func(any, any) bool { n++; return true })
	if n != 0 {
		t.Errorf("gc left %d buckets", n)
	}
}

func TestRateLimit_PrefixRules(t *testing.T) {
	db := setupDB(t)
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds) VALUES
		('GET /v1/tasks', 1, 60),
		('GET /v1/tasks/t1/events', 5, 60),
		('GET /v1/triage', 0, 60)`)
	rl := NewRateLimiter(db, quiet)

	cases := []struct {
		path     string
		endpoint string
		found    bool
	}{
		{"/v1/tasks/t2", "GET /v1/tasks", true},
		{"/v1/tasks/t1/events", "GET /v1/tasks/t1/events", true},
		{"/v1/tasksx", "", false},
		{"/v1/dlq", "", false},
	}
	for _, tc := range cases {
		endpoint, _, ok := rl.match("GET", tc.path)
		if ok != tc.found || endpoint != tc.endpoint {
			t.Errorf("match(%s) = %q,%v want %q,%v", tc.path, endpoint, ok, tc.endpoint, tc.found)
		}
	}

	h := rl.Middleware(okHandler())
	for range 3 {
		if w := serve(h, "GET", "/v1/triage", "9.9.9.9"); w.Code != http.StatusOK {
			t.Fatalf("zero max rule should be disabled, got %d", w.Code)
		}
	}
}

func TestRateLimit_Excluded(t *testing.T) {
	db := setupDB(t)
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds) VALUES ('GET /v1/health', 1, 60)`)
	h := NewRateLimiter(db, quiet, "/v1/health").Middleware(okHandler())
	for range 3 {
		if w := serve(h, "GET", "/v1/health", "1.1.1.1"); w.Code != http.StatusOK {
			t.Fatalf("excluded path limited: %d", w.Code)
		}
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if ip := ExtractIP(req); ip != "192.0.2.7" {
		t.Errorf("RemoteAddr ip = %q", ip)
	}
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if ip := ExtractIP(req); ip != "203.0.113.9" {
		t.Errorf("forwarded ip = %q", ip)
	}
}

func TestGuard_Wrap(t *testing.T) {
	db := setupDB(t)
	g := New(db, quiet, "/v1/health")
	h := g.Wrap(okHandler())

	w := serve(h, "GET", "/v1/dlq", "")
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	for k, v := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	db.Exec(`UPDATE maintenance SET active = 1 WHERE id = 1`)
	g.Maintenance.Reload(context.Background())
	if w := serve(h, "GET", "/v1/dlq", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("maintenance: got %d", w.Code)
	}
	if w := serve(h, "GET", "/v1/health", ""); w.Code != http.StatusOK {
		t.Errorf("health during maintenance: got %d", w.Code)
	}
}
