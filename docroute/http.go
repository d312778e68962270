package docroute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/horosafe"
	"github.com/hazyhaar/docroute/idgen"
	"github.com/hazyhaar/docroute/kit"
	"github.com/hazyhaar/docroute/observability"
	"github.com/hazyhaar/docroute/triage"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// Handler returns the HTTP API:
//
//	POST /v1/triage               dry-run triage of {path}
//	POST /v1/documents            submit {path, task_id?, document_id?}
//	GET  /v1/tasks/{id}           stored task
//	GET  /v1/tasks/{id}/events    business events of a task
//	GET  /v1/triage?route=&limit= triage history
//	GET  /v1/dlq?limit=           dead-lettered documents
//	GET  /v1/health               queue depths and worker heartbeat
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/triage", s.handleTriage)
		r.Get("/triage", s.handleTriageHistory)
		r.Post("/documents", s.handleSubmit)
		r.Get("/tasks/{id}", s.handleTask)
		r.Get("/tasks/{id}/events", s.handleTaskEvents)
		r.Get("/dlq", s.handleDLQ)
		r.Get("/health", s.handleHealth)
	})
	return r
}

// requestID tags the request context with transport "http" and a request
// ID, reusing X-Request-ID when the client sent one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if horosafe.ValidateIdentifier(id) != nil {
			id = idgen.Request()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sub, err := s.Triage(r.Context(), req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sub, err := s.Submit(r.Context(), req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

func (s *Service) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Task(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Service) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Task(r.Context(), id); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	events, err := s.TaskEvents(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleTriageHistory(w http.ResponseWriter, r *http.Request) {
	route := triage.Route(r.URL.Query().Get("route"))
	if route != "" && route != triage.RouteParse && route != triage.RouteDLQ {
		writeError(w, http.StatusBadRequest, fmt.Errorf("route must be %s or %s", triage.RouteParse, triage.RouteDLQ))
		return
	}
	recs, err := s.TriageHistory(r.Context(), route, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Service) handleDLQ(w http.ResponseWriter, r *http.Request) {
	out, err := s.DeadLetters(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Health is the body of GET /v1/health.
type Health struct {
	Status     string                         `json:"status"`
	ParseDepth int                            `json:"parse_depth"`
	DLQDepth   int                            `json:"dlq_depth"`
	Worker     *observability.HeartbeatStatus `json:"worker,omitempty"`
}

// Health reports queue depths and the latest worker heartbeat.
func (s *Service) Health(ctx context.Context) (*Health, error) {
	parse, err := s.QueueDepth(ctx)
	if err != nil {
		return nil, err
	}
	dlq, err := s.DeadLetterDepth(ctx)
	if err != nil {
		return nil, err
	}
	h := &Health{Status: "ok", ParseDepth: parse, DLQDepth: dlq}
	hb, err := observability.LatestHeartbeat(ctx, s.cfg.DB, WorkerName, s.cfg.HeartbeatStale)
	if err != nil {
		kit.Logger(ctx, s.logger).Debug("docroute: no heartbeat", "error", err)
		return h, nil
	}
	h.Worker = hb
	if hb != nil && !hb.Alive {
		h.Status = "degraded"
	}
	return h, nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, document.ErrValidation), errors.Is(err, horosafe.ErrPathTraversal):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, document.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
