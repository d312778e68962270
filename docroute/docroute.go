// Package docroute is the PDF routing service. It triages submitted
// documents, records the decision, and queues each one on its route:
//
//	Submit → triage.Triager → store (tasks, triage_results)
//	       → queue "parse" → worker → parser.Runner → store
//	       → queue "dlq"
//
// A parse job that keeps failing past MaxAttempts, or fails in a way that
// retrying cannot fix, moves to "dlq" with reason "parse_failed: <msg>".
//
// Usage:
//
//	svc, err := docroute.New(&docroute.Config{DB: db, Triager: t, Parsers: reg})
//	svc.RegisterMCP(mcpServer)
//	http.Handle("/", svc.Handler())
//	svc.Start(ctx)
package docroute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/docroute/docroute/internal/store"
	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/horosafe"
	"github.com/hazyhaar/docroute/idgen"
	"github.com/hazyhaar/docroute/kit"
	"github.com/hazyhaar/docroute/observability"
	"github.com/hazyhaar/docroute/parser"
	"github.com/hazyhaar/docroute/queue"
	"github.com/hazyhaar/docroute/triage"
)

// ServiceName stamps business events.
const ServiceName = "docroute"

// WorkerName identifies the parse worker in worker_heartbeats.
const WorkerName = "docroute-parse"

// Triager decides the route of a document.
type Triager interface {
	Execute(ctx context.Context, in triage.Input) (triage.Result, error)
}

// Config wires a Service. DB, Triager and Parsers are required.
type Config struct {
	DB      *sql.DB
	Triager Triager
	Parsers *parser.Registry

	// InboxDir confines submitted paths. Empty accepts paths as given.
	InboxDir string
	// Workers is the number of concurrent parse jobs. Default: 2.
	Workers int
	// Visibility is the lease of a claimed parse job. Default: 2m.
	Visibility time.Duration
	// PollInterval is the delay between claim rounds. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts is how many times a parse job is tried. Default: 3.
	MaxAttempts int
	// RetryDelay hides a failed job before its next attempt.
	RetryDelay time.Duration
	// HeartbeatStale is the age after which /v1/health reports the worker
	// as down. Default: 1m.
	HeartbeatStale time.Duration

	Events  *observability.EventLogger
	Metrics *observability.MetricsManager
	Logger  *slog.Logger

	NewTaskID     idgen.Generator
	NewDocumentID idgen.Generator
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Visibility <= 0 {
		c.Visibility = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.HeartbeatStale <= 0 {
		c.HeartbeatStale = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NewTaskID == nil {
		c.NewTaskID = idgen.Task
	}
	if c.NewDocumentID == nil {
		c.NewDocumentID = idgen.Document
	}
}

// Service hosts triage, the route queues and the parse worker.
type Service struct {
	cfg     *Config
	store   *store.Store
	parseQ  *queue.Queue
	dlq     *queue.Queue
	runner  *parser.Runner
	events  *observability.EventLogger
	metrics *observability.MetricsManager
	logger  *slog.Logger
}

// New creates the service and its tables.
func New(cfg *Config) (*Service, error) {
	if cfg == nil || cfg.DB == nil {
		return nil, errors.New("docroute: config needs a DB")
	}
	if cfg.Triager == nil {
		return nil, errors.New("docroute: config needs a Triager")
	}
	if cfg.Parsers == nil {
		return nil, errors.New("docroute: config needs a parser registry")
	}
	cfg.defaults()

	s := &Service{
		cfg:     cfg,
		store:   store.New(cfg.DB),
		runner:  parser.NewRunner(cfg.Parsers, cfg.Logger),
		events:  cfg.Events,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	s.dlq = queue.New(cfg.DB, queue.Options{Name: queue.DLQ, Logger: cfg.Logger})
	s.parseQ = queue.New(cfg.DB, queue.Options{
		Name:         queue.Parse,
		Visibility:   cfg.Visibility,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxAttempts,
		RetryDelay:   cfg.RetryDelay,
		DeadLetter:   s.dlq,
		ReasonPrefix: "parse_failed",
		OnDeadLetter: s.onDeadLetter,
		Logger:       cfg.Logger,
	})

	ctx := context.Background()
	if err := s.store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("docroute: store schema: %w", err)
	}
	if err := s.parseQ.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("docroute: queue schema: %w", err)
	}
	return s, nil
}

// SubmitRequest names a document to route. Empty IDs are generated.
type SubmitRequest struct {
	Path       string `json:"path"`
	TaskID     string `json:"task_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// Submission is the triage outcome of one request.
type Submission struct {
	TaskID     string        `json:"task_id"`
	DocumentID string        `json:"document_id"`
	Path       string        `json:"path"`
	Result     triage.Result `json:"result"`
	// Queued is false for a dry-run triage.
	Queued bool `json:"queued"`
}

func (s *Service) input(req SubmitRequest) (triage.Input, error) {
	if req.Path == "" {
		return triage.Input{}, document.Invalid("path", "path is required")
	}
	path := req.Path
	if s.cfg.InboxDir != "" {
		p, err := horosafe.SafePath(s.cfg.InboxDir, req.Path)
		if err != nil {
			return triage.Input{}, err
		}
		path = p
	}
	if req.TaskID == "" {
		req.TaskID = s.cfg.NewTaskID()
	} else if err := horosafe.ValidateIdentifier(req.TaskID); err != nil {
		return triage.Input{}, document.Invalid("task_id", "%v", err)
	}
	if req.DocumentID == "" {
		req.DocumentID = s.cfg.NewDocumentID()
	} else if err := horosafe.ValidateIdentifier(req.DocumentID); err != nil {
		return triage.Input{}, document.Invalid("document_id", "%v", err)
	}
	return triage.Input{
		Path:       path,
		TaskID:     document.TaskID(req.TaskID),
		DocumentID: document.DocumentID(req.DocumentID),
	}, nil
}

// Triage runs triage on req without recording or queueing anything.
func (s *Service) Triage(ctx context.Context, req SubmitRequest) (*Submission, error) {
	in, err := s.input(req)
	if err != nil {
		return nil, err
	}
	res, err := s.cfg.Triager.Execute(ctx, in)
	if err != nil {
		return nil, err
	}
	return &Submission{
		TaskID:     string(in.TaskID),
		DocumentID: string(in.DocumentID),
		Path:       in.Path,
		Result:     res,
	}, nil
}

// Submit triages req, records the task and queues it on its route. The
// task row, the triage row and the queue entry commit together. A task_id
// that was already submitted fails with document.ErrConflict before any
// inspection runs.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	in, err := s.input(req)
	if err != nil {
		return nil, err
	}
	ctx = kit.WithDocumentID(kit.WithTaskID(ctx, string(in.TaskID)), string(in.DocumentID))

	if _, err := s.store.GetTask(ctx, string(in.TaskID)); err == nil {
		return nil, &document.ConflictError{Kind: "task", ID: string(in.TaskID)}
	} else if !errors.Is(err, document.ErrNotFound) {
		return nil, err
	}

	res, err := s.cfg.Triager.Execute(ctx, in)
	if err != nil {
		s.events.Log(ctx, observability.Event{
			Type:    observability.EventTriageFailed,
			Details: map[string]any{"path": in.Path, "error": err.Error()},
		})
		return nil, err
	}

	sub := &Submission{
		TaskID:     string(in.TaskID),
		DocumentID: string(in.DocumentID),
		Path:       in.Path,
		Result:     res,
		Queued:     true,
	}
	dst := s.parseQ
	if res.Decision.Route == triage.RouteDLQ {
		dst = s.dlq
	}
	env := queue.FromResult(sub.TaskID, sub.DocumentID, sub.Path, res)
	rec := store.TriageRecord{TaskID: sub.TaskID, DocumentID: sub.DocumentID, Path: sub.Path, Result: res}
	err = s.store.Submit(ctx, rec, func(tx *sql.Tx) error {
		return dst.PublishTx(ctx, tx, env)
	})
	if err != nil {
		return nil, err
	}

	d := res.Decision
	s.events.Log(ctx, observability.Event{
		Type:    observability.EventTriageDecided,
		Success: true,
		Details: map[string]any{
			"path":       sub.Path,
			"route":      string(d.Route),
			"policy":     d.Policy,
			"rule":       d.Rule,
			"reason":     d.Reason,
			"parser":     d.ParserKind(),
			"page_count": res.Metadata.PageCount,
			"scanned":    res.Metadata.Scanned,
			"language":   res.Metadata.Language,
		},
	})
	s.metrics.Count(observability.MetricDocumentsRouted, map[string]string{"route": string(d.Route), "source": "submit"})
	s.metrics.Observe(observability.MetricTriagePages, float64(res.Metadata.PageCount), "pages", nil)
	kit.Logger(ctx, s.logger).InfoContext(ctx, "docroute: submitted", "route", d.Route, "queue", dst.Name())
	return sub, nil
}

// Task returns the stored task with id.
func (s *Service) Task(ctx context.Context, id string) (*store.Task, error) {
	return s.store.GetTask(ctx, id)
}

// TriageHistory lists recorded triage results, newest first.
func (s *Service) TriageHistory(ctx context.Context, route triage.Route, limit int) ([]store.TriageRecord, error) {
	return s.store.ListTriage(ctx, route, limit)
}

// TaskEvents lists the business events of a task, newest first.
func (s *Service) TaskEvents(ctx context.Context, id string, limit int) ([]observability.Event, error) {
	if s.events == nil {
		return []observability.Event{}, nil
	}
	return s.events.Events(ctx, observability.EventFilter{TaskID: id, Limit: limit})
}

// DeadLetter is a document parked on the dlq route.
type DeadLetter struct {
	TaskID     string    `json:"task_id"`
	DocumentID string    `json:"document_id"`
	Path       string    `json:"path"`
	Reason     string    `json:"reason"`
	Policy     string    `json:"policy,omitempty"`
	Rule       string    `json:"rule,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeadLetters lists the oldest dlq entries without claiming them.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	jobs, err := s.dlq.Peek(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(jobs))
	for _, j := range jobs {
		e := j.Envelope
		out = append(out, DeadLetter{
			TaskID:     e.TaskID,
			DocumentID: e.DocumentID,
			Path:       e.Path,
			Reason:     e.Reason,
			Policy:     e.Policy,
			Rule:       e.Rule,
			EnqueuedAt: e.EnqueuedAt,
		})
	}
	return out, nil
}

// QueueDepth is the number of parse jobs waiting or in flight.
func (s *Service) QueueDepth(ctx context.Context) (int, error) {
	return s.parseQ.Len(ctx)
}

// DeadLetterDepth is the number of dlq entries.
func (s *Service) DeadLetterDepth(ctx context.Context) (int, error) {
	return s.dlq.Len(ctx)
}

// Start runs the parse worker in the background until ctx is done. The
// returned channel closes once in-flight jobs have finished.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	s.logger.Info("docroute: started", "workers", s.cfg.Workers, "inbox", s.cfg.InboxDir)
	return done
}

// Run consumes the parse queue until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.parseQ.Run(kit.WithTransport(ctx, "worker"), s.cfg.Workers, s.handle)
}

func (s *Service) handle(ctx context.Context, job *queue.Job) error {
	env := job.Envelope
	ctx = kit.WithDocumentID(kit.WithTaskID(ctx, env.TaskID), env.DocumentID)
	log := kit.Logger(ctx, s.logger)

	pc, err := parser.FromSpec(env.Parser)
	if err != nil {
		s.parseFailed(ctx, job, "", err)
		return queue.Permanent(err)
	}

	started := time.Now()
	task, err := s.runner.Run(ctx, parser.Input{
		Path:       env.Path,
		Parser:     pc,
		TaskID:     document.TaskID(env.TaskID),
		DocumentID: document.DocumentID(env.DocumentID),
		Options:    document.DefaultParseOptions(),
	})
	elapsed := time.Since(started)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.Info("docroute: parse interrupted", "parser", pc.Name, "attempt", job.Attempts)
		return err
	}
	if task != nil {
		settle := context.WithoutCancel(ctx)
		var serr error
		if err == nil || permanent(err) || job.Attempts >= s.cfg.MaxAttempts {
			serr = s.store.SaveRun(settle, task, job.Attempts)
		} else {
			// Retried: the row keeps its status until the last attempt.
			serr = s.store.RecordAttempt(settle, env.TaskID, job.Attempts, task.ErrorMessage())
		}
		if serr != nil {
			log.Error("docroute: save run failed", "error", serr)
			if err == nil {
				return serr
			}
		}
	}
	labels := map[string]string{"parser": pc.Name}
	s.metrics.Observe(observability.MetricParseDurationMs, float64(elapsed.Milliseconds()), "ms", labels)

	if err != nil {
		s.parseFailed(ctx, job, pc.Name, err)
		if permanent(err) {
			return queue.Permanent(err)
		}
		return err
	}

	md, _ := task.Document().Markdown()
	chars := utf8.RuneCountInString(md)
	s.metrics.Observe(observability.MetricParseChars, float64(chars), "chars", labels)
	s.events.Log(ctx, observability.Event{
		Type:    observability.EventParseSucceeded,
		Success: true,
		Details: map[string]any{
			"parser":      pc.Name,
			"attempt":     job.Attempts,
			"chars":       chars,
			"duration_ms": elapsed.Milliseconds(),
		},
	})
	return nil
}

func (s *Service) parseFailed(ctx context.Context, job *queue.Job, parserName string, err error) {
	s.events.Log(ctx, observability.Event{
		Type: observability.EventParseFailed,
		Details: map[string]any{
			"parser":  parserName,
			"attempt": job.Attempts,
			"error":   err.Error(),
		},
	})
}

// permanent reports parse errors that a later attempt would hit again.
func permanent(err error) bool {
	return errors.Is(err, document.ErrValidation) || errors.Is(err, document.ErrNotFound)
}

func (s *Service) onDeadLetter(ctx context.Context, env queue.Envelope) {
	ctx = kit.WithDocumentID(kit.WithTaskID(ctx, env.TaskID), env.DocumentID)
	if err := s.store.MarkDeadLettered(ctx, env.TaskID, env.Reason); err != nil {
		kit.Logger(ctx, s.logger).Error("docroute: mark dead-lettered failed", "error", err)
	}
	s.events.Log(ctx, observability.Event{
		Type:    observability.EventRouteDeadLettered,
		Details: map[string]any{"reason": env.Reason, "path": env.Path},
	})
	s.metrics.Count(observability.MetricDocumentsRouted, map[string]string{"route": string(triage.RouteDLQ), "source": "worker"})
}
