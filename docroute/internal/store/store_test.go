package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/hazyhaar/docroute/dbopen"
	"github.com/hazyhaar/docroute/docroute/internal/store"
	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/queue"
	"github.com/hazyhaar/docroute/triage"
)

func newStore(t *testing.T) (*store.Store, *sql.DB) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := store.New(db)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s, db
}

func parseRecord(taskID string) store.TriageRecord {
	return store.TriageRecord{
		TaskID:     taskID,
		DocumentID: "doc-" + taskID,
		Path:       "/inbox/" + taskID + ".pdf",
		Result: triage.Result{
			Metadata: triage.Metadata{PageCount: 3, Language: "fr"},
			Decision: triage.Decision{
				Route:  triage.RouteParse,
				Parser: map[string]any{"kind": "text"},
				Policy: "default",
				Rule:   "text_layer",
			},
		},
	}
}

func dlqRecord(taskID string) store.TriageRecord {
	return store.TriageRecord{
		TaskID:     taskID,
		DocumentID: "doc-" + taskID,
		Path:       "/inbox/" + taskID + ".pdf",
		Result: triage.Result{
			Metadata: triage.Metadata{PageCount: 2, Scanned: true, ImageOnlyPages: 2, ImageOnlyPageRatio: 1},
			Decision: triage.Decision{
				Route:  triage.RouteDLQ,
				Reason: "scanned_requires_ocr",
				Policy: "default",
			},
		},
	}
}

func TestSubmit_GetTask(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if err := s.Submit(ctx, parseRecord("t1"), nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	task, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Route != triage.RouteParse || task.Parser != "text" {
		t.Errorf("route/parser = %s/%s", task.Route, task.Parser)
	}
	if task.Status != "" {
		t.Errorf("status = %q, want empty before the first run", task.Status)
	}
	if task.Markdown != nil {
		t.Errorf("markdown = %q, want nil", *task.Markdown)
	}
	if task.CreatedAt.IsZero() || task.StartedAt != nil {
		t.Errorf("timestamps: created=%v started=%v", task.CreatedAt, task.StartedAt)
	}
}

func TestSubmit_EnqueueInSameTx(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()
	q := queue.New(db, queue.Options{Name: queue.Parse})
	if err := q.EnsureTable(ctx); err != nil {
		t.Fatal(err)
	}

	rec := parseRecord("t1")
	err := s.Submit(ctx, rec, func(tx *sql.Tx) error {
		return q.PublishTx(ctx, tx, queue.FromResult(rec.TaskID, rec.DocumentID, rec.Path, rec.Result))
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Errorf("queue len = %d, want 1", n)
	}
}

func TestSubmit_EnqueueFailureRollsBack(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Submit(ctx, parseRecord("t1"), func(*sql.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := s.GetTask(ctx, "t1"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("task survived rollback: %v", err)
	}
	recs, err := s.ListTriage(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("triage rows = %d, want 0", len(recs))
	}
}

func TestSubmit_DuplicateTask(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if err := s.Submit(ctx, parseRecord("t1"), nil); err != nil {
		t.Fatal(err)
	}
	err := s.Submit(ctx, parseRecord("t1"), nil)
	if !errors.Is(err, document.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	var ce *document.ConflictError
	if !errors.As(err, &ce) || ce.ID != "t1" {
		t.Fatalf("err = %#v", err)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.GetTask(context.Background(), "missing")
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func runTask(t *testing.T, taskID string, fail bool) *document.ParsingTask {
	t.Helper()
	src, err := document.NewSource("/inbox/"+taskID+".pdf", document.SourceLocalFile, "application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	req, err := document.NewParsingRequest(document.TaskID(taskID), src, document.DefaultParseOptions())
	if err != nil {
		t.Fatal(err)
	}
	task := document.NewParsingTask(req)
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	if fail {
		if err := task.Fail("no text extracted"); err != nil {
			t.Fatal(err)
		}
		return task
	}
	content, err := document.FromMarkdown("# Title\n\nbody\n")
	if err != nil {
		t.Fatal(err)
	}
	doc, err := document.NewDocument(document.DocumentID("doc-"+taskID), src, content, map[string]string{"title": "Title"})
	if err != nil {
		t.Fatal(err)
	}
	if err := task.Complete(doc); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestSaveRun_Succeeded(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if err := s.Submit(ctx, parseRecord("t1"), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(ctx, runTask(t, "t1", false), 1); err != nil {
		t.Fatalf("save: %v", err)
	}
	task, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != document.StatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", task.Status)
	}
	if task.Markdown == nil || *task.Markdown != "# Title\n\nbody\n" {
		t.Errorf("markdown = %v", task.Markdown)
	}
	if task.Metadata["title"] != "Title" {
		t.Errorf("metadata = %v", task.Metadata)
	}
	if task.Attempts != 1 || task.StartedAt == nil || task.CompletedAt == nil {
		t.Errorf("attempts=%d started=%v completed=%v", task.Attempts, task.StartedAt, task.CompletedAt)
	}
}

func TestSaveRun_Failed(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if err := s.Submit(ctx, parseRecord("t1"), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(ctx, runTask(t, "t1", true), 2); err != nil {
		t.Fatal(err)
	}
	task, _ := s.GetTask(ctx, "t1")
	if task.Status != document.StatusFailed || task.Error != "no text extracted" {
		t.Errorf("status=%s error=%q", task.Status, task.Error)
	}
	if task.Markdown != nil {
		t.Error("failed run should store no markdown")
	}
}

func TestRecordAttempt_KeepsStatus(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if err := s.Submit(ctx, parseRecord("t1"), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordAttempt(ctx, "t1", 1, "engine busy"); err != nil {
		t.Fatal(err)
	}
	task, _ := s.GetTask(ctx, "t1")
	if task.Status != "" || task.Attempts != 1 || task.Error != "engine busy" {
		t.Errorf("status=%q attempts=%d error=%q", task.Status, task.Attempts, task.Error)
	}

	if err := s.SaveRun(ctx, runTask(t, "t1", false), 2); err != nil {
		t.Fatal(err)
	}
	task, _ = s.GetTask(ctx, "t1")
	if task.Status != document.StatusSucceeded || task.Attempts != 2 || task.Error != "" {
		t.Errorf("status=%q attempts=%d error=%q", task.Status, task.Attempts, task.Error)
	}
	if err := s.RecordAttempt(ctx, "ghost", 1, "x"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("unknown task: err = %v", err)
	}
}

func TestSaveRun_UnknownTask(t *testing.T) {
	s, _ := newStore(t)
	err := s.SaveRun(context.Background(), runTask(t, "ghost", false), 1)
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkDeadLettered(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if err := s.Submit(ctx, parseRecord("t1"), nil); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDeadLettered(ctx, "t1", "parse_failed: boom"); err != nil {
		t.Fatal(err)
	}
	task, _ := s.GetTask(ctx, "t1")
	if task.Route != triage.RouteDLQ || task.Reason != "parse_failed: boom" {
		t.Errorf("route=%s reason=%q", task.Route, task.Reason)
	}
	if err := s.MarkDeadLettered(ctx, "ghost", "x"); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("unknown task: err = %v", err)
	}
}

func TestListTriage(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	for _, rec := range []store.TriageRecord{parseRecord("a"), dlqRecord("b"), parseRecord("c")} {
		if err := s.Submit(ctx, rec, nil); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListTriage(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].TaskID != "c" {
		t.Errorf("newest first: got %s", all[0].TaskID)
	}

	dlq, err := s.ListTriage(ctx, triage.RouteDLQ, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dlq) != 1 {
		t.Fatalf("dlq len = %d, want 1", len(dlq))
	}
	got := dlq[0].Result
	if got.Metadata.Language != "" || !got.Metadata.Scanned || got.Metadata.ImageOnlyPages != 2 {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if got.Decision.Reason != "scanned_requires_ocr" || got.Decision.Parser != nil {
		t.Errorf("decision = %+v", got.Decision)
	}

	parsed, _ := s.ListTriage(ctx, triage.RouteParse, 1)
	if len(parsed) != 1 || parsed[0].Result.Decision.ParserKind() != "text" {
		t.Errorf("parse route = %+v", parsed)
	}
	if parsed[0].Result.Metadata.Language != "fr" {
		t.Errorf("language = %q", parsed[0].Result.Metadata.Language)
	}
}
