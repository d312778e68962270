package document

import (
	"errors"
	"testing"
)

func newTask(t *testing.T) *ParsingTask {
	t.Helper()
	req, err := NewParsingRequest("task-1", testSource(t), DefaultParseOptions())
	if err != nil {
		t.Fatal(err)
	}
	return NewParsingTask(req)
}

func markdownDoc(t *testing.T) *Document {
	t.Helper()
	c, _ := FromMarkdown("# doc")
	doc, err := NewDocument("doc-1", testSource(t), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestTransitionTable(t *testing.T) {
	all := []ParseStatus{StatusReceived, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled}
	legal := map[[2]ParseStatus]bool{
		{StatusReceived, StatusRunning}:   true,
		{StatusReceived, StatusCancelled}: true,
		{StatusRunning, StatusSucceeded}:  true,
		{StatusRunning, StatusFailed}:     true,
		{StatusRunning, StatusCancelled}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != legal[[2]ParseStatus{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
	for _, s := range []ParseStatus{StatusSucceeded, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StatusRunning.Terminal() {
		t.Error("running is not terminal")
	}
}

func TestTask_HappyPath(t *testing.T) {
	task := newTask(t)
	if task.Status() != StatusReceived {
		t.Fatalf("initial status = %s", task.Status())
	}
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	if task.StartedAt().IsZero() {
		t.Fatal("StartedAt not recorded")
	}
	doc := markdownDoc(t)
	if err := task.Complete(doc); err != nil {
		t.Fatal(err)
	}
	if task.Status() != StatusSucceeded || task.Document() != doc {
		t.Fatalf("status = %s, document attached = %v", task.Status(), task.Document() == doc)
	}
	if task.CompletedAt().IsZero() {
		t.Fatal("CompletedAt not recorded")
	}
}

func TestTask_StartTwice(t *testing.T) {
	task := newTask(t)
	if err := task.Start(); err != nil {
		t.Fatal(err)
	}
	err := task.Start()
	var ite *IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("second Start: got %v, want IllegalTransitionError", err)
	}
	if ite.From != StatusRunning || ite.To != StatusRunning {
		t.Fatalf("error = %+v", ite)
	}
	if !errors.Is(err, ErrValidation) || !errors.Is(err, ErrIllegalTransition) {
		t.Fatal("illegal transition must classify as validation + illegal transition")
	}
}

func TestTask_CompleteFromReceived(t *testing.T) {
	task := newTask(t)
	if err := task.Complete(markdownDoc(t)); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("got %v", err)
	}
	if task.Status() != StatusReceived || task.Document() != nil {
		t.Fatal("rejected transition mutated the task")
	}
}

func TestTask_Fail(t *testing.T) {
	task := newTask(t)
	if err := task.Fail("boom"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("Fail from received: got %v", err)
	}
	_ = task.Start()
	if err := task.Fail("  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("Fail blank: got %v", err)
	}
	if task.Status() != StatusRunning {
		t.Fatal("blank message must not move the task")
	}
	if err := task.Fail("parser crashed"); err != nil {
		t.Fatal(err)
	}
	if task.ErrorMessage() != "parser crashed" || task.CompletedAt().IsZero() {
		t.Fatalf("msg = %q", task.ErrorMessage())
	}
	if err := task.Cancel(); err == nil {
		t.Fatal("cancel after failure must fail")
	}
}

func TestTask_Cancel(t *testing.T) {
	received := newTask(t)
	if err := received.Cancel(); err != nil {
		t.Fatalf("cancel from received: %v", err)
	}
	running := newTask(t)
	_ = running.Start()
	if err := running.Cancel(); err != nil {
		t.Fatalf("cancel from running: %v", err)
	}
	if running.Status() != StatusCancelled || running.CompletedAt().IsZero() {
		t.Fatal("cancel not recorded")
	}
	if err := running.Start(); err == nil {
		t.Fatal("start after cancel must fail")
	}
}

func TestParsingRequest_Validation(t *testing.T) {
	src := testSource(t)
	if _, err := NewParsingRequest("", src, DefaultParseOptions()); err == nil {
		t.Fatal("expected error for empty task id")
	}
	opts := DefaultParseOptions()
	opts.LanguageHint = " "
	if _, err := NewParsingRequest("t", src, opts); err == nil {
		t.Fatal("expected error for blank language hint")
	}
	opts.LanguageHint = "fr"
	req, err := NewParsingRequest("t", src, opts)
	if err != nil {
		t.Fatal(err)
	}
	if req.RequestedAt.IsZero() || !req.Options.ExtractTables {
		t.Fatalf("request = %+v", req)
	}
}
