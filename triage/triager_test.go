package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/docroute/document"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fixedInspector(md Metadata, calls *int) Inspector {
	return InspectorFunc(func(string) (Metadata, error) {
		if calls != nil {
			*calls++
		}
		return md, nil
	})
}

func input(path string) Input {
	return Input{Path: path, TaskID: "task-1", DocumentID: "doc-1"}
}

func TestTriager_NotFound(t *testing.T) {
	calls := 0
	tr := New(fixedInspector(Metadata{}, &calls), nil, nil)
	_, err := tr.Execute(context.Background(), input(filepath.Join(t.TempDir(), "missing.pdf")))
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls != 0 {
		t.Fatal("inspector must not run")
	}
}

func TestTriager_WrongExtension(t *testing.T) {
	path := writeFile(t, "doc.txt", []byte("%PDF-1.4"))
	calls := 0
	tr := New(fixedInspector(Metadata{}, &calls), nil, nil)
	_, err := tr.Execute(context.Background(), input(path))
	if !errors.Is(err, document.ErrValidation) || !strings.Contains(err.Error(), ".pdf") {
		t.Fatalf("expected extension error, got %v", err)
	}
	if calls != 0 {
		t.Fatal("inspector must not run")
	}
}

func TestTriager_UppercaseExtension(t *testing.T) {
	path := writeFile(t, "DOC.PDF", []byte("%PDF-1.7\n"))
	tr := New(fixedInspector(Metadata{PageCount: 1}, nil), nil, nil)
	if _, err := tr.Execute(context.Background(), input(path)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestTriager_BadHeader(t *testing.T) {
	cases := map[string][]byte{
		"html":  []byte("<html>"),
		"short": []byte("%P"),
		"empty": nil,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "x.pdf", data)
			calls := 0
			tr := New(fixedInspector(Metadata{}, &calls), nil, nil)
			_, err := tr.Execute(context.Background(), input(path))
			if !errors.Is(err, document.ErrValidation) || !strings.Contains(err.Error(), "%PDF") {
				t.Fatalf("expected header error, got %v", err)
			}
			if calls != 0 {
				t.Fatal("inspector must not run")
			}
		})
	}
}

func TestTriager_EmptyIDs(t *testing.T) {
	path := writeFile(t, "x.pdf", []byte("%PDF-1.4"))
	tr := New(fixedInspector(Metadata{}, nil), nil, nil)
	if _, err := tr.Execute(context.Background(), Input{Path: path, DocumentID: "d"}); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := tr.Execute(context.Background(), Input{Path: path, TaskID: "t"}); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTriager_Fallback(t *testing.T) {
	path := writeFile(t, "x.pdf", []byte("%PDF-1.4"))
	silent := PolicyFunc(func(Metadata) (Decision, bool) { return Decision{}, false })
	for name, policy := range map[string]Policy{"nil": nil, "silent": silent} {
		t.Run(name, func(t *testing.T) {
			res, err := New(fixedInspector(Metadata{PageCount: 2}, nil), policy, nil).Execute(context.Background(), input(path))
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			d := res.Decision
			if d.Route != RouteDLQ || d.Reason != "no_policy_match" || d.Policy != "default" || d.Rule != "" {
				t.Fatalf("decision: %+v", res.Decision)
			}
			if res.Metadata.PageCount != 2 {
				t.Fatalf("metadata: %+v", res.Metadata)
			}
		})
	}
}

func TestTriager_RoutesSmallEnglishToParse(t *testing.T) {
	path := writeFile(t, "x.pdf", []byte("%PDF-1.4"))
	policy, err := NewRulesPolicy(RulesConfig{
		Name: "basic",
		Rules: []Rule{{
			Name:   "small-en",
			When:   When{MaxPages: intp(5), Languages: []string{"en"}},
			Action: mockParse(),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	md := Metadata{PageCount: 3, Language: "en"}
	res, err := New(fixedInspector(md, nil), policy, logger).Execute(context.Background(), input(path))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Decision.Route != RouteParse || res.Decision.Rule != "small-en" {
		t.Fatalf("decision: %+v", res.Decision)
	}

	var msgs []string
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if rec["task_id"] != "task-1" || rec["document_id"] != "doc-1" {
			t.Fatalf("log missing ids: %v", rec)
		}
		msgs = append(msgs, rec["msg"].(string))
	}
	if len(msgs) != 2 || msgs[0] != "triage.start" || msgs[1] != "triage.complete" {
		t.Fatalf("log events: %v", msgs)
	}
}

func TestTriager_InspectorError(t *testing.T) {
	path := writeFile(t, "x.pdf", []byte("%PDF-1.4"))
	boom := &document.IOError{Op: "read", Path: path, Err: errors.New("corrupt")}
	tr := New(InspectorFunc(func(string) (Metadata, error) { return Metadata{}, boom }), nil, nil)
	_, err := tr.Execute(context.Background(), input(path))
	if !errors.Is(err, document.ErrIO) {
		t.Fatalf("expected io error, got %v", err)
	}
}

func TestMetadata_JSONUnknownLanguage(t *testing.T) {
	data, err := json.Marshal(Metadata{PageCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"language":null`) {
		t.Fatalf("json: %s", data)
	}
	data, _ = json.Marshal(Metadata{PageCount: 1, Language: "fr"})
	if !strings.Contains(string(data), `"language":"fr"`) {
		t.Fatalf("json: %s", data)
	}
}
