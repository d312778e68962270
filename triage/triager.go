package triage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/kit"
)

var pdfMagic = []byte("%PDF")

// Inspector extracts classification metadata from a PDF on disk.
type Inspector interface {
	Inspect(path string) (Metadata, error)
}

// InspectorFunc adapts a function to Inspector.
type InspectorFunc func(path string) (Metadata, error)

func (f InspectorFunc) Inspect(path string) (Metadata, error) { return f(path) }

// Input identifies the document to triage.
type Input struct {
	Path       string              `json:"path"`
	TaskID     document.TaskID     `json:"task_id"`
	DocumentID document.DocumentID `json:"document_id"`
}

// Triager validates, inspects and routes PDFs.
type Triager struct {
	inspector Inspector
	policy    Policy
	logger    *slog.Logger
}

// New creates a Triager. A nil policy routes everything to the fallback.
func New(inspector Inspector, policy Policy, logger *slog.Logger) *Triager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Triager{inspector: inspector, policy: policy, logger: logger}
}

// Execute checks that in.Path exists, has a .pdf extension and starts with
// %PDF, in that order, then inspects it and asks the policy for a route.
func (t *Triager) Execute(ctx context.Context, in Input) (Result, error) {
	if in.TaskID == "" {
		return Result{}, document.Invalid("task_id", "task id cannot be empty")
	}
	if in.DocumentID == "" {
		return Result{}, document.Invalid("document_id", "document id cannot be empty")
	}
	ctx = kit.WithDocumentID(kit.WithTaskID(ctx, string(in.TaskID)), string(in.DocumentID))
	log := kit.Logger(ctx, t.logger)
	log.InfoContext(ctx, "triage.start", "path", in.Path)

	if err := checkPDF(in.Path); err != nil {
		return Result{}, err
	}

	md, err := t.inspector.Inspect(in.Path)
	if err != nil {
		return Result{}, fmt.Errorf("inspect %s: %w", in.Path, err)
	}

	decision, ok := Decision{}, false
	if t.policy != nil {
		decision, ok = t.policy.Decide(md)
	}
	if !ok {
		decision = FallbackDecision()
	}

	log.InfoContext(ctx, "triage.complete",
		"route", decision.Route,
		"policy", decision.Policy,
		"rule", decision.Rule,
		"reason", decision.Reason,
		"page_count", md.PageCount,
		"scanned", md.Scanned,
		"language", md.Language,
	)
	return Result{Metadata: md, Decision: decision}, nil
}

func checkPDF(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document.NotFoundError{Path: path}
	}
	if err != nil {
		return &document.IOError{Op: "stat", Path: path, Err: err}
	}
	if info.IsDir() {
		return document.Invalid("path", "%s is a directory", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return document.Invalid("path", "input file must have a .pdf extension: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return &document.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return &document.IOError{Op: "read", Path: path, Err: err}
	}
	if !bytes.Equal(head[:n], pdfMagic) {
		return document.Invalid("path", "file does not look like a PDF (missing %%PDF header): %s", path)
	}
	return nil
}
