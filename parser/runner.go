package parser

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/kit"
)

// Input is one parse request.
type Input struct {
	Path       string
	Parser     Config
	TaskID     document.TaskID
	DocumentID document.DocumentID
	Options    document.ParseOptions
}

// Runner parses a PDF to markdown and records the run on a ParsingTask.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner returns a Runner that builds parsers from registry.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger}
}

// Run validates the input, builds the parser, and drives a task through
// RECEIVED → RUNNING → SUCCEEDED. When the adapter fails the task is moved
// to FAILED and returned together with the error; when ctx is done first the
// task is CANCELLED instead. Errors raised before the
// task exists return a nil task.
func (r *Runner) Run(ctx context.Context, in Input) (*document.ParsingTask, error) {
	if !strings.EqualFold(filepath.Ext(in.Path), ".pdf") {
		return nil, document.Invalid("path", "file_path must point to a .pdf file: %s", in.Path)
	}
	if err := in.Options.Validate(); err != nil {
		return nil, err
	}
	p, err := r.registry.Create(in.Parser)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(in.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &document.NotFoundError{Path: in.Path}
		}
		return nil, &document.IOError{Op: "stat", Path: in.Path, Err: err}
	}

	ctx = kit.WithDocumentID(kit.WithTaskID(ctx, string(in.TaskID)), string(in.DocumentID))
	log := kit.Logger(ctx, r.logger).With("parser", in.Parser.Name)

	src, err := document.NewSource(in.Path, document.SourceLocalFile, sniffMIME(in.Path))
	if err != nil {
		return nil, err
	}
	req, err := document.NewParsingRequest(in.TaskID, src, in.Options)
	if err != nil {
		return nil, err
	}
	task := document.NewParsingTask(req)

	log.InfoContext(ctx, "parse.start", "path", in.Path)
	if err := task.Start(); err != nil {
		return task, err
	}

	md, err := p.Parse(ctx, in.Path)
	if err == nil && strings.TrimSpace(md) == "" {
		err = errors.New("parser returned empty markdown")
	}
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.WarnContext(ctx, "parse.cancelled", "error", err)
		if cerr := task.Cancel(); cerr != nil {
			return task, errors.Join(err, cerr)
		}
		return task, err
	}
	if err != nil {
		log.ErrorContext(ctx, "parse.failed", "error", err)
		if ferr := task.Fail(err.Error()); ferr != nil {
			return task, errors.Join(err, ferr)
		}
		return task, err
	}

	content, err := document.FromMarkdown(md)
	if err != nil {
		return task, err
	}
	doc, err := document.NewDocument(in.DocumentID, src, content, outlineMetadata(md, in.Parser.Name))
	if err != nil {
		return task, err
	}
	if err := task.Complete(doc); err != nil {
		return task, err
	}
	log.InfoContext(ctx, "parse.complete", "chars", utf8.RuneCountInString(md))
	return task, nil
}

func outlineMetadata(md, parserName string) map[string]string {
	o := ExtractOutline([]byte(md))
	meta := map[string]string{
		"parser":   parserName,
		"headings": strconv.Itoa(len(o.Headings)),
	}
	if o.Title != "" {
		meta["title"] = o.Title
	}
	return meta
}

// sniffMIME reads the file magic; "" when unknown or unreadable.
func sniffMIME(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	head := make([]byte, 261)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return ""
	}
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
