// Package inspect computes triage metadata for a PDF: page count, how many
// pages are image-only, whether the document counts as scanned, and the
// dominant language of its first pages.
//
// Page access and language detection are collaborators (PageReader,
// LanguageDetector). Per-page failures and detection failures degrade to
// "no text", "no image" and "unknown language"; only failing to open the
// file is an error.
package inspect

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/triage"
)

// PageReader opens a PDF for page-level reads.
type PageReader interface {
	Open(path string) (Pages, error)
}

// Pages is an opened PDF. Page numbers are 1-based.
type Pages interface {
	Count() int
	Text(page int) (string, error)
	HasImage(page int) (bool, error)
	Close() error
}

// LanguageDetector returns a language code for a text sample.
type LanguageDetector interface {
	Detect(text string) (string, error)
}

// Inspector implements triage.Inspector. It holds no mutable state and may
// be shared across goroutines when its reader and detector can.
type Inspector struct {
	cfg      Config
	reader   PageReader
	detector LanguageDetector
	logger   *slog.Logger
}

var _ triage.Inspector = (*Inspector)(nil)

// New validates cfg and returns an Inspector. A nil detector leaves the
// language unknown.
func New(cfg Config, reader PageReader, detector LanguageDetector, logger *slog.Logger) (*Inspector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, document.Invalid("reader", "page reader is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{cfg: cfg, reader: reader, detector: detector, logger: logger}, nil
}

// Config returns the inspector configuration.
func (i *Inspector) Config() Config { return i.cfg }

// Inspect reads every page of the PDF at path.
func (i *Inspector) Inspect(path string) (triage.Metadata, error) {
	pages, err := i.reader.Open(path)
	if err != nil {
		return triage.Metadata{}, &document.IOError{Op: "open", Path: path, Err: err}
	}
	defer pages.Close()

	count := pages.Count()
	imageOnly := 0
	sample := make([]string, 0, min(count, i.cfg.LanguageSamplePages))

	for n := 1; n <= count; n++ {
		text, err := pages.Text(n)
		if err != nil {
			i.logger.Debug("inspect: page text unavailable", "path", path, "page", n, "error", err)
			text = ""
		}
		hasText := utf8.RuneCountInString(strings.TrimSpace(text)) >= i.cfg.MinTextChars

		hasImage, err := pages.HasImage(n)
		if err != nil {
			i.logger.Debug("inspect: page image probe failed", "path", path, "page", n, "error", err)
			hasImage = false
		}
		if !hasText && hasImage {
			imageOnly++
		}
		if n <= i.cfg.LanguageSamplePages {
			sample = append(sample, text)
		}
	}

	ratio := 0.0
	if count > 0 {
		ratio = float64(imageOnly) / float64(count)
	}
	return triage.Metadata{
		PageCount:          count,
		Language:           i.language(strings.Join(sample, " ")),
		Scanned:            ratio >= i.cfg.ScannedPageRatioThreshold,
		ImageOnlyPages:     imageOnly,
		ImageOnlyPageRatio: ratio,
	}, nil
}

func (i *Inspector) language(text string) string {
	sample := strings.TrimSpace(text)
	if i.detector == nil || utf8.RuneCountInString(sample) < i.cfg.LanguageMinChars {
		return ""
	}
	lang, err := i.detector.Detect(sample)
	if err != nil {
		i.logger.Debug("inspect: language unknown", "error", err)
		return ""
	}
	return lang
}

// Build returns an Inspector whose page reader is chosen by cfg.Kind, with
// the whatlanggo detector.
func Build(cfg Config, logger *slog.Logger) (*Inspector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reader, err := NewReader(cfg.Kind)
	if err != nil {
		return nil, err
	}
	ins, err := New(cfg, reader, WhatlangDetector{}, logger)
	if err != nil {
		return nil, fmt.Errorf("inspect: %w", err)
	}
	return ins, nil
}
