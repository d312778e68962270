package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/inspect"
	"github.com/hazyhaar/docroute/kit"
)

// ErrNoText is returned by the text adapter when no page yields text.
var ErrNoText = errors.New("parser: no text content found in PDF")

// TextConfig holds the text adapter options.
type TextConfig struct {
	// Reader selects the page reader, as in inspection.kind.
	Reader string `yaml:"reader"`
}

type textParser struct {
	reader inspect.PageReader
	logger *slog.Logger
}

// NewText builds the built-in adapter: one "## Page N" section per page
// that has text. It does no layout analysis.
func NewText(opts map[string]any, logger *slog.Logger) (Parser, error) {
	var cfg TextConfig
	if err := kit.DecodeSpec(opts, &cfg); err != nil {
		return nil, document.Invalid("parser.options", "%v", err)
	}
	reader, err := inspect.NewReader(cfg.Reader)
	if err != nil {
		return nil, document.Invalid("parser.reader", "%v", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &textParser{reader: reader, logger: logger}, nil
}

func (p *textParser) Parse(ctx context.Context, path string) (string, error) {
	pages, err := p.reader.Open(path)
	if err != nil {
		return "", &document.IOError{Op: "open", Path: path, Err: err}
	}
	defer pages.Close()

	var sb strings.Builder
	for n := 1; n <= pages.Count(); n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := pages.Text(n)
		if err != nil {
			p.logger.Debug("text parser: page skipped", "page", n, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## Page %d\n\n%s\n", n, text)
	}
	if sb.Len() == 0 {
		return "", ErrNoText
	}
	return sb.String(), nil
}
