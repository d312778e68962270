package parser

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/kit"
)

// DefaultMockMarkdown is what the mock adapter returns when no markdown
// option is given.
const DefaultMockMarkdown = "# Mock\n"

// MockConfig holds the mock adapter options.
type MockConfig struct {
	Markdown string `yaml:"markdown"`
	// Error, when set, makes every Parse fail with this message.
	Error string `yaml:"error"`
}

type mockParser struct {
	cfg MockConfig
}

// NewMock builds the mock adapter. It reads nothing but checks the file
// exists, which is enough for pipeline tests.
func NewMock(opts map[string]any, _ *slog.Logger) (Parser, error) {
	cfg := MockConfig{Markdown: DefaultMockMarkdown}
	if err := kit.DecodeSpec(opts, &cfg); err != nil {
		return nil, document.Invalid("parser.options", "%v", err)
	}
	if cfg.Markdown == "" {
		cfg.Markdown = DefaultMockMarkdown
	}
	return &mockParser{cfg: cfg}, nil
}

func (m *mockParser) Parse(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", &document.IOError{Op: "stat", Path: path, Err: err}
	}
	if m.cfg.Error != "" {
		return "", errors.New(m.cfg.Error)
	}
	return m.cfg.Markdown, nil
}
