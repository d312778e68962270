package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/hazyhaar/docroute/document"
)

// LevelCritical sits above slog.LevelError.
const LevelCritical = slog.Level(12)

var levelNames = map[string]slog.Level{
	"DEBUG":    slog.LevelDebug,
	"INFO":     slog.LevelInfo,
	"WARNING":  slog.LevelWarn,
	"ERROR":    slog.LevelError,
	"CRITICAL": LevelCritical,
}

// LoggingConfig selects level, format and an optional file sink.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
	// IncludeTracebacks adds the source location to every record.
	IncludeTracebacks bool `yaml:"include_tracebacks" json:"include_tracebacks"`
}

// DefaultLogging is INFO text logs on stderr.
func DefaultLogging() LoggingConfig {
	return LoggingConfig{Level: "INFO", Format: "text", IncludeTracebacks: true}
}

// Validate checks level and format.
func (l LoggingConfig) Validate() error {
	if _, ok := levelNames[strings.ToUpper(l.Level)]; !ok {
		return document.Invalid("logging.level", "must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL")
	}
	if !slices.Contains([]string{"text", "json"}, l.Format) {
		return document.Invalid("logging.format", "must be text or json")
	}
	return nil
}

// SlogLevel returns the slog level for l.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	return levelNames[strings.ToUpper(l.Level)]
}

// NewLogger builds a logger writing to stderr and, when File is set, to that
// file as well. The returned close func releases the file.
func NewLogger(cfg LoggingConfig, stderr io.Writer) (*slog.Logger, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	w := stderr
	closeFn := func() error { return nil }
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		w = io.MultiWriter(stderr, f)
		closeFn = f.Close
	}

	opts := &slog.HandlerOptions{
		Level:       cfg.SlogLevel(),
		AddSource:   cfg.IncludeTracebacks,
		ReplaceAttr: levelName,
	}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closeFn, nil
}

// levelName prints WARNING and CRITICAL instead of slog's WARN and ERROR+4.
func levelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case lvl >= LevelCritical:
		a.Value = slog.StringValue("CRITICAL")
	case lvl >= slog.LevelError:
		a.Value = slog.StringValue("ERROR")
	case lvl >= slog.LevelWarn:
		a.Value = slog.StringValue("WARNING")
	}
	return a
}
