// Package config loads the YAML document that drives the docroute CLI and
// service, applies command-line overrides to it, and turns its sections into
// the objects the pipeline runs with.
//
// Every typed section is decoded strictly: an unknown key is an error.
// Parser and policy sections stay kind-tagged maps here; the parser and
// triage registries decode and validate them when they are built.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/inspect"
	"github.com/hazyhaar/docroute/kit"
	"github.com/hazyhaar/docroute/observability"
)

// Defaults for the identifiers of a single CLI run.
const (
	DefaultTaskID     = "task-1"
	DefaultDocumentID = "doc-1"
	DefaultParserKind = "text"
)

// Config is the top-level document.
type Config struct {
	TaskID     string         `yaml:"task_id" json:"task_id"`
	DocumentID string         `yaml:"document_id" json:"document_id"`
	InputPath  string         `yaml:"input_path,omitempty" json:"input_path,omitempty"`
	OutputPath string         `yaml:"output_path,omitempty" json:"output_path,omitempty"`
	Parser     map[string]any `yaml:"parser" json:"parser"`
	Triage     *TriageConfig  `yaml:"triage,omitempty" json:"triage,omitempty"`
	Inspection inspect.Config `yaml:"inspection" json:"inspection"`
	Logging    LoggingConfig  `yaml:"logging" json:"logging"`
	Server     ServerConfig   `yaml:"server" json:"server"`
}

// TriageConfig lists the policies of the triage chain, in evaluation order.
type TriageConfig struct {
	Policies []map[string]any `yaml:"policies" json:"policies"`
}

// ServerConfig configures `docroute serve`.
type ServerConfig struct {
	Listen   string `yaml:"listen" json:"listen"`
	DBPath   string `yaml:"db_path" json:"db_path"`
	InboxDir string `yaml:"inbox_dir" json:"inbox_dir"`
	// Workers bounds concurrent parse jobs.
	Workers      int           `yaml:"workers" json:"workers"`
	Visibility   time.Duration `yaml:"visibility" json:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// Heartbeat is the worker liveness interval.
	Heartbeat time.Duration                 `yaml:"heartbeat" json:"heartbeat"`
	Retention observability.RetentionConfig `yaml:"retention" json:"retention"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		TaskID:     DefaultTaskID,
		DocumentID: DefaultDocumentID,
		Parser:     map[string]any{"kind": DefaultParserKind},
		Inspection: inspect.DefaultConfig(),
		Logging:    DefaultLogging(),
		Server: ServerConfig{
			Listen:       ":8090",
			DBPath:       "docroute.db",
			InboxDir:     "inbox",
			Workers:      2,
			Visibility:   2 * time.Minute,
			PollInterval: time.Second,
			MaxAttempts:  3,
			Heartbeat:    15 * time.Second,
		},
	}
}

// Load reads the config at path. "-" reads stdin. An empty path or an empty
// document yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	// Parser is a map: leaving the default in place would merge keys.
	cfg.Parser = nil
	if err := decodeStrict(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Parser == nil {
		cfg.Parser = map[string]any{"kind": DefaultParserKind}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStrict(data []byte, out any) error {
	var probe any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	switch probe.(type) {
	case nil:
		return nil
	case map[string]any:
	default:
		return errors.New("config must be a YAML mapping")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// Validate checks every section. It does not require an input path; see
// RequireInput.
func (c *Config) Validate() error {
	if _, err := document.NewTaskID(c.TaskID); err != nil {
		return err
	}
	if _, err := document.NewDocumentID(c.DocumentID); err != nil {
		return err
	}
	if _, err := kit.Kind(c.Parser); err != nil {
		return document.Invalid("parser.kind", "parser kind is required")
	}
	if c.Triage != nil {
		if len(c.Triage.Policies) == 0 {
			return document.Invalid("triage.policies", "triage policies cannot be empty")
		}
		for i, p := range c.Triage.Policies {
			if _, err := kit.Kind(p); err != nil {
				return document.Invalid(fmt.Sprintf("triage.policies[%d].kind", i), "policy kind is required")
			}
		}
	}
	if err := c.Inspection.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return c.Server.Validate()
}

// RequireInput fails when no input path is set.
func (c *Config) RequireInput() error {
	if strings.TrimSpace(c.InputPath) == "" {
		return document.Invalid("input_path", "input_path is required (use --input or config)")
	}
	return nil
}

// Validate checks the server section.
func (s ServerConfig) Validate() error {
	switch {
	case strings.TrimSpace(s.Listen) == "":
		return document.Invalid("server.listen", "cannot be empty")
	case strings.TrimSpace(s.DBPath) == "":
		return document.Invalid("server.db_path", "cannot be empty")
	case strings.TrimSpace(s.InboxDir) == "":
		return document.Invalid("server.inbox_dir", "cannot be empty")
	case s.Workers < 1:
		return document.Invalid("server.workers", "must be >= 1")
	case s.Visibility <= 0:
		return document.Invalid("server.visibility", "must be > 0")
	case s.PollInterval <= 0:
		return document.Invalid("server.poll_interval", "must be > 0")
	case s.MaxAttempts < 1:
		return document.Invalid("server.max_attempts", "must be >= 1")
	case s.RetryDelay < 0:
		return document.Invalid("server.retry_delay", "must be >= 0")
	case s.Heartbeat <= 0:
		return document.Invalid("server.heartbeat", "must be > 0")
	}
	return nil
}

// ParserKind returns the kind of the parser section.
func (c *Config) ParserKind() string {
	kind, _ := kit.Kind(c.Parser)
	return kind
}
