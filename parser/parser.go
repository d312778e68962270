// Package parser turns a PDF into markdown through pluggable adapters and
// records the outcome on a document.ParsingTask.
//
// Adapters are selected by a kind-tagged spec such as
// {kind: remote, url: "http://docling:5001/v1/convert"}. Package parser
// only reads the kind; every other key belongs to the adapter, which
// decodes and validates it strictly.
package parser

import (
	"context"
	"maps"
	"strings"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/kit"
)

// Parser converts the file at path to markdown.
type Parser interface {
	Parse(ctx context.Context, path string) (string, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, path string) (string, error)

func (f ParserFunc) Parse(ctx context.Context, path string) (string, error) { return f(ctx, path) }

// Config names an adapter and carries its opaque options.
type Config struct {
	Name    string         `yaml:"name" json:"name"`
	Options map[string]any `yaml:"options" json:"options,omitempty"`
}

// Validate checks that the adapter name is set.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return document.Invalid("parser.name", "parser name cannot be empty")
	}
	return nil
}

// FromSpec splits a kind-tagged spec into a Config: kind becomes Name, the
// remaining keys become Options.
func FromSpec(spec map[string]any) (Config, error) {
	kind, err := kit.Kind(spec)
	if err != nil {
		return Config{}, document.Invalid("parser.kind", "parser kind is required")
	}
	opts := maps.Clone(spec)
	delete(opts, "kind")
	return Config{Name: kind, Options: opts}, nil
}

// Spec is the inverse of FromSpec.
func (c Config) Spec() map[string]any {
	spec := maps.Clone(c.Options)
	if spec == nil {
		spec = map[string]any{}
	}
	spec["kind"] = c.Name
	return spec
}
