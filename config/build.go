package config

import (
	"log/slog"

	"github.com/hazyhaar/docroute/inspect"
	"github.com/hazyhaar/docroute/parser"
	"github.com/hazyhaar/docroute/triage"
)

// DefaultTriage is the chain used when the config has no triage section:
// documents with a text layer go to the text parser, the rest to the DLQ.
func DefaultTriage() *TriageConfig {
	return &TriageConfig{Policies: []map[string]any{{
		"kind": triage.KindRules,
		"name": "default",
		"rules": []any{
			map[string]any{
				"name": "text_layer",
				"when": map[string]any{"scanned": false},
				"action": map[string]any{
					"route":  string(triage.RouteParse),
					"parser": map[string]any{"kind": DefaultParserKind},
				},
			},
		},
		"default": map[string]any{
			"route":  string(triage.RouteDLQ),
			"reason": "scanned_requires_ocr",
		},
	}}}
}

// BuildPolicy resolves the triage section through reg.
func (c *Config) BuildPolicy(reg *triage.Registry) (triage.Policy, error) {
	if reg == nil {
		reg = triage.DefaultRegistry()
	}
	t := c.Triage
	if t == nil {
		t = DefaultTriage()
	}
	return reg.BuildChain(t.Policies)
}

// BuildParser resolves the parser section through reg. The adapter is built
// once so option errors surface at load time.
func (c *Config) BuildParser(reg *parser.Registry) (parser.Config, error) {
	pc, err := parser.FromSpec(c.Parser)
	if err != nil {
		return parser.Config{}, err
	}
	if _, err := reg.Create(pc); err != nil {
		return parser.Config{}, err
	}
	return pc, nil
}

// BuildInspector builds the metadata extractor of the inspection section.
func (c *Config) BuildInspector(logger *slog.Logger) (*inspect.Inspector, error) {
	return inspect.Build(c.Inspection, logger)
}

// BuildTriager wires inspector and policy chain into a Triager.
func (c *Config) BuildTriager(reg *triage.Registry, logger *slog.Logger) (*triage.Triager, error) {
	ins, err := c.BuildInspector(logger)
	if err != nil {
		return nil, err
	}
	policy, err := c.BuildPolicy(reg)
	if err != nil {
		return nil, err
	}
	return triage.New(ins, policy, logger), nil
}
