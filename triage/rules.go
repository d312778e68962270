package triage

import (
	"maps"
	"slices"
	"strings"

	"github.com/hazyhaar/docroute/document"
)

// When is a rule predicate. Unset fields do not constrain; set fields must
// all hold.
type When struct {
	MinPages  *int     `yaml:"min_pages" json:"min_pages,omitempty"`
	MaxPages  *int     `yaml:"max_pages" json:"max_pages,omitempty"`
	Languages []string `yaml:"languages" json:"languages,omitempty"`
	Scanned   *bool    `yaml:"scanned" json:"scanned,omitempty"`
}

// Validate checks bounds and language entries.
func (w When) Validate() error {
	if w.MinPages != nil && *w.MinPages < 0 {
		return document.Invalid("when.min_pages", "must be >= 0")
	}
	if w.MaxPages != nil && *w.MaxPages < 0 {
		return document.Invalid("when.max_pages", "must be >= 0")
	}
	if w.MinPages != nil && w.MaxPages != nil && *w.MinPages > *w.MaxPages {
		return document.Invalid("when", "min_pages cannot be greater than max_pages")
	}
	if w.Languages != nil && len(w.Languages) == 0 {
		return document.Invalid("when.languages", "cannot be empty")
	}
	for _, lang := range w.Languages {
		if strings.TrimSpace(lang) == "" {
			return document.Invalid("when.languages", "cannot contain blank entries")
		}
	}
	return nil
}

// Matches applies the predicate to md.
func (w When) Matches(md Metadata) bool {
	if w.MinPages != nil && md.PageCount < *w.MinPages {
		return false
	}
	if w.MaxPages != nil && md.PageCount > *w.MaxPages {
		return false
	}
	if w.Scanned != nil && md.Scanned != *w.Scanned {
		return false
	}
	if w.Languages != nil {
		if md.Language == "" {
			return false
		}
		if !slices.ContainsFunc(w.Languages, func(l string) bool { return strings.EqualFold(l, md.Language) }) {
			return false
		}
	}
	return true
}

// Action is what a matching rule (or the default) does.
type Action struct {
	Route  Route          `yaml:"route" json:"route"`
	Parser map[string]any `yaml:"parser" json:"parser,omitempty"`
	Reason string         `yaml:"reason" json:"reason,omitempty"`
}

// Validate enforces: route is parse or dlq; parse needs a parser spec with a
// kind; dlq needs a reason.
func (a Action) Validate() error {
	switch a.Route {
	case RouteParse:
		if len(a.Parser) == 0 {
			return document.Invalid("action.parser", "parser is required when route=parse")
		}
		if _, ok := a.Parser["kind"]; !ok {
			return document.Invalid("action.parser", "parser must include kind")
		}
	case RouteDLQ:
		if strings.TrimSpace(a.Reason) == "" {
			return document.Invalid("action.reason", "reason is required when route=dlq")
		}
	default:
		return document.Invalid("action.route", "must be parse or dlq, got %q", a.Route)
	}
	return nil
}

func (a Action) decision(policy, rule string) Decision {
	return Decision{
		Route:  a.Route,
		Parser: maps.Clone(a.Parser),
		Reason: a.Reason,
		Policy: policy,
		Rule:   rule,
	}
}

// Rule is a named predicate/action pair.
type Rule struct {
	Name   string `yaml:"name" json:"name"`
	When   When   `yaml:"when" json:"when"`
	Action Action `yaml:"action" json:"action"`
}

// Validate checks the name, predicate and action.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return document.Invalid("rule.name", "rule name cannot be empty")
	}
	if err := r.When.Validate(); err != nil {
		return err
	}
	return r.Action.Validate()
}

// RulesConfig is the "rules" policy payload.
type RulesConfig struct {
	Kind    string  `yaml:"kind" json:"kind"`
	Name    string  `yaml:"name" json:"name"`
	Rules   []Rule  `yaml:"rules" json:"rules"`
	Default *Action `yaml:"default" json:"default,omitempty"`
}

// Validate checks the policy name, that at least one rule exists, and every
// rule and the default action.
func (c RulesConfig) Validate() error {
	if c.Kind != "" && c.Kind != KindRules {
		return document.Invalid("kind", "expected %q, got %q", KindRules, c.Kind)
	}
	if strings.TrimSpace(c.Name) == "" {
		return document.Invalid("name", "policy name cannot be empty")
	}
	if len(c.Rules) == 0 {
		return document.Invalid("rules", "rules policy requires at least one rule")
	}
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if c.Default != nil {
		if err := c.Default.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RulesPolicy evaluates rules in declaration order; the first match wins.
// Declaration order is the only tie-break. It is immutable once built.
type RulesPolicy struct {
	name  string
	rules []Rule
	deflt *Action
}

// NewRulesPolicy validates cfg and builds the policy from a copy of it.
func NewRulesPolicy(cfg RulesConfig) (*RulesPolicy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &RulesPolicy{
		name:  cfg.Name,
		rules: make([]Rule, len(cfg.Rules)),
	}
	for i, r := range cfg.Rules {
		r.When.Languages = slices.Clone(r.When.Languages)
		r.Action.Parser = maps.Clone(r.Action.Parser)
		p.rules[i] = r
	}
	if cfg.Default != nil {
		d := *cfg.Default
		d.Parser = maps.Clone(d.Parser)
		p.deflt = &d
	}
	return p, nil
}

// Name returns the policy name stamped on its decisions.
func (p *RulesPolicy) Name() string { return p.name }

func (p *RulesPolicy) Decide(md Metadata) (Decision, bool) {
	for _, r := range p.rules {
		if r.When.Matches(md) {
			return r.Action.decision(p.name, r.Name), true
		}
	}
	if p.deflt != nil {
		return p.deflt.decision(p.name, ""), true
	}
	return Decision{}, false
}
