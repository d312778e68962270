// Package triage decides whether an incoming PDF goes to the parsing pipeline
// or to the dead-letter queue.
//
// A Triager validates the file, asks an Inspector for classification
// Metadata, then asks a Policy for a Decision. Policies compose: a RulesPolicy
// evaluates named rules in declaration order, a Chain returns the first
// policy that answers. When nothing answers, the Triager emits the fixed
// FallbackDecision, so every valid input gets a route.
//
//	policy, _ := triage.DefaultRegistry().BuildChain(specs)
//	t := triage.New(inspector, policy, logger)
//	res, err := t.Execute(ctx, triage.Input{Path: "in.pdf", TaskID: "t1", DocumentID: "d1"})
package triage

import (
	"encoding/json"
	"maps"
)

// Route is where a triaged document goes next.
type Route string

const (
	RouteParse Route = "parse"
	RouteDLQ   Route = "dlq"
)

// Metadata is the classification summary of one PDF.
type Metadata struct {
	PageCount int `json:"page_count"`
	// Language is a detected language code, "" when unknown.
	Language           string  `json:"language"`
	Scanned            bool    `json:"scanned"`
	ImageOnlyPages     int     `json:"image_only_pages"`
	ImageOnlyPageRatio float64 `json:"image_only_page_ratio"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	type plain Metadata
	out := struct {
		plain
		Language *string `json:"language"`
	}{plain: plain(m)}
	if m.Language != "" {
		lang := m.Language
		out.Language = &lang
	}
	return json.Marshal(out)
}

// Decision is the outcome of a policy. Empty optional strings mean "none".
type Decision struct {
	Route Route `json:"route"`
	// Parser is the parser spec (with a "kind" key) when Route is RouteParse.
	Parser map[string]any `json:"parser,omitempty"`
	Reason string         `json:"reason,omitempty"`
	// Policy names the policy or rule set that produced the decision.
	Policy string `json:"policy"`
	// Rule names the matched rule; empty when a default action applied.
	Rule string `json:"rule,omitempty"`
	Hint string `json:"hint,omitempty"`
}

// ParserKind returns Parser["kind"] as a string, or "".
func (d Decision) ParserKind() string {
	k, _ := d.Parser["kind"].(string)
	return k
}

// Clone returns a copy whose Parser map is not shared.
func (d Decision) Clone() Decision {
	d.Parser = maps.Clone(d.Parser)
	return d
}

// Result pairs the metadata of one inspection with the decision made on it.
type Result struct {
	Metadata Metadata `json:"metadata"`
	Decision Decision `json:"decision"`
}

// FallbackDecision is returned when no policy produced a decision.
func FallbackDecision() Decision {
	return Decision{Route: RouteDLQ, Reason: "no_policy_match", Policy: "default"}
}
