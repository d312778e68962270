package triage

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/kit"
)

// KindRules is the registry key of the built-in rules policy.
const KindRules = "rules"

// BuildFunc turns a kind-tagged spec into a Policy. It owns validation of
// the spec payload.
type BuildFunc func(spec map[string]any) (Policy, error)

// Registry maps policy kinds to their builders. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	builds map[string]BuildFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builds: make(map[string]BuildFunc)}
}

// DefaultRegistry returns a registry with the rules policy registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(KindRules, buildRules)
	return r
}

// Register adds or replaces the builder for kind.
func (r *Registry) Register(kind string, build BuildFunc) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return document.Invalid("kind", "policy kind cannot be empty")
	}
	if build == nil {
		return document.Invalid("build", "builder for %q is nil", kind)
	}
	r.mu.Lock()
	r.builds[kind] = build
	r.mu.Unlock()
	return nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.builds))
	for k := range r.builds {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Build dispatches spec to the builder registered for spec["kind"].
func (r *Registry) Build(spec map[string]any) (Policy, error) {
	kind, err := kit.Kind(spec)
	if err != nil {
		return nil, document.Invalid("kind", "policy kind is required")
	}
	r.mu.RLock()
	build, ok := r.builds[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, document.Invalid("kind", "unknown policy: %s", kind)
	}
	p, err := build(spec)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", kind, err)
	}
	return p, nil
}

// BuildChain builds every spec in order. A single spec yields that policy
// directly, several yield a Chain.
func (r *Registry) BuildChain(specs []map[string]any) (Policy, error) {
	if len(specs) == 0 {
		return nil, document.Invalid("triage.policies", "at least one policy is required")
	}
	policies := make([]Policy, 0, len(specs))
	for i, spec := range specs {
		p, err := r.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("triage.policies[%d]: %w", i, err)
		}
		policies = append(policies, p)
	}
	if len(policies) == 1 {
		return policies[0], nil
	}
	return NewChain(policies...), nil
}

func buildRules(spec map[string]any) (Policy, error) {
	var cfg RulesConfig
	if err := kit.DecodeSpec(spec, &cfg); err != nil {
		return nil, document.Invalid("rules", "%v", err)
	}
	return NewRulesPolicy(cfg)
}
