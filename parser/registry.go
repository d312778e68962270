package parser

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hazyhaar/docroute/document"
)

// Adapter kinds registered by DefaultRegistry.
const (
	KindText   = "text"
	KindRemote = "remote"
	KindMock   = "mock"
)

// Factory builds a parser from adapter options. It owns option validation.
type Factory func(opts map[string]any, logger *slog.Logger) (Parser, error)

// Registry maps adapter names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry returns an empty registry; adapters it builds log to logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{factories: make(map[string]Factory), logger: logger}
}

// DefaultRegistry returns a registry with the text, remote and mock adapters.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	_ = r.Register(KindText, NewText)
	_ = r.Register(KindRemote, NewRemote)
	_ = r.Register(KindMock, NewMock)
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return document.Invalid("parser.name", "parser name cannot be empty")
	}
	if f == nil {
		return document.Invalid("parser.factory", "factory for %q is nil", name)
	}
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
	return nil
}

// Kinds returns the registered adapter names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Create builds the adapter named by cfg.
func (r *Registry) Create(cfg Config) (Parser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	f, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, document.Invalid("parser.kind", "unknown parser: %s", cfg.Name)
	}
	p, err := f(cfg.Options, r.logger.With("parser", cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("parser %s: %w", cfg.Name, err)
	}
	return p, nil
}

// CreateFromSpec is FromSpec followed by Create.
func (r *Registry) CreateFromSpec(spec map[string]any) (Parser, error) {
	cfg, err := FromSpec(spec)
	if err != nil {
		return nil, err
	}
	return r.Create(cfg)
}
