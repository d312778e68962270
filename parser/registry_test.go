package parser

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/docroute/document"
)

func TestFromSpec(t *testing.T) {
	cfg, err := FromSpec(map[string]any{"kind": "mock", "markdown": "# A"})
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	if cfg.Name != "mock" || cfg.Options["markdown"] != "# A" {
		t.Fatalf("config: %+v", cfg)
	}
	if _, ok := cfg.Options["kind"]; ok {
		t.Fatal("kind must not leak into options")
	}
	if spec := cfg.Spec(); spec["kind"] != "mock" || spec["markdown"] != "# A" {
		t.Fatalf("spec: %v", spec)
	}
	if _, err := FromSpec(map[string]any{"markdown": "# A"}); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{Name: " "}).Validate(); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := (Config{Name: "mock"}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRegistry_Defaults(t *testing.T) {
	kinds := DefaultRegistry(nil).Kinds()
	want := []string{KindMock, KindRemote, KindText}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := DefaultRegistry(nil).Create(Config{Name: "docling"})
	if !errors.Is(err, document.ErrValidation) || !strings.Contains(err.Error(), "unknown parser: docling") {
		t.Fatalf("expected unknown parser error, got %v", err)
	}
}

func TestRegistry_RegisterCustom(t *testing.T) {
	r := NewRegistry(slog.Default())
	if err := r.Register("", nil); err == nil {
		t.Fatal("expected error for empty name")
	}
	got := ""
	err := r.Register("echo", func(opts map[string]any, _ *slog.Logger) (Parser, error) {
		got, _ = opts["greeting"].(string)
		return ParserFunc(func(context.Context, string) (string, error) { return "# Echo", nil }), nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	p, err := r.CreateFromSpec(map[string]any{"kind": "echo", "greeting": "hi"})
	if err != nil {
		t.Fatalf("CreateFromSpec: %v", err)
	}
	if got != "hi" {
		t.Fatalf("options not forwarded: %q", got)
	}
	if md, _ := p.Parse(context.Background(), "x.pdf"); md != "# Echo" {
		t.Fatalf("markdown = %q", md)
	}
}

func TestMock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := DefaultRegistry(nil)

	p, err := r.Create(Config{Name: KindMock})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	md, err := p.Parse(context.Background(), path)
	if err != nil || md != DefaultMockMarkdown {
		t.Fatalf("Parse = %q, %v", md, err)
	}

	p, _ = r.Create(Config{Name: KindMock, Options: map[string]any{"markdown": "# Custom"}})
	if md, _ := p.Parse(context.Background(), path); md != "# Custom" {
		t.Fatalf("markdown = %q", md)
	}

	p, _ = r.Create(Config{Name: KindMock, Options: map[string]any{"error": "engine down"}})
	if _, err := p.Parse(context.Background(), path); err == nil || err.Error() != "engine down" {
		t.Fatalf("expected configured error, got %v", err)
	}

	if _, err := p.Parse(context.Background(), path+".missing"); !errors.Is(err, document.ErrIO) {
		t.Fatalf("expected io error, got %v", err)
	}

	if _, err := r.Create(Config{Name: KindMock, Options: map[string]any{"bogus": 1}}); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected strict options, got %v", err)
	}
}
