package kit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind returns spec["kind"] trimmed. It fails when the key is missing,
// not a string, or blank.
func Kind(spec map[string]any) (string, error) {
	raw, ok := spec["kind"]
	if !ok || raw == nil {
		return "", errors.New("kind is required")
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("kind must be a string, got %T", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("kind is required")
	}
	return s, nil
}

// DecodeSpec decodes a loosely typed spec (from YAML, JSON or CLI overrides)
// into out, rejecting keys that out does not declare.
func DecodeSpec(spec map[string]any, out any) error {
	if spec == nil {
		spec = map[string]any{}
	}
	raw, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode spec: %w", err)
	}
	return nil
}
