package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docroute/document"
)

// Overrides are the dedicated CLI flags. Empty fields are left alone.
type Overrides struct {
	InputPath  string
	OutputPath string
	TaskID     string
	DocumentID string
	// ParserKind replaces the parser section with {kind: ParserKind} when it
	// names a different adapter, and keeps the options otherwise.
	ParserKind string
	// ParserOptions are merged into the parser section after ParserKind.
	ParserOptions map[string]any
	LogLevel      string
}

// ApplyBase applies o and re-validates.
func (c *Config) ApplyBase(o Overrides) error {
	if o.InputPath != "" {
		c.InputPath = o.InputPath
	}
	if o.OutputPath != "" {
		c.OutputPath = o.OutputPath
	}
	if o.TaskID != "" {
		c.TaskID = o.TaskID
	}
	if o.DocumentID != "" {
		c.DocumentID = o.DocumentID
	}
	if o.ParserKind != "" || len(o.ParserOptions) > 0 {
		spec := maps.Clone(c.Parser)
		if spec == nil {
			spec = map[string]any{}
		}
		if o.ParserKind != "" {
			if existing := c.ParserKind(); existing != "" && existing != o.ParserKind {
				spec = map[string]any{}
			}
			spec["kind"] = o.ParserKind
		}
		maps.Copy(spec, o.ParserOptions)
		c.Parser = spec
	}
	if o.LogLevel != "" {
		c.Logging.Level = strings.ToUpper(o.LogLevel)
	}
	return c.Validate()
}

// ApplySet applies "key=value" overrides. Dotted keys address nested
// sections (parser.url, server.workers); values are coerced by Coerce.
// The result is decoded again strictly, so a key that does not exist in
// the target section is an error.
func (c *Config) ApplySet(entries []string) error {
	if len(entries) == 0 {
		return nil
	}
	raw, err := c.raw()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		key, value, err := parseSet(entry)
		if err != nil {
			return err
		}
		if key == "parser" || key == "triage" {
			return document.Invalid("--set", "must target a field, e.g. %s.kind", key)
		}
		if err := setPath(raw, strings.Split(key, "."), value); err != nil {
			return document.Invalid("--set", "%s: %v", key, err)
		}
	}

	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}
	next := &Config{}
	if err := decodeStrict(data, next); err != nil {
		return fmt.Errorf("apply --set: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = *next
	return nil
}

func (c *Config) raw() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return raw, nil
}

func parseSet(entry string) (string, any, error) {
	key, value, ok := strings.Cut(entry, "=")
	if !ok {
		return "", nil, document.Invalid("--set", "must be in the form key=value")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", nil, document.Invalid("--set", "key cannot be empty")
	}
	return key, Coerce(strings.TrimSpace(value)), nil
}

func setPath(m map[string]any, path []string, value any) error {
	for i, part := range path {
		if part == "" {
			return fmt.Errorf("empty key segment")
		}
		if i == len(path)-1 {
			m[part] = value
			return nil
		}
		next, ok := m[part].(map[string]any)
		if !ok {
			if m[part] != nil {
				return fmt.Errorf("%s is not a section", strings.Join(path[:i+1], "."))
			}
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}
	return nil
}

// Coerce turns a --set value into a typed scalar: true/false become bools,
// null/none become nil, then an int or (when the text contains '.') a float,
// then any JSON value, and finally the raw string.
func Coerce(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if strings.Contains(raw, ".") {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	} else if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// ParseOptionsJSON decodes the --options flag: a JSON object, or null.
func ParseOptionsJSON(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, document.Invalid("--options", "options must be valid JSON")
	}
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, document.Invalid("--options", "options must be a JSON object")
	}
	return m, nil
}
