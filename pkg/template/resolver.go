// Package template resolves {{path.to.field}} placeholders in node
// configuration against the outputs of earlier nodes.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Scope is an immutable JSON snapshot of the values visible to a node:
// "trigger", "variables" and one entry per completed node id or alias.
type Scope struct {
	doc []byte
}

// NewScope snapshots data. Values must be JSON-encodable.
func NewScope(data map[string]any) (*Scope, error) {
	doc, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template scope: %w", err)
	}

	return &Scope{doc: doc}, nil
}

// Lookup returns the value at a dotted path, or nil when absent.
func (s *Scope) Lookup(path string) (any, bool) {
	result := gjson.GetBytes(s.doc, escapePath(path))
	if !result.Exists() {
		return nil, false
	}

	return decode(result), true
}

// decode converts a gjson result to a Go value. Numbers stay json.Number so
// ids beyond 2^53 keep every digit.
func decode(result gjson.Result) any {
	switch result.Type {
	case gjson.Number:
		return json.Number(result.Raw)
	case gjson.JSON:
		var value any

		decoder := json.NewDecoder(strings.NewReader(result.Raw))
		decoder.UseNumber()

		if err := decoder.Decode(&value); err != nil {
			return result.Value()
		}

		return value
	default:
		return result.Value()
	}
}

// Resolve walks maps and slices and resolves every string. A string that is
// exactly one placeholder takes the referenced value with its JSON type;
// placeholders embedded in text are interpolated. Unresolvable references
// become nil or "".
func (s *Scope) Resolve(value any) any {
	switch v := value.(type) {
	case string:
		return s.resolveString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = s.Resolve(item)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.Resolve(item)
		}

		return out
	default:
		return value
	}
}

// ResolveConfig resolves a node configuration map.
func (s *Scope) ResolveConfig(config map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}

	resolved, _ := s.Resolve(config).(map[string]any)

	return resolved
}

func (s *Scope) resolveString(input string) any {
	if !strings.Contains(input, "{{") {
		return input
	}

	if match := placeholder.FindStringSubmatch(input); match != nil && match[0] == strings.TrimSpace(input) {
		value, _ := s.Lookup(match[1])

		return value
	}

	return placeholder.ReplaceAllStringFunc(input, func(token string) string {
		path := placeholder.FindStringSubmatch(token)[1]

		result := gjson.GetBytes(s.doc, escapePath(path))
		if !result.Exists() || result.Type == gjson.Null {
			return ""
		}

		if result.IsObject() || result.IsArray() {
			return result.Raw
		}

		return result.String()
	})
}

// escapePath keeps user paths from being read as gjson query syntax. Dots
// still separate path components.
func escapePath(path string) string {
	var b strings.Builder

	for _, r := range strings.TrimSpace(path) {
		switch r {
		case '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', '\\':
			b.WriteRune('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}
