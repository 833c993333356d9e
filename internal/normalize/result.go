package normalize

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the JSON type of a declared result field.
type Kind string

const (
	KindString Kind = "string"
	KindList   Kind = "list"
	KindObject Kind = "object"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Field declares one top-level key of an agent result.
type Field struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`
}

// Result guarantees every declared field is present with its declared
// type. Values of the wrong type are replaced by the zero value of the
// kind; undeclared keys pass through untouched.
func Result(raw map[string]any, fields []Field) map[string]any {
	out := make(map[string]any, len(raw)+len(fields))
	for k, v := range raw {
		out[k] = v
	}
	for _, f := range fields {
		out[f.Name] = coerce(field(raw, f.Name), f.Kind)
		if c := camel(f.Name); c != f.Name {
			delete(out, c)
		}
	}
	return out
}

func coerce(v any, kind Kind) any {
	switch kind {
	case KindList:
		if l, ok := v.([]any); ok {
			return l
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return []any{strings.TrimSpace(s)}
		}
		return []any{}
	case KindObject:
		return obj(v)
	case KindNumber:
		if n, ok := v.(float64); ok {
			return n
		}
		return float64(0)
	case KindBool:
		return boolean(v)
	default:
		return str(v)
	}
}

// ResultSchema renders declared fields as a JSON skeleton for prompts.
func ResultSchema(fields []Field) string {
	sorted := append([]Field(nil), fields...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	parts := make([]string, 0, len(sorted))
	for _, f := range sorted {
		var sample string
		switch f.Kind {
		case KindList:
			sample = "[]"
		case KindObject:
			sample = "{}"
		case KindNumber:
			sample = "0"
		case KindBool:
			sample = "false"
		default:
			sample = `""`
		}
		parts = append(parts, fmt.Sprintf("%q: %s", f.Name, sample))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
