package normalize

import (
	"strconv"
	"strings"
	"unicode"
)

// field looks key up in m, also accepting the camelCase spelling models
// sometimes emit.
func field(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	if v, ok := m[key]; ok {
		return v
	}
	return m[camel(key)]
}

func camel(snake string) string {
	var b strings.Builder
	upper := false
	for _, r := range snake {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func obj(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// strs accepts a list or a lone string. Blank and duplicate entries are
// dropped; the result is never nil.
func strs(v any) []string {
	out := []string{}
	seen := make(map[string]bool)
	add := func(s string) {
		if s == "" || seen[strings.ToLower(s)] {
			return
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			add(str(item))
		}
	case []string:
		for _, item := range t {
			add(strings.TrimSpace(item))
		}
	case string:
		add(strings.TrimSpace(t))
	}
	return out
}

func boolean(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y":
			return true
		}
	}
	return false
}

// enum returns v when it is one of allowed (after aliasing), else def.
func enum(v any, allowed []string, aliases map[string]string, def string) string {
	s := strings.ToLower(str(v))
	s = strings.ReplaceAll(s, " ", "_")
	if a, ok := aliases[s]; ok {
		s = a
	}
	for _, x := range allowed {
		if s == x {
			return s
		}
	}
	return def
}
