package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSONObject is returned when model text holds no parseable object.
var ErrNoJSONObject = eris.New("extract: no json object in model output")

// ParseJSONObject recovers the JSON object from model text. Markdown code
// fences and prose around the object are tolerated.
func ParseJSONObject(text string) (map[string]any, error) {
	s := stripFences(strings.TrimSpace(text))

	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err == nil && out != nil {
		return out, nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSONObject
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, eris.Wrap(ErrNoJSONObject, err.Error())
	}
	if out == nil {
		return nil, ErrNoJSONObject
	}
	return out, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
