package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var adFields = []Field{
	{Name: "headlines", Kind: KindList},
	{Name: "summary", Kind: KindString},
	{Name: "scores", Kind: KindObject},
	{Name: "overall_score", Kind: KindNumber},
	{Name: "needs_review", Kind: KindBool},
}

func TestResult_FillsDeclaredFields(t *testing.T) {
	got := Result(nil, adFields)
	assert.Equal(t, map[string]any{
		"headlines":     []any{},
		"summary":       "",
		"scores":        map[string]any{},
		"overall_score": float64(0),
		"needs_review":  false,
	}, got)
}

func TestResult_CoercesAndPassesThrough(t *testing.T) {
	raw := map[string]any{
		"headlines":    "Only one",
		"summary":      []any{"wrong"},
		"overallScore": 87.5,
		"needs_review": "yes",
		"extra":        "kept",
	}
	got := Result(raw, adFields)

	assert.Equal(t, []any{"Only one"}, got["headlines"])
	assert.Equal(t, "", got["summary"])
	assert.Equal(t, 87.5, got["overall_score"])
	assert.NotContains(t, got, "overallScore")
	assert.Equal(t, true, got["needs_review"])
	assert.Equal(t, "kept", got["extra"])
	assert.Contains(t, raw, "overallScore", "input is not mutated")
}

func TestResultSchema(t *testing.T) {
	s := ResultSchema(adFields)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	assert.Len(t, v, 5)
	assert.Equal(t, `{"headlines": [], "needs_review": false, "overall_score": 0, "scores": {}, "summary": ""}`, s)
}
