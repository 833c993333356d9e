package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agent-pipeline/internal/model"
)

func TestProfile_NilInputIsFullyPopulated(t *testing.T) {
	p := Profile(nil, model.SourceTrace{})

	assert.Equal(t, DefaultSentenceLength, p.VoiceAndTone.WritingStyleRules.SentenceLength)
	assert.Equal(t, DefaultEmojiUsage, p.VoiceAndTone.WritingStyleRules.EmojiUsage)
	assert.Equal(t, DefaultFormality, p.VoiceAndTone.WritingStyleRules.Formality)
	assert.NotNil(t, p.Keywords)
	assert.NotNil(t, p.Audience.Personas)
	assert.NotNil(t, p.VoiceAndTone.VocabularyPreferences.Preferred)
	assert.NotNil(t, p.SourceTrace.PageURLs)
	assert.NotNil(t, p.SourceTrace.Timestamps)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "null")
}

func TestProfile_MalformedShapesFallBack(t *testing.T) {
	raw := map[string]any{
		"company":        "Acme",
		"audience":       []any{"not", "an", "object"},
		"voice_and_tone": map[string]any{"writing_style_rules": nil, "tone_attributes": "bold"},
		"keywords":       []any{"scheduling", 42.0, nil, "", "Scheduling", map[string]any{}},
		"compliance":     map[string]any{"regulated_industry": "yes"},
		"niche":          7.0,
	}

	p := Profile(raw, model.SourceTrace{})

	assert.Equal(t, model.CompanyInfo{}, p.Company)
	assert.Empty(t, p.Audience.PrimarySegments)
	assert.NotNil(t, p.Audience.PrimarySegments)
	assert.Equal(t, []string{"bold"}, p.VoiceAndTone.ToneAttributes)
	assert.Equal(t, "medium", p.VoiceAndTone.WritingStyleRules.SentenceLength)
	assert.Equal(t, []string{"scheduling", "42"}, p.Keywords)
	assert.True(t, p.Compliance.RegulatedIndustry)
	assert.Equal(t, "7", p.Niche)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "null")
}

func TestProfile_EnumDomains(t *testing.T) {
	tests := []struct {
		emoji, wantEmoji         string
		formality, wantFormality string
		length, wantLength       string
	}{
		{"sparingly", "sparingly", "formal", "formal", "short", "short"},
		{"YES", "yes", "Casual", "casual", "Long", "long"},
		{"none", "no", "semi-formal", "professional", "concise", "short"},
		{"lots!!", "no", "pirate", "professional", "epic", "medium"},
	}
	for _, tt := range tests {
		raw := map[string]any{"voice_and_tone": map[string]any{"writing_style_rules": map[string]any{
			"emoji_usage": tt.emoji, "formality": tt.formality, "sentence_length": tt.length,
		}}}
		rules := Profile(raw, model.SourceTrace{}).VoiceAndTone.WritingStyleRules
		assert.Equal(t, tt.wantEmoji, rules.EmojiUsage, tt.emoji)
		assert.Equal(t, tt.wantFormality, rules.Formality, tt.formality)
		assert.Equal(t, tt.wantLength, rules.SentenceLength, tt.length)
	}
}

func TestProfile_FullInputAndCamelCase(t *testing.T) {
	raw := map[string]any{
		"company": map[string]any{"name": " Acme ", "tagline": "Scheduling that runs itself"},
		"audience": map[string]any{
			"primarySegments": []any{"dental clinics"},
			"personas": []any{
				map[string]any{"name": "Office manager", "painPoints": []any{"no-shows"}},
				map[string]any{},
				"junk",
			},
		},
		"positioning":     map[string]any{"value_proposition": "Fewer no-shows"},
		"messagingAssets": map[string]any{"calls_to_action": []any{"Start free trial"}},
		"style_guide":     map[string]any{"capitalization": "sentence case"},
		"voice_and_tone":  map[string]any{"vocabularyPreferences": map[string]any{"avoided": []any{"synergy"}}},
		"source_trace":    map[string]any{"page_urls": []any{"https://evil.example"}},
		"keywords":        []any{"scheduling"},
		"niche":           "dental practice software",
	}
	trace := model.SourceTrace{
		PageURLs:   []string{"https://acme.io/"},
		Timestamps: map[string]string{"https://acme.io/": "2025-01-01T00:00:00Z"},
		Version:    1,
	}

	p := Profile(raw, trace)

	assert.Equal(t, "Acme", p.Company.Name)
	assert.Equal(t, []string{"dental clinics"}, p.Audience.PrimarySegments)
	require.Len(t, p.Audience.Personas, 1)
	assert.Equal(t, []string{"no-shows"}, p.Audience.Personas[0].PainPoints)
	assert.NotNil(t, p.Audience.Personas[0].Goals)
	assert.Equal(t, "Fewer no-shows", p.Positioning.ValueProposition)
	assert.Equal(t, []string{"Start free trial"}, p.MessagingAssets.CallsToAction)
	assert.Equal(t, []string{"synergy"}, p.VoiceAndTone.VocabularyPreferences.Avoided)
	assert.Equal(t, "sentence case", p.StyleGuide.Capitalization)
	assert.Equal(t, trace, p.SourceTrace, "model-reported trace is ignored")
}

func TestProfile_DoesNotAliasTrace(t *testing.T) {
	trace := model.SourceTrace{PageURLs: []string{"a"}, Timestamps: map[string]string{"a": "t"}}
	p := Profile(nil, trace)
	p.SourceTrace.PageURLs[0] = "b"
	p.SourceTrace.Timestamps["a"] = "x"
	assert.Equal(t, "a", trace.PageURLs[0])
	assert.Equal(t, "t", trace.Timestamps["a"])
}

func TestProfileSchemaIsValidJSON(t *testing.T) {
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(ProfileSchema), &v))
	assert.Contains(t, v, "voice_and_tone")
}
