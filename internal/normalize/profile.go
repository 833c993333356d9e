// Package normalize maps loosely shaped model output onto fixed result
// types. Every function here is pure and total: any input, including nil,
// yields a fully populated value.
package normalize

import (
	"github.com/sells-group/agent-pipeline/internal/model"
)

const (
	DefaultSentenceLength = "medium"
	DefaultEmojiUsage     = "no"
	DefaultFormality      = "professional"
)

var (
	sentenceLengths = []string{"short", "medium", "long", "varied"}
	emojiUsages     = []string{"yes", "no", "sparingly"}
	formalities     = []string{"casual", "conversational", "professional", "formal"}

	emojiAliases = map[string]string{
		"none": "no", "never": "no", "false": "no",
		"minimal": "sparingly", "occasional": "sparingly", "rare": "sparingly", "rarely": "sparingly",
		"true": "yes", "frequent": "yes", "often": "yes",
	}
	formalityAliases = map[string]string{
		"informal":                  "casual",
		"friendly":                  "conversational",
		"business":                  "professional",
		"semi_formal":               "professional",
		"semi-formal":               "professional",
		"professional_but_friendly": "professional",
		"very_formal":               "formal",
	}
	sentenceAliases = map[string]string{
		"concise": "short", "brief": "short", "mixed": "varied", "moderate": "medium",
	}
)

// Profile normalizes raw brand-profile output. trace always replaces
// whatever source_trace the model reported.
func Profile(raw map[string]any, trace model.SourceTrace) model.ExtractedProfile {
	company := obj(field(raw, "company"))
	audience := obj(field(raw, "audience"))
	positioning := obj(field(raw, "positioning"))
	voice := obj(field(raw, "voice_and_tone"))
	rules := obj(field(voice, "writing_style_rules"))
	vocab := obj(field(voice, "vocabulary_preferences"))
	style := obj(field(raw, "style_guide"))
	assets := obj(field(raw, "messaging_assets"))
	compliance := obj(field(raw, "compliance"))

	return model.ExtractedProfile{
		Company: model.CompanyInfo{
			Name:         str(field(company, "name")),
			Tagline:      str(field(company, "tagline")),
			Description:  str(field(company, "description")),
			Industry:     str(field(company, "industry")),
			Headquarters: str(field(company, "headquarters")),
			Website:      str(field(company, "website")),
		},
		Audience: model.Audience{
			PrimarySegments: strs(field(audience, "primary_segments")),
			Personas:        personas(field(audience, "personas")),
			Geographies:     strs(field(audience, "geographies")),
		},
		Positioning: model.Positioning{
			Category:         str(field(positioning, "category")),
			ValueProposition: str(field(positioning, "value_proposition")),
			Differentiators:  strs(field(positioning, "differentiators")),
			Competitors:      strs(field(positioning, "competitors")),
		},
		VoiceAndTone: model.VoiceAndTone{
			Summary:        str(field(voice, "summary")),
			ToneAttributes: strs(field(voice, "tone_attributes")),
			WritingStyleRules: model.WritingStyleRules{
				SentenceLength: enum(field(rules, "sentence_length"), sentenceLengths, sentenceAliases, DefaultSentenceLength),
				EmojiUsage:     enum(field(rules, "emoji_usage"), emojiUsages, emojiAliases, DefaultEmojiUsage),
				Formality:      enum(field(rules, "formality"), formalities, formalityAliases, DefaultFormality),
				PointOfView:    str(field(rules, "point_of_view")),
			},
			VocabularyPreferences: model.VocabularyPreferences{
				Preferred: strs(field(vocab, "preferred")),
				Avoided:   strs(field(vocab, "avoided")),
			},
		},
		StyleGuide: model.StyleGuide{
			Capitalization:  str(field(style, "capitalization")),
			Punctuation:     strs(field(style, "punctuation")),
			FormattingRules: strs(field(style, "formatting_rules")),
		},
		MessagingAssets: model.MessagingAssets{
			Taglines:      strs(field(assets, "taglines")),
			KeyMessages:   strs(field(assets, "key_messages")),
			CallsToAction: strs(field(assets, "calls_to_action")),
			ProofPoints:   strs(field(assets, "proof_points")),
		},
		Compliance: model.Compliance{
			RegulatedIndustry: boolean(field(compliance, "regulated_industry")),
			Disclaimers:       strs(field(compliance, "disclaimers")),
			RestrictedClaims:  strs(field(compliance, "restricted_claims")),
		},
		SourceTrace: Trace(trace),
		Keywords:    strs(field(raw, "keywords")),
		Niche:       str(field(raw, "niche")),
	}
}

// Trace fills the nil collections of a source trace.
func Trace(t model.SourceTrace) model.SourceTrace {
	out := model.SourceTrace{
		PageURLs:   append([]string{}, t.PageURLs...),
		Timestamps: make(map[string]string, len(t.Timestamps)),
		Version:    t.Version,
	}
	for k, v := range t.Timestamps {
		out.Timestamps[k] = v
	}
	return out
}

func personas(v any) []model.Persona {
	out := []model.Persona{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p := model.Persona{
			Name:        str(field(m, "name")),
			Description: str(field(m, "description")),
			PainPoints:  strs(field(m, "pain_points")),
			Goals:       strs(field(m, "goals")),
		}
		if p.Name == "" && p.Description == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
