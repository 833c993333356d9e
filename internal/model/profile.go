package model

import "time"

// ExtractedProfile is the normalized brand profile produced by the
// brand-profile agent. Every substructure is populated after normalization;
// absent fields are empty strings or empty slices, never nil.
type ExtractedProfile struct {
	Company         CompanyInfo     `json:"company"`
	Audience        Audience        `json:"audience"`
	Positioning     Positioning     `json:"positioning"`
	VoiceAndTone    VoiceAndTone    `json:"voice_and_tone"`
	StyleGuide      StyleGuide      `json:"style_guide"`
	MessagingAssets MessagingAssets `json:"messaging_assets"`
	Compliance      Compliance      `json:"compliance"`
	SourceTrace     SourceTrace     `json:"source_trace"`
	Keywords        []string        `json:"keywords"`
	Niche           string          `json:"niche"`
}

// CompanyInfo describes the business behind the site.
type CompanyInfo struct {
	Name         string `json:"name"`
	Tagline      string `json:"tagline"`
	Description  string `json:"description"`
	Industry     string `json:"industry"`
	Headquarters string `json:"headquarters"`
	Website      string `json:"website"`
}

// Audience captures who the brand sells to.
type Audience struct {
	PrimarySegments []string  `json:"primary_segments"`
	Personas        []Persona `json:"personas"`
	Geographies     []string  `json:"geographies"`
}

// Persona is one buyer archetype.
type Persona struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PainPoints  []string `json:"pain_points"`
	Goals       []string `json:"goals"`
}

// Positioning captures how the brand differentiates itself.
type Positioning struct {
	Category         string   `json:"category"`
	ValueProposition string   `json:"value_proposition"`
	Differentiators  []string `json:"differentiators"`
	Competitors      []string `json:"competitors"`
}

// VoiceAndTone describes how the brand writes.
type VoiceAndTone struct {
	Summary               string                `json:"summary"`
	ToneAttributes        []string              `json:"tone_attributes"`
	WritingStyleRules     WritingStyleRules     `json:"writing_style_rules"`
	VocabularyPreferences VocabularyPreferences `json:"vocabulary_preferences"`
}

// WritingStyleRules holds the enumerated style settings.
type WritingStyleRules struct {
	SentenceLength string `json:"sentence_length"`
	EmojiUsage     string `json:"emoji_usage"`
	Formality      string `json:"formality"`
	PointOfView    string `json:"point_of_view"`
}

// VocabularyPreferences lists words to reach for and words to avoid.
type VocabularyPreferences struct {
	Preferred []string `json:"preferred"`
	Avoided   []string `json:"avoided"`
}

// StyleGuide holds mechanical formatting rules.
type StyleGuide struct {
	Capitalization  string   `json:"capitalization"`
	Punctuation     []string `json:"punctuation"`
	FormattingRules []string `json:"formatting_rules"`
}

// MessagingAssets are reusable copy fragments lifted from the site.
type MessagingAssets struct {
	Taglines      []string `json:"taglines"`
	KeyMessages   []string `json:"key_messages"`
	CallsToAction []string `json:"calls_to_action"`
	ProofPoints   []string `json:"proof_points"`
}

// Compliance lists claims and disclaimers the brand must respect.
type Compliance struct {
	RegulatedIndustry bool     `json:"regulated_industry"`
	Disclaimers       []string `json:"disclaimers"`
	RestrictedClaims  []string `json:"restricted_claims"`
}

// SourceTrace records which pages a profile was built from. Timestamps map
// page URL to its RFC 3339 fetch time.
type SourceTrace struct {
	PageURLs   []string          `json:"page_urls"`
	Timestamps map[string]string `json:"timestamps"`
	Version    int               `json:"version"`
}

// CachedProfile is a stored profile that may be reused while fresh.
type CachedProfile struct {
	UserID    string           `json:"user_id"`
	Domain    string           `json:"domain"`
	Profile   ExtractedProfile `json:"profile"`
	CreatedAt time.Time        `json:"created_at"`
}

// FreshAt reports whether the cached profile is still within ttl at now.
func (c CachedProfile) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CreatedAt) < ttl
}
