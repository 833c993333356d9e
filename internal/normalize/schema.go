package normalize

// ProfileSchema describes the brand-profile JSON shape for prompts. Enum
// fields list their allowed values.
const ProfileSchema = `{
  "company": {"name": "", "tagline": "", "description": "", "industry": "", "headquarters": "", "website": ""},
  "audience": {
    "primary_segments": [""],
    "personas": [{"name": "", "description": "", "pain_points": [""], "goals": [""]}],
    "geographies": [""]
  },
  "positioning": {"category": "", "value_proposition": "", "differentiators": [""], "competitors": [""]},
  "voice_and_tone": {
    "summary": "",
    "tone_attributes": [""],
    "writing_style_rules": {
      "sentence_length": "short | medium | long | varied",
      "emoji_usage": "yes | no | sparingly",
      "formality": "casual | conversational | professional | formal",
      "point_of_view": ""
    },
    "vocabulary_preferences": {"preferred": [""], "avoided": [""]}
  },
  "style_guide": {"capitalization": "", "punctuation": [""], "formatting_rules": [""]},
  "messaging_assets": {"taglines": [""], "key_messages": [""], "calls_to_action": [""], "proof_points": [""]},
  "compliance": {"regulated_industry": false, "disclaimers": [""], "restricted_claims": [""]},
  "keywords": [""],
  "niche": ""
}`
