package anthropic

// CachedSystem builds a single system block with an ephemeral cache
// breakpoint. Stage system prompts are identical across invocations of an
// agent, so repeated runs read them from the prompt cache.
func CachedSystem(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{{
		Text:         text,
		CacheControl: &CacheControl{TTL: "5m"},
	}}
}
