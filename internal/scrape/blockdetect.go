package scrape

import (
	"net/http"
	"strings"
)

// BlockType names an anti-bot wall found instead of page content.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

var challengeMarkers = []string{
	"checking your browser",
	"just a moment",
	"attention required",
	"enable javascript",
	"please enable cookies",
	"access denied",
}

// DetectBlock inspects a raw HTTP response for an anti-bot wall.
func DetectBlock(status int, header http.Header, body []byte) BlockType {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("Cf-Ray") != "" || strings.EqualFold(header.Get("Server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "cf-browser-verification") || strings.Contains(lower, "cf-challenge") {
		return BlockCloudflare
	}
	if strings.Contains(lower, "g-recaptcha") || strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "recaptcha/api.js") {
		return BlockCaptcha
	}
	// Client-rendered shells carry no readable copy.
	if len(body) < 2048 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return BlockJSShell
		}
	}
	return BlockNone
}

// isChallengeText reports whether converted page text is a challenge
// interstitial rather than site copy. Long pages that merely mention a
// marker are kept.
func isChallengeText(content string) bool {
	if len(content) >= 1000 {
		return false
	}
	lower := strings.ToLower(content)
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
