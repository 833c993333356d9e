// Package scrape fetches single pages through a chain of providers: a plain
// HTTP fetch first, then hosted readers, then an optional headless browser.
package scrape

import (
	"context"

	"github.com/sells-group/agent-pipeline/internal/model"
)

// Result holds a scraped page with the provider that produced it.
type Result struct {
	Page   model.PageFetchResult
	Source string // e.g. "local_http", "jina", "firecrawl", "browser"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
