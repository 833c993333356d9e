package model

import "time"

// PageType classifies a candidate page on a marketing site.
type PageType string

const (
	PageTypeHome     PageType = "home"
	PageTypeAbout    PageType = "about"
	PageTypePricing  PageType = "pricing"
	PageTypeFeatures PageType = "features"
	PageTypeProduct  PageType = "product"
)

// PriorityTier orders pages for selection. Lower tiers are fetched first.
type PriorityTier int

const (
	TierMandatory PriorityTier = 1
	TierHigh      PriorityTier = 2
	TierMedium    PriorityTier = 3
)

// CandidatePage is a page the crawler may fetch, derived from the base URL
// alone.
type CandidatePage struct {
	Path     string       `json:"path"`
	URL      string       `json:"url"`
	PageType PageType     `json:"page_type"`
	Tier     PriorityTier `json:"tier"`
}

// IsHome reports whether the page is the mandatory tier-1 home page.
func (c CandidatePage) IsHome() bool {
	return c.Tier == TierMandatory
}

// PageFetchResult is a successfully fetched page. Failed fetches never
// produce one.
type PageFetchResult struct {
	URL         string       `json:"url"`
	PageType    PageType     `json:"page_type"`
	Tier        PriorityTier `json:"tier"`
	StatusCode  int          `json:"status_code"`
	ContentType string       `json:"content_type,omitempty"`
	Title       string       `json:"title,omitempty"`
	Content     string       `json:"content"`
	Headings    []string     `json:"headings,omitempty"`
	CTAs        []string     `json:"ctas,omitempty"`
	Source      string       `json:"source,omitempty"`
	FetchedAt   time.Time    `json:"fetched_at"`
}

// ContentChunk records where one page landed in the aggregated text.
type ContentChunk struct {
	URL       string   `json:"url"`
	PageType  PageType `json:"page_type"`
	Chars     int      `json:"chars"`
	Truncated bool     `json:"truncated,omitempty"`
}

// AggregatedContent is the bounded text handed to the generation stages.
type AggregatedContent struct {
	Text      string         `json:"text"`
	Chunks    []ContentChunk `json:"chunks"`
	Truncated bool           `json:"truncated"`
}

// SourceURLs returns the URLs of every chunk, in aggregation order.
func (a AggregatedContent) SourceURLs() []string {
	urls := make([]string, 0, len(a.Chunks))
	for _, c := range a.Chunks {
		urls = append(urls, c.URL)
	}
	return urls
}
