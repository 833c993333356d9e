package scrape

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/resilience"
	"github.com/sells-group/agent-pipeline/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as a Scraper for single pages.
type FirecrawlAdapter struct {
	client  firecrawl.Client
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
}

// NewFirecrawlAdapter creates a FirecrawlAdapter from a Firecrawl client.
func NewFirecrawlAdapter(client firecrawl.Client, retry resilience.RetryPolicy) *FirecrawlAdapter {
	retry.OnRetry = resilience.LogRetries("firecrawl", "scrape")
	return &FirecrawlAdapter{
		client:  client,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "firecrawl"}),
		retry:   retry,
	}
}

// Name implements Scraper.
func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports implements Scraper. Firecrawl can attempt any URL.
func (f *FirecrawlAdapter) Supports(_ string) bool { return true }

// Scrape fetches a single URL via Firecrawl's scrape API.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := resilience.Call(ctx, f.breaker, func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
		return resilience.Do(ctx, f.retry, func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
			r, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
				URL:             targetURL,
				Formats:         []string{"markdown"},
				OnlyMainContent: true,
			})
			if err != nil {
				var apiErr *firecrawl.APIError
				if errors.As(err, &apiErr) {
					return nil, resilience.ClassifyStatus(err, apiErr.StatusCode)
				}
				return nil, err
			}
			return r, nil
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: scrape")
	}

	content := strings.TrimSpace(resp.Data.Markdown)
	if len(content) < minContentChars || isChallengeText(content) {
		return nil, eris.Wrap(errUnusableContent, "firecrawl")
	}
	status := resp.Data.Metadata.StatusCode
	if status >= 400 {
		return nil, eris.Errorf("firecrawl: page status %d", status)
	}
	if status == 0 {
		status = 200
	}

	return &Result{
		Page: model.PageFetchResult{
			URL:        targetURL,
			StatusCode: status,
			Title:      resp.Data.Metadata.Title,
			Content:    content,
			Headings:   headingsFromMarkdown(content),
			Source:     "firecrawl",
			FetchedAt:  time.Now().UTC(),
		},
		Source: "firecrawl",
	}, nil
}
