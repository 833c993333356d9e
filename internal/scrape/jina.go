package scrape

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/resilience"
	"github.com/sells-group/agent-pipeline/pkg/jina"
)

var errUnusableContent = eris.New("scrape: provider returned no usable content")

// JinaAdapter wraps a Jina Reader client as a Scraper. Three failures
// within 30s open its breaker for 60s so the chain falls through at once.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
}

// NewJinaAdapter creates a JinaAdapter from a Jina client.
func NewJinaAdapter(client jina.Client, retry resilience.RetryPolicy) *JinaAdapter {
	retry.OnRetry = resilience.LogRetries("jina", "read")
	return &JinaAdapter{
		client:  client,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "jina"}),
		retry:   retry,
	}
}

func (j *JinaAdapter) Name() string           { return "jina" }
func (j *JinaAdapter) Supports(_ string) bool { return true }

// Scrape fetches a URL via Jina Reader and validates the response.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := resilience.Call(ctx, j.breaker, func(ctx context.Context) (*jina.ReadResponse, error) {
		return resilience.Do(ctx, j.retry, func(ctx context.Context) (*jina.ReadResponse, error) {
			r, err := j.client.Read(ctx, targetURL)
			if err != nil {
				var apiErr *jina.APIError
				if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
					return nil, &resilience.TransientError{Err: err, StatusCode: apiErr.StatusCode, RetryAfter: apiErr.RetryAfter}
				}
				return nil, err
			}
			return r, nil
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "jina: read")
	}
	if needsFallback(resp) {
		return nil, eris.Wrap(errUnusableContent, "jina")
	}

	return &Result{
		Page: model.PageFetchResult{
			URL:        targetURL,
			StatusCode: 200,
			Title:      resp.Data.Title,
			Content:    strings.TrimSpace(resp.Data.Content),
			Headings:   headingsFromMarkdown(resp.Data.Content),
			Source:     "jina",
			FetchedAt:  time.Now().UTC(),
		},
		Source: "jina",
	}, nil
}

// needsFallback reports whether a Reader response is blocked, empty or a
// challenge page.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}
	content := strings.TrimSpace(resp.Data.Content)
	return len(content) < minContentChars || isChallengeText(content)
}
