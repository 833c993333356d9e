package crawl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/scrape"
)

type staticProber struct {
	mu     sync.Mutex
	exists map[string]bool
	probed []string
}

func (p *staticProber) ProbeExists(_ context.Context, url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, url)
	return p.exists[url]
}

// fakeScraper returns a page per URL, failing the URLs in fail. Pages with a
// delay finish late so completion order differs from tier order.
type fakeScraper struct {
	fail     map[string]bool
	delay    map[string]time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *fakeScraper) Name() string           { return "fake" }
func (f *fakeScraper) Supports(_ string) bool { return true }
func (f *fakeScraper) Scrape(ctx context.Context, url string) (*scrape.Result, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if d := f.delay[url]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[url] {
		return nil, errors.New("fetch failed")
	}
	return &scrape.Result{
		Page:   model.PageFetchResult{StatusCode: 200, Content: "content of " + url},
		Source: "fake",
	}, nil
}

func allExist(pages []model.CandidatePage) map[string]bool {
	m := make(map[string]bool)
	for _, p := range pages {
		m[p.URL] = true
	}
	return m
}

func TestFetchAll_ExampleScenario(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pages := Discover(mustParse(t, "https://example.com"))
	prober := &staticProber{exists: map[string]bool{"https://example.com/pricing": true}}
	s := &fakeScraper{delay: map[string]time.Duration{"https://example.com/": 20 * time.Millisecond}}

	results, err := NewFetcher(s, prober, FetchOptions{}).FetchAll(context.Background(), pages, 5)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/", results[0].URL)
	assert.Equal(t, model.PageTypeHome, results[0].PageType)
	assert.Equal(t, "https://example.com/pricing", results[1].URL)
	assert.Equal(t, model.TierHigh, results[1].Tier)
	assert.Equal(t, "fake", results[1].Source)
	assert.NotContains(t, prober.probed, "https://example.com/", "home is never probed")
	// Primaries, then the about and product aliases; /pricing was found.
	assert.Len(t, prober.probed, 6)
	assert.NotContains(t, prober.probed, "https://example.com/plans")
}

func TestFetchAll_AliasesProbedOnlyAfterPrimaryMissing(t *testing.T) {
	pages := Discover(mustParse(t, "https://acme.io"))
	prober := &staticProber{exists: allExist(pages)}

	_, err := NewFetcher(&fakeScraper{}, prober, FetchOptions{}).FetchAll(context.Background(), pages, 5)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"https://acme.io/about",
		"https://acme.io/pricing",
		"https://acme.io/features",
		"https://acme.io/product",
	}, prober.probed)
}

func TestFetchAll_PageCapAndConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pages := Discover(mustParse(t, "https://acme.io"))
	prober := &staticProber{exists: allExist(pages)}
	delays := make(map[string]time.Duration)
	for _, p := range pages {
		delays[p.URL] = 10 * time.Millisecond
	}
	s := &fakeScraper{delay: delays}

	results, err := NewFetcher(s, prober, FetchOptions{}).FetchAll(context.Background(), pages, 3)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.LessOrEqual(t, int(s.peak.Load()), 3)
	assert.Equal(t, int32(3), s.calls.Load())
	// Home, then the two tier-2 types; aliases collapse by page type.
	assert.Equal(t, model.PageTypeHome, results[0].PageType)
	assert.Equal(t, model.PageTypeAbout, results[1].PageType)
	assert.Equal(t, "https://acme.io/about", results[1].URL)
	assert.Equal(t, model.PageTypePricing, results[2].PageType)
}

func TestFetchAll_AliasUsedWhenPrimaryMissing(t *testing.T) {
	pages := Discover(mustParse(t, "https://acme.io"))
	prober := &staticProber{exists: map[string]bool{"https://acme.io/plans": true, "https://acme.io/products": true}}

	results, err := NewFetcher(&fakeScraper{}, prober, FetchOptions{}).FetchAll(context.Background(), pages, 5)
	require.NoError(t, err)

	urls := make([]string, 0, len(results))
	for _, r := range results {
		urls = append(urls, r.URL)
	}
	assert.Equal(t, []string{"https://acme.io/", "https://acme.io/plans", "https://acme.io/products"}, urls)
}

func TestFetchAll_FailuresDropped(t *testing.T) {
	pages := Discover(mustParse(t, "https://acme.io"))
	prober := &staticProber{exists: allExist(pages)}
	s := &fakeScraper{fail: map[string]bool{"https://acme.io/about": true}}

	results, err := NewFetcher(s, prober, FetchOptions{}).FetchAll(context.Background(), pages, 5)
	require.NoError(t, err)
	// home, pricing, features, product: the failed /about is not replaced
	// by /about-us once it was selected.
	require.Len(t, results, 4)
	for _, r := range results {
		assert.NotEqual(t, "https://acme.io/about", r.URL)
		assert.NotEqual(t, "https://acme.io/about-us", r.URL)
		assert.NotEqual(t, model.PageTypeAbout, r.PageType)
	}
}

func TestFetchAll_NoPagesScraped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pages := Discover(mustParse(t, "https://acme.io"))
	s := &fakeScraper{fail: allExist(pages)}
	prober := &staticProber{exists: allExist(pages)}

	_, err := NewFetcher(s, prober, FetchOptions{}).FetchAll(context.Background(), pages, 5)
	require.ErrorIs(t, err, ErrNoPagesScraped)
	assert.Equal(t, "no pages scraped", err.Error())
}

func TestFetchAll_PerFetchTimeoutDoesNotCancelSiblings(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pages := Discover(mustParse(t, "https://acme.io"))
	prober := &staticProber{exists: map[string]bool{"https://acme.io/pricing": true}}
	s := &fakeScraper{delay: map[string]time.Duration{"https://acme.io/": time.Second}}

	results, err := NewFetcher(s, prober, FetchOptions{FetchTimeout: 30 * time.Millisecond}).
		FetchAll(context.Background(), pages, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://acme.io/pricing", results[0].URL)
}

func TestFetchAll_Paced(t *testing.T) {
	pages := Discover(mustParse(t, "https://acme.io"))
	prober := &staticProber{exists: allExist(pages)}

	start := time.Now()
	results, err := NewFetcher(&fakeScraper{}, prober, FetchOptions{RequestsPerSecond: 50, Burst: 1}).
		FetchAll(context.Background(), pages, 4)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.True(t, strings.HasPrefix(results[0].Content, "content of https://acme.io/"))
}
