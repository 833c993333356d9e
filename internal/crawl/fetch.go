package crawl

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/scrape"
)

// ErrNoPagesScraped is returned when every selected page failed to fetch.
var ErrNoPagesScraped = eris.New("no pages scraped")

// FetchOptions bounds a Fetcher.
type FetchOptions struct {
	// FetchTimeout is the deadline of a single page fetch.
	FetchTimeout time.Duration
	// RequestsPerSecond spaces fetches to the same site. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Fetcher selects existing pages and fetches them with bounded parallelism.
type Fetcher struct {
	scraper scrape.Scraper
	prober  Prober
	opts    FetchOptions
}

// NewFetcher creates a Fetcher. Zero options default to a 30s fetch timeout.
func NewFetcher(s scrape.Scraper, p Prober, opts FetchOptions) *Fetcher {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Fetcher{scraper: s, prober: p, opts: opts}
}

// FetchAll probes the candidates, keeps the first maxPages existing pages by
// ascending tier and fetches them with at most maxPages in flight. Failed
// fetches are dropped. Results come back in tier order regardless of
// completion order.
func (f *Fetcher) FetchAll(ctx context.Context, pages []model.CandidatePage, maxPages int) ([]model.PageFetchResult, error) {
	if maxPages <= 0 {
		maxPages = 5
	}

	selected := f.selectPages(ctx, pages, maxPages)
	if len(selected) == 0 {
		return nil, ErrNoPagesScraped
	}

	var limiter *rate.Limiter
	if f.opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(f.opts.RequestsPerSecond), f.opts.Burst)
	}

	slots := make([]*model.PageFetchResult, len(selected))
	var g errgroup.Group
	g.SetLimit(maxPages)
	for i, page := range selected {
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			slots[i] = f.fetchOne(ctx, page)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]model.PageFetchResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	if len(results) == 0 {
		return nil, ErrNoPagesScraped
	}
	return results, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, page model.CandidatePage) *model.PageFetchResult {
	ctx, cancel := context.WithTimeout(ctx, f.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	res, err := f.scraper.Scrape(ctx, page.URL)
	if err != nil || res == nil {
		zap.L().Warn("crawl: page fetch failed",
			zap.String("url", page.URL),
			zap.String("page_type", string(page.PageType)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
		return nil
	}

	out := res.Page
	out.URL = page.URL
	out.PageType = page.PageType
	out.Tier = page.Tier
	if out.Source == "" {
		out.Source = res.Source
	}
	if out.FetchedAt.IsZero() {
		out.FetchedAt = time.Now().UTC()
	}
	return &out
}

// selectPages probes the candidates of each page type in catalog order,
// trying an alias only after every earlier candidate of its type was absent.
// Home is never probed. The kept pages are capped by tier.
func (f *Fetcher) selectPages(ctx context.Context, pages []model.CandidatePage, maxPages int) []model.CandidatePage {
	var order []model.PageType
	byType := make(map[model.PageType][]model.CandidatePage)
	for _, page := range pages {
		if _, ok := byType[page.PageType]; !ok {
			order = append(order, page.PageType)
		}
		byType[page.PageType] = append(byType[page.PageType], page)
	}

	found := make(map[model.PageType]model.CandidatePage, len(order))
	pending := order
	for round := 0; len(pending) > 0; round++ {
		batch := make([]model.CandidatePage, 0, len(pending))
		for _, pt := range pending {
			if round < len(byType[pt]) {
				batch = append(batch, byType[pt][round])
			}
		}
		if len(batch) == 0 {
			break
		}

		exists := make([]bool, len(batch))
		var g errgroup.Group
		g.SetLimit(maxPages)
		for i, page := range batch {
			if page.IsHome() {
				exists[i] = true
				continue
			}
			g.Go(func() error {
				exists[i] = f.prober.ProbeExists(ctx, page.URL)
				return nil
			})
		}
		_ = g.Wait()

		next := make([]model.PageType, 0, len(batch))
		for i, page := range batch {
			if exists[i] {
				found[page.PageType] = page
			} else {
				next = append(next, page.PageType)
			}
		}
		pending = next
	}

	selected := make([]model.CandidatePage, 0, len(found))
	for _, pt := range order {
		if page, ok := found[pt]; ok {
			selected = append(selected, page)
		}
	}

	sort.SliceStable(selected, func(a, b int) bool {
		return selected[a].Tier < selected[b].Tier
	})
	if len(selected) > maxPages {
		selected = selected[:maxPages]
	}
	return selected
}
