// Package crawl enumerates, probes, fetches and aggregates the small fixed
// set of marketing pages an agent reads from a site.
package crawl

import (
	"net/url"

	"github.com/sells-group/agent-pipeline/internal/model"
)

type catalogEntry struct {
	path     string
	pageType model.PageType
	tier     model.PriorityTier
}

// Aliases share a page type; the first one that exists is kept.
var catalog = []catalogEntry{
	{"/", model.PageTypeHome, model.TierMandatory},
	{"/about", model.PageTypeAbout, model.TierHigh},
	{"/about-us", model.PageTypeAbout, model.TierHigh},
	{"/pricing", model.PageTypePricing, model.TierHigh},
	{"/plans", model.PageTypePricing, model.TierHigh},
	{"/features", model.PageTypeFeatures, model.TierMedium},
	{"/product", model.PageTypeProduct, model.TierMedium},
	{"/products", model.PageTypeProduct, model.TierMedium},
}

// Discover returns the candidate pages for a site. It is derived from the
// base URL alone and never touches the network.
func Discover(base *url.URL) []model.CandidatePage {
	origin := base.Scheme + "://" + base.Host
	pages := make([]model.CandidatePage, 0, len(catalog))
	for _, e := range catalog {
		u := origin + e.path
		pages = append(pages, model.CandidatePage{
			Path:     e.path,
			URL:      u,
			PageType: e.pageType,
			Tier:     e.tier,
		})
	}
	return pages
}

// SinglePage returns the one candidate for agents that read exactly the
// URL they were given.
func SinglePage(u *url.URL) []model.CandidatePage {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	pageType := model.PageTypeHome
	for _, e := range catalog {
		if e.path == path {
			pageType = e.pageType
			break
		}
	}
	return []model.CandidatePage{{
		Path:     path,
		URL:      u.String(),
		PageType: pageType,
		Tier:     model.TierMandatory,
	}}
}
