package scrape

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rotisserie/eris"
)

const (
	maxHeadings = 30
	maxCTAs     = 20
	maxCTALen   = 80
)

// Boilerplate that never carries brand copy.
const strippedSelectors = "script, style, noscript, template, svg, iframe, nav, footer, [aria-hidden='true']"

var (
	ctaKeywordRe = regexp.MustCompile(`(?i)\b(get started|start|sign ?up|try|demo|book|contact|talk to|pricing|buy|subscribe|join|download|request|schedule)\b`)
	ctaClassRe   = regexp.MustCompile(`(?i)(^|[\s_-])(cta|btn|button)([\s_-]|$)`)
	spaceRe      = regexp.MustCompile(`\s+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	mdHeadingRe  = regexp.MustCompile(`(?m)^#{1,3}\s+(.+?)\s*#*\s*$`)
)

// htmlExtractor turns raw HTML into markdown plus the page's headings and
// calls to action.
type htmlExtractor struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

func newHTMLExtractor() *htmlExtractor {
	return &htmlExtractor{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

type extracted struct {
	Title    string
	Content  string
	Headings []string
	CTAs     []string
}

func (x *htmlExtractor) extract(body []byte, pageURL string) (*extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse html")
	}

	out := &extracted{
		Title:    pageTitle(doc),
		Headings: headings(doc),
		CTAs:     callsToAction(doc),
	}

	doc.Find(strippedSelectors).Remove()
	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	raw, err := goquery.OuterHtml(root)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: render html")
	}

	md, err := x.conv.ConvertString(x.policy.Sanitize(raw), converter.WithDomain(pageURL))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: convert markdown")
	}
	out.Content = strings.TrimSpace(blankLinesRe.ReplaceAllString(md, "\n\n"))
	return out, nil
}

func pageTitle(doc *goquery.Document) string {
	if t := collapse(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		return collapse(og)
	}
	return collapse(doc.Find("h1").First().Text())
}

func headings(doc *goquery.Document) []string {
	var out []string
	seen := make(map[string]bool)
	doc.Find("h1, h2, h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = appendUnique(out, seen, collapse(s.Text()))
		return len(out) < maxHeadings
	})
	return out
}

func callsToAction(doc *goquery.Document) []string {
	var out []string
	seen := make(map[string]bool)
	doc.Find("a, button, input[type=submit]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := collapse(s.Text())
		if text == "" {
			text = collapse(s.AttrOr("value", ""))
		}
		if text == "" || len(text) > maxCTALen {
			return true
		}
		isButton := s.Is("button, input")
		if isButton || ctaClassRe.MatchString(s.AttrOr("class", "")) || ctaKeywordRe.MatchString(text) {
			out = appendUnique(out, seen, text)
		}
		return len(out) < maxCTAs
	})
	return out
}

// headingsFromMarkdown recovers h1-h3 lines from provider markdown.
func headingsFromMarkdown(md string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mdHeadingRe.FindAllStringSubmatch(md, -1) {
		out = appendUnique(out, seen, collapse(m[1]))
		if len(out) >= maxHeadings {
			break
		}
	}
	return out
}

func appendUnique(out []string, seen map[string]bool, s string) []string {
	if s == "" {
		return out
	}
	key := strings.ToLower(s)
	if seen[key] {
		return out
	}
	seen[key] = true
	return append(out, s)
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
