package scrape

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html/charset"

	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/safeurl"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; AgentPipelineBot/1.0)"
	maxHTMLBytes     = 2 << 20
	minContentChars  = 100
	maxRedirects     = 5
)

// LocalScraper fetches HTML directly and converts it to markdown. Free, no
// API calls. Falls through to the hosted readers when blocked.
type LocalScraper struct {
	client    *http.Client
	userAgent string
	guard     safeurl.Resolver
	extractor *htmlExtractor
}

// LocalOption configures a LocalScraper.
type LocalOption func(*LocalScraper)

// WithRedirectGuard re-validates every redirect target so a public page
// cannot bounce the fetch onto a private address.
func WithRedirectGuard(r safeurl.Resolver) LocalOption {
	return func(l *LocalScraper) { l.guard = r }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) LocalOption {
	return func(l *LocalScraper) {
		if ua != "" {
			l.userAgent = ua
		}
	}
}

// NewLocalScraper creates a LocalScraper with sensible defaults.
func NewLocalScraper(opts ...LocalOption) *LocalScraper {
	l := &LocalScraper{
		userAgent: defaultUserAgent,
		extractor: newHTMLExtractor(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.client = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 5,
		},
		CheckRedirect: l.checkRedirect,
	}
	return l
}

func (l *LocalScraper) Name() string           { return "local_http" }
func (l *LocalScraper) Supports(_ string) bool { return true }

func (l *LocalScraper) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return eris.Errorf("local_http: stopped after %d redirects", maxRedirects)
	}
	if l.guard == nil {
		return nil
	}
	if _, err := l.guard.Resolve(req.Context(), req.URL.String()); err != nil {
		return eris.Wrap(err, "local_http: unsafe redirect")
	}
	return nil
}

// Scrape fetches a URL, rejects anti-bot walls and converts the page.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return nil, eris.Errorf("local_http: unsupported content type %q", contentType)
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxHTMLBytes), contentType)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: decode charset")
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if block := DetectBlock(resp.StatusCode, resp.Header, body); block != BlockNone {
		return nil, eris.Errorf("local_http: blocked (%s)", block)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}

	ex, err := l.extractor.extract(body, resp.Request.URL.String())
	if err != nil {
		return nil, err
	}
	if len(ex.Content) < minContentChars {
		return nil, eris.New("local_http: empty page")
	}

	return &Result{
		Page: model.PageFetchResult{
			URL:         targetURL,
			StatusCode:  resp.StatusCode,
			ContentType: contentType,
			Title:       ex.Title,
			Content:     ex.Content,
			Headings:    ex.Headings,
			CTAs:        ex.CTAs,
			Source:      "local_http",
			FetchedAt:   time.Now().UTC(),
		},
		Source: "local_http",
	}, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
