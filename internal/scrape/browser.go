package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/resilience"
)

// BrowserScraper renders pages in headless Chrome for sites that only ship
// a JavaScript shell. The browser is started on first use.
type BrowserScraper struct {
	controlURL string
	extractor  *htmlExtractor
	breaker    *resilience.Breaker

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowserScraper creates a BrowserScraper. An empty controlURL launches
// a local headless Chrome; otherwise it connects to a remote DevTools
// endpoint.
func NewBrowserScraper(controlURL string) *BrowserScraper {
	return &BrowserScraper{
		controlURL: controlURL,
		extractor:  newHTMLExtractor(),
		breaker:    resilience.NewBreaker(resilience.BreakerConfig{Name: "browser", FailureThreshold: 2}),
	}
}

func (b *BrowserScraper) Name() string           { return "browser" }
func (b *BrowserScraper) Supports(_ string) bool { return true }

// Scrape navigates a stealth tab to targetURL and extracts the rendered DOM.
func (b *BrowserScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	return resilience.Call(ctx, b.breaker, func(ctx context.Context) (*Result, error) {
		return b.render(ctx, targetURL)
	})
}

func (b *BrowserScraper) render(ctx context.Context, targetURL string) (*Result, error) {
	browser, err := b.connect()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, eris.Wrap(err, "browser: create tab")
	}
	defer func() { _ = page.Close() }()

	p := page.Context(ctx)
	if err := p.Navigate(targetURL); err != nil {
		return nil, eris.Wrapf(err, "browser: navigate %s", targetURL)
	}
	if err := p.WaitLoad(); err != nil {
		zap.L().Debug("browser: wait load", zap.String("url", targetURL), zap.Error(err))
	}
	html, err := p.HTML()
	if err != nil {
		return nil, eris.Wrap(err, "browser: read dom")
	}

	ex, err := b.extractor.extract([]byte(html), targetURL)
	if err != nil {
		return nil, err
	}
	if len(ex.Content) < minContentChars || isChallengeText(ex.Content) {
		return nil, eris.Wrap(errUnusableContent, "browser")
	}

	return &Result{
		Page: model.PageFetchResult{
			URL:         targetURL,
			StatusCode:  200,
			ContentType: "text/html",
			Title:       ex.Title,
			Content:     ex.Content,
			Headings:    ex.Headings,
			CTAs:        ex.CTAs,
			Source:      "browser",
			FetchedAt:   time.Now().UTC(),
		},
		Source: "browser",
	}, nil
}

func (b *BrowserScraper) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.controlURL
	if wsURL == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, eris.Wrap(err, "browser: launch")
		}
		wsURL = u
		b.lnch = l
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, eris.Wrap(err, "browser: connect")
	}
	b.browser = browser
	zap.L().Info("browser: connected", zap.Bool("remote", b.controlURL != ""))
	return browser, nil
}

// Close shuts the browser down. Safe to call when it was never started.
func (b *BrowserScraper) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
	return err
}
