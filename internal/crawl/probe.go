package crawl

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/safeurl"
)

// Prober reports whether a candidate page exists.
type Prober interface {
	ProbeExists(ctx context.Context, url string) bool
}

// HTTPProber checks existence with a HEAD request. Any error, timeout or
// status outside 2xx/3xx counts as absent.
type HTTPProber struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	guard     safeurl.Resolver
}

// NewHTTPProber creates a prober with the given per-probe timeout. A
// non-nil guard re-validates redirect targets.
func NewHTTPProber(timeout time.Duration, userAgent string, guard safeurl.Resolver) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; AgentPipelineBot/1.0)"
	}
	p := &HTTPProber{timeout: timeout, userAgent: userAgent, guard: guard}
	p.client = &http.Client{CheckRedirect: p.checkRedirect}
	return p
}

func (p *HTTPProber) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return eris.New("probe: too many redirects")
	}
	if p.guard == nil {
		return nil
	}
	_, err := p.guard.Resolve(req.Context(), req.URL.String())
	return err
}

// ProbeExists implements Prober.
func (p *HTTPProber) ProbeExists(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		zap.L().Debug("probe: page unreachable", zap.String("url", url), zap.Error(err))
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
