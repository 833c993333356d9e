package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/agent"
	"github.com/sells-group/agent-pipeline/internal/crawl"
	"github.com/sells-group/agent-pipeline/internal/extract"
	"github.com/sells-group/agent-pipeline/internal/llm"
	"github.com/sells-group/agent-pipeline/internal/pipeline"
	"github.com/sells-group/agent-pipeline/internal/ratelimit"
	"github.com/sells-group/agent-pipeline/internal/resilience"
	"github.com/sells-group/agent-pipeline/internal/safeurl"
	"github.com/sells-group/agent-pipeline/internal/scrape"
	"github.com/sells-group/agent-pipeline/internal/store"
	"github.com/sells-group/agent-pipeline/pkg/firecrawl"
	"github.com/sells-group/agent-pipeline/pkg/jina"
)

// pipelineEnv holds the shared dependencies of the run and serve commands.
type pipelineEnv struct {
	Store        store.Store
	Catalog      *agent.Catalog
	Orchestrator *pipeline.Orchestrator
	Limiter      *ratelimit.MemoryLimiter

	closers []func() error
}

// Close releases the browser and the store.
func (e *pipelineEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("pipeline: close failed", zap.Error(err))
		}
	}
}

// initPipeline validates the config for mode and wires the orchestrator.
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	catalog, err := agent.Load(cfg.Pipeline.AgentsFile)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st, Catalog: catalog}
	env.closers = append(env.closers, st.Close)

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, err
	}

	gen, err := llm.New(ctx, llm.Config{
		Provider:       cfg.LLM.Provider,
		AnthropicKey:   cfg.Anthropic.Key,
		AnthropicModel: cfg.Anthropic.Model,
		AnthropicBase:  cfg.Anthropic.BaseURL,
		GeminiKey:      cfg.Gemini.Key,
		GeminiModel:    cfg.Gemini.Model,
		GeminiBase:     cfg.Gemini.BaseURL,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	guard := safeurl.New(safeurl.WithAllowPrivate(cfg.Crawl.AllowPrivate))
	chain := buildScrapeChain(guard, env)
	prober := crawl.NewHTTPProber(secs(cfg.Crawl.ProbeTimeoutSecs), cfg.Crawl.UserAgent, guard)
	fetcher := crawl.NewFetcher(chain, prober, crawl.FetchOptions{
		FetchTimeout:      secs(cfg.Crawl.FetchTimeoutSecs),
		RequestsPerSecond: cfg.Crawl.RequestsPerSecond,
		Burst:             cfg.Crawl.Burst,
	})

	env.Limiter = ratelimit.NewMemoryLimiter()

	env.Orchestrator = pipeline.New(pipeline.Deps{
		Resolver: guard,
		Limiter:  env.Limiter,
		Ledger:   st,
		Costs:    st,
		Results:  st,
		Runs:     st,
		Cache:    st,
		Fetcher:  fetcher,
		Stages:   extract.NewRunner(gen, retryPolicy(gen.Name(), "generate")),
	}, pipeline.Options{
		Classes:  rateClasses(),
		MaxPages: cfg.Crawl.MaxPages,
		Aggregate: crawl.AggregateOptions{
			PerPageChars: cfg.Aggregate.PerPageChars,
			TotalChars:   cfg.Aggregate.TotalChars,
		},
		TraceVersion: cfg.Pipeline.TraceVersion,
	})

	zap.L().Info("pipeline: initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("llm", gen.Name()),
		zap.Int("agents", len(catalog.List())),
	)
	return env, nil
}

// buildScrapeChain orders providers from cheapest to heaviest. The browser
// is registered with env so its process is stopped on Close.
func buildScrapeChain(guard safeurl.Resolver, env *pipelineEnv) *scrape.Chain {
	scrapers := []scrape.Scraper{
		scrape.NewLocalScraper(
			scrape.WithRedirectGuard(guard),
			scrape.WithUserAgent(cfg.Crawl.UserAgent),
		),
	}
	if cfg.Jina.Enabled {
		client := jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithReaderTimeout(secs(cfg.Jina.TimeoutSecs)),
		)
		scrapers = append(scrapers, scrape.NewJinaAdapter(client, retryPolicy("jina", "read")))
	}
	if cfg.Firecrawl.Key != "" {
		client := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(client, retryPolicy("firecrawl", "scrape")))
	}
	if cfg.Browser.Enabled {
		b := scrape.NewBrowserScraper("")
		env.closers = append(env.closers, b.Close)
		scrapers = append(scrapers, b)
	}
	names := make([]string, len(scrapers))
	for i, s := range scrapers {
		names[i] = s.Name()
	}
	zap.L().Info("pipeline: scrape chain", zap.Strings("scrapers", names))
	return scrape.NewChain(scrapers...)
}

func retryPolicy(provider, operation string) resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		p.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialBackoff > 0 {
		p.InitialBackoff = cfg.Retry.InitialBackoff
	}
	if cfg.Retry.MaxBackoff > 0 {
		p.MaxBackoff = cfg.Retry.MaxBackoff
	}
	p.OnRetry = resilience.LogRetries(provider, operation)
	return p
}

func rateClasses() map[string]ratelimit.Class {
	classes := make(map[string]ratelimit.Class, len(cfg.RateLimits))
	for name, rc := range cfg.RateLimits {
		classes[name] = ratelimit.Class{Name: name, Window: rc.Window, MaxRequests: rc.MaxRequests}
	}
	return classes
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
