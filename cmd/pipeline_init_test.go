package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agent-pipeline/internal/config"
)

func usePipelineConfig(t *testing.T) {
	t.Helper()
	useSQLiteConfig(t)
	cfg.LLM = config.LLMConfig{Provider: "anthropic", MaxTokens: 2048}
	cfg.Anthropic = config.AnthropicConfig{Key: "test-key", Model: "claude-haiku-4-5-20251001"}
	cfg.Crawl = config.CrawlConfig{
		MaxPages:          5,
		ProbeTimeoutSecs:  5,
		FetchTimeoutSecs:  30,
		RequestsPerSecond: 2,
		Burst:             2,
		UserAgent:         "test-agent",
	}
	cfg.Aggregate = config.AggregateConfig{PerPageChars: 15000, TotalChars: 60000}
	cfg.RateLimits = map[string]config.RateClass{
		"scrape":     {Window: time.Hour, MaxRequests: 10},
		"generation": {Window: time.Hour, MaxRequests: 30},
	}
	cfg.Pipeline.TraceVersion = 1
}

func TestPipelineEnv_Close_Nil(t *testing.T) {
	pe := &pipelineEnv{}
	assert.NotPanics(t, func() {
		pe.Close()
	})
}

func TestPipelineEnv_Close_RunsClosersInReverse(t *testing.T) {
	var order []int
	pe := &pipelineEnv{closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return assert.AnError },
	}}
	pe.Close()
	assert.Equal(t, []int{2, 1}, order)
}

func TestInitPipeline(t *testing.T) {
	usePipelineConfig(t)

	env, err := initPipeline(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Orchestrator)
	assert.NotNil(t, env.Limiter)
	assert.Len(t, env.Catalog.List(), 6)

	balance, err := env.Store.GetBalance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestInitPipeline_InvalidConfig(t *testing.T) {
	usePipelineConfig(t)
	cfg.Anthropic.Key = ""

	_, err := initPipeline(context.Background(), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
}

func TestInitPipeline_BadAgentsFile(t *testing.T) {
	usePipelineConfig(t)
	cfg.Pipeline.AgentsFile = t.TempDir() + "/missing.yaml"

	_, err := initPipeline(context.Background(), "run")
	assert.Error(t, err)
}

func TestRetryPolicy_FromConfig(t *testing.T) {
	usePipelineConfig(t)
	cfg.Retry = config.RetryConfig{MaxAttempts: 5, InitialBackoff: 2 * time.Second}

	p := retryPolicy("jina", "read")
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.InitialBackoff)
	assert.Equal(t, 20*time.Second, p.MaxBackoff)
	assert.NotNil(t, p.OnRetry)
}

func TestRateClasses(t *testing.T) {
	usePipelineConfig(t)

	classes := rateClasses()
	require.Len(t, classes, 2)
	assert.Equal(t, "scrape", classes["scrape"].Name)
	assert.Equal(t, 10, classes["scrape"].MaxRequests)
	assert.Equal(t, time.Hour, classes["generation"].Window)
}

func TestBuildScrapeChain_RegistersBrowserCloser(t *testing.T) {
	usePipelineConfig(t)
	cfg.Jina = config.JinaConfig{Enabled: true, BaseURL: "https://r.jina.ai", TimeoutSecs: 20}
	cfg.Firecrawl = config.FirecrawlConfig{Key: "fc-key"}
	cfg.Browser.Enabled = true

	env := &pipelineEnv{}
	chain := buildScrapeChain(nil, env)
	require.NotNil(t, chain)
	assert.True(t, chain.Supports("https://example.com"))
	assert.Len(t, env.closers, 1)
}
