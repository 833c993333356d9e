package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig          `yaml:"store" mapstructure:"store"`
	Auth       AuthConfig           `yaml:"auth" mapstructure:"auth"`
	LLM        LLMConfig            `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig      `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig         `yaml:"gemini" mapstructure:"gemini"`
	Jina       JinaConfig           `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig      `yaml:"firecrawl" mapstructure:"firecrawl"`
	Browser    BrowserConfig        `yaml:"browser" mapstructure:"browser"`
	Crawl      CrawlConfig          `yaml:"crawl" mapstructure:"crawl"`
	Aggregate  AggregateConfig      `yaml:"aggregate" mapstructure:"aggregate"`
	Retry      RetryConfig          `yaml:"retry" mapstructure:"retry"`
	RateLimits map[string]RateClass `yaml:"rate_limits" mapstructure:"rate_limits"`
	Pipeline   PipelineConfig       `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig         `yaml:"server" mapstructure:"server"`
	Log        LogConfig            `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AuthConfig holds the bearer token settings of the HTTP API.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string `yaml:"issuer" mapstructure:"issuer"`
	Audience  string `yaml:"audience" mapstructure:"audience"`
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider    string   `yaml:"provider" mapstructure:"provider"`
	MaxTokens   int      `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature *float64 `yaml:"temperature" mapstructure:"temperature"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI Reader settings. An empty key uses the
// anonymous tier.
type JinaConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// FirecrawlConfig holds Firecrawl API settings. The provider is skipped
// without a key.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BrowserConfig enables the headless browser fallback.
type BrowserConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// CrawlConfig bounds page discovery and fetching.
type CrawlConfig struct {
	MaxPages          int     `yaml:"max_pages" mapstructure:"max_pages"`
	ProbeTimeoutSecs  int     `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
	FetchTimeoutSecs  int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	// AllowPrivate permits http and private addresses. Development only.
	AllowPrivate bool `yaml:"allow_private" mapstructure:"allow_private"`
}

// AggregateConfig holds the content budgets, in characters.
type AggregateConfig struct {
	PerPageChars int `yaml:"per_page_chars" mapstructure:"per_page_chars"`
	TotalChars   int `yaml:"total_chars" mapstructure:"total_chars"`
}

// RetryConfig controls retries of transient provider errors.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// RateClass is one operation class's fixed window.
type RateClass struct {
	Window      time.Duration `yaml:"window" mapstructure:"window"`
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	// AgentsFile overrides the embedded agent catalog.
	AgentsFile string `yaml:"agents_file" mapstructure:"agents_file"`
	// CacheTTL is the age after which `cache purge` deletes profiles.
	CacheTTL     time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	TraceVersion int           `yaml:"trace_version" mapstructure:"trace_version"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AGENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have empty defaults so AutomaticEnv can see them.
	for _, key := range []string{"auth.jwt_secret", "anthropic.key", "gemini.key", "jina.key", "firecrawl.key"} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "agents.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("jina.enabled", true)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.timeout_secs", 20)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("browser.enabled", false)
	v.SetDefault("crawl.max_pages", 5)
	v.SetDefault("crawl.probe_timeout_secs", 5)
	v.SetDefault("crawl.fetch_timeout_secs", 30)
	v.SetDefault("crawl.requests_per_second", 2.0)
	v.SetDefault("crawl.burst", 2)
	v.SetDefault("crawl.user_agent", "Mozilla/5.0 (compatible; AgentPipelineBot/1.0)")
	v.SetDefault("crawl.allow_private", false)
	v.SetDefault("aggregate.per_page_chars", 15000)
	v.SetDefault("aggregate.total_chars", 60000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", "1s")
	v.SetDefault("retry.max_backoff", "20s")
	v.SetDefault("rate_limits.scrape.window", "1h")
	v.SetDefault("rate_limits.scrape.max_requests", 10)
	v.SetDefault("rate_limits.generation.window", "1h")
	v.SetDefault("rate_limits.generation.max_requests", 30)
	v.SetDefault("pipeline.agents_file", "")
	v.SetDefault("pipeline.cache_ttl", "720h")
	v.SetDefault("pipeline.trace_version", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.request_timeout_secs", 600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	req := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		req(c.Store.DatabaseURL != "", "store.database_url is required")
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	switch mode {
	case "serve":
		req(c.Server.Port > 0, "server.port must be > 0")
		req(len(c.Auth.JWTSecret) >= 32, "auth.jwt_secret must be at least 32 characters")
		errs = append(errs, c.validatePipeline()...)
	case "run":
		errs = append(errs, c.validatePipeline()...)
	case "migrate", "credits", "runs":
	case "cache":
		req(c.Pipeline.CacheTTL > 0, "pipeline.cache_ttl must be > 0")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var errs []string
	switch c.LLM.Provider {
	case "", "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "gemini":
		if c.Gemini.Key == "" {
			errs = append(errs, "gemini.key is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("llm.provider must be anthropic or gemini, got %q", c.LLM.Provider))
	}
	if c.Crawl.MaxPages < 1 || c.Crawl.MaxPages > 10 {
		errs = append(errs, "crawl.max_pages must be between 1 and 10")
	}
	if c.Aggregate.PerPageChars <= 0 || c.Aggregate.TotalChars < c.Aggregate.PerPageChars {
		errs = append(errs, "aggregate budgets must be positive with total_chars >= per_page_chars")
	}
	for name, rc := range c.RateLimits {
		if rc.Window <= 0 || rc.MaxRequests <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limits.%s needs a positive window and max_requests", name))
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
