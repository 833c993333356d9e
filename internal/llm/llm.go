// Package llm adapts text-generation providers to one Generator interface
// used by the extraction stages.
package llm

import (
	"context"

	"github.com/rotisserie/eris"
)

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
	// JSON asks providers that support it for a JSON-only response.
	JSON bool
}

// Response is the generated text plus usage.
type Response struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// ErrTruncated is returned when the provider stopped at the token limit.
var ErrTruncated = eris.New("llm: output truncated at max tokens")

// ErrEmpty is returned when the provider produced no text.
var ErrEmpty = eris.New("llm: empty response")

// Config selects and configures a provider.
type Config struct {
	Provider       string `yaml:"provider" mapstructure:"provider"` // "anthropic" or "gemini"
	AnthropicKey   string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	AnthropicModel string `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	AnthropicBase  string `yaml:"anthropic_base_url" mapstructure:"anthropic_base_url"`
	GeminiKey      string `yaml:"gemini_key" mapstructure:"gemini_key"`
	GeminiModel    string `yaml:"gemini_model" mapstructure:"gemini_model"`
	GeminiBase     string `yaml:"gemini_base_url" mapstructure:"gemini_base_url"`
	// MaxTokens and Temperature fill requests that leave them unset.
	MaxTokens   int      `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature *float64 `yaml:"temperature" mapstructure:"temperature"`
}

// New builds the Generator named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Generator, error) {
	var (
		gen Generator
		err error
	)
	switch cfg.Provider {
	case "", "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, eris.New("llm: anthropic key is required")
		}
		gen = NewAnthropicGenerator(cfg.AnthropicKey, cfg.AnthropicModel, cfg.AnthropicBase)
	case "gemini":
		gen, err = NewGeminiGenerator(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.GeminiBase)
		if err != nil {
			return nil, err
		}
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 && cfg.Temperature == nil {
		return gen, nil
	}
	return &defaulted{Generator: gen, maxTokens: cfg.MaxTokens, temperature: cfg.Temperature}, nil
}

type defaulted struct {
	Generator
	maxTokens   int
	temperature *float64
}

func (d *defaulted) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = d.maxTokens
	}
	if req.Temperature == nil {
		req.Temperature = d.temperature
	}
	return d.Generator.Generate(ctx, req)
}
