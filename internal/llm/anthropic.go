package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/agent-pipeline/internal/resilience"
	"github.com/sells-group/agent-pipeline/pkg/anthropic"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

// AnthropicGenerator generates through the Anthropic Messages API.
type AnthropicGenerator struct {
	client anthropic.Client
	model  string
}

// NewAnthropicGenerator creates a generator. An empty baseURL uses the
// public endpoint.
func NewAnthropicGenerator(apiKey, model, baseURL string) *AnthropicGenerator {
	var opts []option.RequestOption
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return NewAnthropicGeneratorFromClient(anthropic.NewClient(apiKey, opts...), model)
}

// NewAnthropicGeneratorFromClient wraps an existing client.
func NewAnthropicGeneratorFromClient(client anthropic.Client, model string) *AnthropicGenerator {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicGenerator{client: client, model: model}
}

func (g *AnthropicGenerator) Name() string { return "anthropic" }

// Generate implements Generator. Retryable HTTP statuses come back as
// resilience.TransientError.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       g.model,
		MaxTokens:   int64(maxTokens),
		System:      anthropic.CachedSystem(req.System),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, resilience.ClassifyStatus(err, anthropic.StatusCode(err))
	}
	resp.Usage.LogCost(g.model, "generate")

	text := strings.TrimSpace(resp.Text())
	if resp.StopReason == "max_tokens" {
		return nil, eris.Wrapf(ErrTruncated, "anthropic: %d output tokens", resp.Usage.OutputTokens)
	}
	if text == "" {
		return nil, eris.Wrap(ErrEmpty, "anthropic")
	}

	return &Response{
		Text:         text,
		Model:        resp.Model,
		StopReason:   resp.StopReason,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
