package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agent-pipeline/internal/resilience"
	"github.com/sells-group/agent-pipeline/pkg/anthropic"
)

type mockAnthropic struct{ mock.Mock }

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*anthropic.MessageResponse)
	return resp, args.Error(1)
}

func textResponse(text, stop string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:      "claude-haiku-4-5-20251001",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: stop,
		Usage:      anthropic.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}
}

func TestAnthropicGenerator_Generate(t *testing.T) {
	client := &mockAnthropic{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.MaxTokens == 2048 &&
			len(req.System) == 1 && req.System[0].Text == "system rules" &&
			len(req.Messages) == 1 && req.Messages[0].Content == "extract"
	})).Return(textResponse("  {\"ok\":true}  ", "end_turn"), nil)

	g := NewAnthropicGeneratorFromClient(client, "")
	resp, err := g.Generate(context.Background(), Request{System: "system rules", Prompt: "extract", MaxTokens: 2048})

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, int64(10), resp.InputTokens)
	assert.Equal(t, "anthropic", g.Name())
	client.AssertExpectations(t)
}

func TestAnthropicGenerator_Truncated(t *testing.T) {
	client := &mockAnthropic{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"a":`, "max_tokens"), nil)

	_, err := NewAnthropicGeneratorFromClient(client, "m").Generate(context.Background(), Request{Prompt: "p"})
	require.ErrorIs(t, err, ErrTruncated)
	assert.False(t, resilience.IsTransient(err))
}

func TestAnthropicGenerator_Empty(t *testing.T) {
	client := &mockAnthropic{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("   ", "end_turn"), nil)

	_, err := NewAnthropicGeneratorFromClient(client, "m").Generate(context.Background(), Request{Prompt: "p"})
	require.ErrorIs(t, err, ErrEmpty)
}

func TestAnthropicGenerator_OverloadedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicGenerator("k", "", srv.URL).Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestAnthropicGenerator_BadRequestIsPermanent(t *testing.T) {
	client := &mockAnthropic{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid request"))

	_, err := NewAnthropicGeneratorFromClient(client, "m").Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func geminiServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if status == http.StatusOK {
			assert.NotNil(t, req["systemInstruction"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeminiGenerator_Generate(t *testing.T) {
	srv := geminiServer(t, http.StatusOK, `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"niche\":\"dental\"}"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 42, "candidatesTokenCount": 7},
		"modelVersion": "gemini-2.5-flash-001"
	}`)

	g, err := NewGeminiGenerator(context.Background(), "test-key", "", srv.URL)
	require.NoError(t, err)

	resp, err := g.Generate(context.Background(), Request{System: "rules", Prompt: "extract", MaxTokens: 512, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"niche":"dental"}`, resp.Text)
	assert.Equal(t, "gemini-2.5-flash-001", resp.Model)
	assert.Equal(t, "STOP", resp.StopReason)
	assert.Equal(t, int64(42), resp.InputTokens)
	assert.Equal(t, int64(7), resp.OutputTokens)
}

func TestGeminiGenerator_RateLimitedIsTransient(t *testing.T) {
	srv := geminiServer(t, http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`)

	g, err := NewGeminiGenerator(context.Background(), "test-key", "", srv.URL)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "anthropic"})
	assert.Error(t, err)

	g, err := New(context.Background(), Config{AnthropicKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", g.Name())

	_, err = New(context.Background(), Config{Provider: "gemini"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Provider: "openai"})
	assert.Error(t, err)
}

type recordingGenerator struct{ got Request }

func (r *recordingGenerator) Name() string { return "rec" }

func (r *recordingGenerator) Generate(_ context.Context, req Request) (*Response, error) {
	r.got = req
	return &Response{Text: "ok"}, nil
}

func TestDefaulted_FillsUnsetFields(t *testing.T) {
	temp := 0.2
	rec := &recordingGenerator{}
	g := &defaulted{Generator: rec, maxTokens: 1024, temperature: &temp}

	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, 1024, rec.got.MaxTokens)
	require.NotNil(t, rec.got.Temperature)
	assert.InDelta(t, 0.2, *rec.got.Temperature, 1e-9)

	own := 0.9
	_, err = g.Generate(context.Background(), Request{Prompt: "p", MaxTokens: 64, Temperature: &own})
	require.NoError(t, err)
	assert.Equal(t, 64, rec.got.MaxTokens)
	assert.InDelta(t, 0.9, *rec.got.Temperature, 1e-9)
	assert.Equal(t, "rec", g.Name())
}

func TestNew_WrapsDefaults(t *testing.T) {
	g, err := New(context.Background(), Config{AnthropicKey: "k", MaxTokens: 2000})
	require.NoError(t, err)
	_, ok := g.(*defaulted)
	assert.True(t, ok)
	assert.Equal(t, "anthropic", g.Name())
}
