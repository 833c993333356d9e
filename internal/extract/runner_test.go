package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/agent-pipeline/internal/llm"
	"github.com/sells-group/agent-pipeline/internal/resilience"
)

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) Name() string { return "mock" }

func (m *mockGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.Response)
	return resp, args.Error(1)
}

var fastPolicy = resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

func promptContains(s string) any {
	return mock.MatchedBy(func(req llm.Request) bool { return strings.Contains(req.Prompt, s) })
}

func TestRunner_SingleJSONStage(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, promptContains("=== HOME")).
		Return(&llm.Response{Text: "```json\n{\"niche\":\"dental\"}\n```", Model: "m", InputTokens: 100, OutputTokens: 20}, nil).Once()

	stages := []Stage{{Name: "profile", System: "sys", Prompt: "Site {{.Domain}}:\n{{.Content}}\nSchema: {{.Schema}}", MaxTokens: 4096}}
	require.NoError(t, stages[0].Compile())

	out, err := NewRunner(gen, fastPolicy).Run(context.Background(), stages, Vars{
		Content: "=== HOME (https://example.com/) ===\nhello",
		Domain:  "example.com",
		Schema:  "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, "dental", out.JSON["niche"])
	require.Len(t, out.Stages, 1)
	assert.Equal(t, int64(100), out.Stages[0].InputTokens)
	gen.AssertExpectations(t)
}

func TestRunner_SecondStageSeesFirstOutput(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, promptContains("Outline for Acme")).
		Return(&llm.Response{Text: "1. Welcome\n2. Nudge"}, nil).Once()
	gen.On("Generate", mock.Anything, promptContains("1. Welcome\n2. Nudge")).
		Return(&llm.Response{Text: `{"emails":[{"subject":"Hi"}]}`}, nil).Once()

	stages := []Stage{
		{Name: "outline", Prompt: "Outline for {{index .Params \"product\"}}", Format: FormatText},
		{Name: "emails", Prompt: "Write emails from:\n{{.Previous}}\n(outline was {{index .Stages \"outline\" | len}} chars)"},
	}
	for i := range stages {
		require.NoError(t, stages[i].Compile())
	}

	out, err := NewRunner(gen, fastPolicy).Run(context.Background(), stages, Vars{Params: map[string]string{"product": "Acme"}})
	require.NoError(t, err)
	assert.Len(t, out.Stages, 2)
	emails, ok := out.JSON["emails"].([]any)
	require.True(t, ok)
	assert.Len(t, emails, 1)
	gen.AssertExpectations(t)
}

func TestRunner_StageFailureStopsSequence(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, promptContains("first")).
		Return(nil, errors.New("anthropic: 400 invalid_request_error")).Once()

	stages := []Stage{{Name: "a", Prompt: "first"}, {Name: "b", Prompt: "second"}}

	_, err := NewRunner(gen, fastPolicy).Run(context.Background(), stages, Vars{})
	require.Error(t, err)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "a", se.Stage)
	assert.Contains(t, err.Error(), "invalid_request_error")
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRunner_RetriesTransientErrors(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Twice()
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(&llm.Response{Text: `{"ok":true}`}, nil).Once()

	out, err := NewRunner(gen, fastPolicy).Run(context.Background(), []Stage{{Name: "s", Prompt: "p"}}, Vars{})
	require.NoError(t, err)
	assert.Equal(t, true, out.JSON["ok"])
	gen.AssertNumberOfCalls(t, "Generate", 3)
}

func TestRunner_MalformedJSON(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(&llm.Response{Text: "I cannot help with that."}, nil)

	_, err := NewRunner(gen, fastPolicy).Run(context.Background(), []Stage{{Name: "s", Prompt: "p"}}, Vars{})
	require.ErrorIs(t, err, ErrNoJSONObject)
}

func TestRunner_StageTimeout(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded)

	stages := []Stage{{Name: "slow", Prompt: "p", Timeout: 20 * time.Millisecond}}
	_, err := NewRunner(gen, fastPolicy).Run(context.Background(), stages, Vars{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRunner_NoStages(t *testing.T) {
	_, err := NewRunner(&mockGenerator{}, fastPolicy).Run(context.Background(), nil, Vars{})
	require.Error(t, err)
}

func TestStage_Compile(t *testing.T) {
	assert.Error(t, (&Stage{Prompt: "p"}).Compile())
	assert.Error(t, (&Stage{Name: "x"}).Compile())
	assert.Error(t, (&Stage{Name: "x", Prompt: "{{.Nope"}).Compile())
	assert.Error(t, (&Stage{Name: "x", Prompt: "p", Format: "xml"}).Compile())

	s := Stage{Name: "x", Prompt: "{{upper .Domain}} {{default \"n/a\" .URL}}"}
	require.NoError(t, s.Compile())
	assert.Equal(t, FormatJSON, s.Format)
	got, err := s.render(Vars{Domain: "acme.io"})
	require.NoError(t, err)
	assert.Equal(t, "ACME.IO n/a", got)
}
