package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/llm"
	"github.com/sells-group/agent-pipeline/internal/resilience"
)

const defaultStageTimeout = 120 * time.Second

// StageError reports which stage failed. The message carries the upstream
// provider's text for diagnostics.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageTrace records one completed stage.
type StageTrace struct {
	Name         string        `json:"name"`
	Model        string        `json:"model"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

// Output is the result of the final stage.
type Output struct {
	Text   string
	JSON   map[string]any
	Stages []StageTrace
}

// Runner executes stages sequentially through a Generator.
type Runner struct {
	gen   llm.Generator
	retry resilience.RetryPolicy
}

// NewRunner creates a Runner. Transient provider errors are retried with
// policy inside each stage's deadline.
func NewRunner(gen llm.Generator, policy resilience.RetryPolicy) *Runner {
	policy.OnRetry = resilience.LogRetries(gen.Name(), "generate")
	return &Runner{gen: gen, retry: policy}
}

// Run executes the stages in order. Any stage failure aborts the sequence;
// the stages form one unit of work.
func (r *Runner) Run(ctx context.Context, stages []Stage, vars Vars) (*Output, error) {
	if len(stages) == 0 {
		return nil, &StageError{Stage: "none", Err: eris.New("no stages configured")}
	}
	if vars.Stages == nil {
		vars.Stages = make(map[string]string, len(stages))
	}

	out := &Output{}
	for i := range stages {
		st := &stages[i]
		text, trace, err := r.runStage(ctx, st, vars)
		if err != nil {
			return nil, &StageError{Stage: st.Name, Err: err}
		}
		out.Stages = append(out.Stages, trace)

		out.Text = text
		out.JSON = nil
		if st.Format != FormatText {
			obj, err := ParseJSONObject(text)
			if err != nil {
				return nil, &StageError{Stage: st.Name, Err: err}
			}
			out.JSON = obj
		}
		vars.Previous = text
		vars.Stages[st.Name] = text
	}
	return out, nil
}

func (r *Runner) runStage(ctx context.Context, st *Stage, vars Vars) (string, StageTrace, error) {
	prompt, err := st.render(vars)
	if err != nil {
		return "", StageTrace{}, err
	}

	timeout := st.Timeout
	if timeout <= 0 {
		timeout = defaultStageTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := resilience.Do(ctx, r.retry, func(ctx context.Context) (*llm.Response, error) {
		return r.gen.Generate(ctx, llm.Request{
			System:      st.System,
			Prompt:      prompt,
			MaxTokens:   st.MaxTokens,
			Temperature: st.Temperature,
			JSON:        st.Format != FormatText,
		})
	})
	elapsed := time.Since(start)
	if err != nil {
		zap.L().Warn("extract: stage failed",
			zap.String("stage", st.Name),
			zap.String("provider", r.gen.Name()),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.Error(err),
		)
		return "", StageTrace{}, err
	}

	zap.L().Info("extract: stage complete",
		zap.String("stage", st.Name),
		zap.String("model", resp.Model),
		zap.Int64("input_tokens", resp.InputTokens),
		zap.Int64("output_tokens", resp.OutputTokens),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return resp.Text, StageTrace{
		Name:         st.Name,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Duration:     elapsed,
	}, nil
}
