package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <agent-slug>",
	Short: "Run one agent invocation and print the result",
	Long:  "Runs an agent for a user exactly as the API would, charging the user's credits, and prints the outcome as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		userID, _ := cmd.Flags().GetString("user")
		rawURL, _ := cmd.Flags().GetString("url")
		rawParams, _ := cmd.Flags().GetStringArray("param")

		params, err := parseParams(rawParams)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		def, ok := env.Catalog.Get(args[0])
		if !ok {
			return eris.Errorf("unknown agent %q", args[0])
		}

		out, err := env.Orchestrator.Run(ctx, pipeline.Invocation{
			UserID: userID,
			Agent:  def,
			RawURL: rawURL,
			Params: params,
		})
		if err != nil {
			zap.L().Error("run failed",
				zap.String("agent", def.Slug),
				zap.String("kind", string(pipeline.KindOf(err))),
				zap.Error(err),
			)
			return err
		}

		return writeRunOutput(os.Stdout, out)
	},
}

// runOutput is the printed form of an outcome.
type runOutput struct {
	Agent            string                  `json:"agent"`
	Cached           bool                    `json:"cached"`
	CreditsCharged   int                     `json:"credits_charged"`
	CreditsRemaining int                     `json:"credits_remaining"`
	ResultID         string                  `json:"result_id,omitempty"`
	RunID            string                  `json:"run_id,omitempty"`
	Pages            []string                `json:"pages,omitempty"`
	Profile          *model.ExtractedProfile `json:"profile,omitempty"`
	Result           map[string]any          `json:"result,omitempty"`
}

func writeRunOutput(w io.Writer, out *pipeline.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runOutput{
		Agent:            out.AgentSlug,
		Cached:           out.Cached,
		CreditsCharged:   out.CreditsCharged,
		CreditsRemaining: out.CreditsRemaining,
		ResultID:         out.ResultID,
		RunID:            out.RunID,
		Pages:            out.PageURLs,
		Profile:          out.Profile,
		Result:           out.Result,
	})
}

// parseParams turns repeated key=value flags into a map. Later keys win.
func parseParams(raw []string) (map[string]string, error) {
	params := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, eris.Errorf("invalid --param %q: want key=value", kv)
		}
		params[key] = value
	}
	return params, nil
}

func init() {
	runCmd.Flags().String("user", "", "user ID to charge (required)")
	runCmd.Flags().String("url", "", "target website for site and page agents")
	runCmd.Flags().StringArray("param", nil, "agent parameter as key=value (repeatable)")
	_ = runCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(runCmd)
}
