package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/agent"
	"github.com/sells-group/agent-pipeline/internal/pipeline"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect the agent catalog and manage cost overrides",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents with their effective cost",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		catalog, err := agent.Load(cfg.Pipeline.AgentsFile)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "credits")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := agentRows(ctx, catalog.List(), st)
		if err != nil {
			return err
		}
		formatAgents(os.Stdout, rows)
		return nil
	},
}

var agentsSetCostCmd = &cobra.Command{
	Use:   "set-cost <agent-slug> <cost>",
	Short: "Override an agent's credit cost",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cost, err := strconv.Atoi(args[1])
		if err != nil || cost <= 0 {
			return eris.Errorf("cost must be a positive integer, got %q", args[1])
		}

		catalog, err := agent.Load(cfg.Pipeline.AgentsFile)
		if err != nil {
			return err
		}
		if _, ok := catalog.Get(args[0]); !ok {
			return eris.Errorf("unknown agent %q", args[0])
		}

		st, err := openStore(ctx, "credits")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SetAgentCost(ctx, args[0], cost); err != nil {
			return eris.Wrap(err, "agents set-cost")
		}
		zap.L().Info("agent cost updated", zap.String("agent", args[0]), zap.Int("cost", cost))
		return nil
	},
}

func init() {
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsSetCostCmd)
	rootCmd.AddCommand(agentsCmd)
}

type agentRow struct {
	Slug      string
	Input     agent.InputKind
	Class     string
	Catalog   int
	Override  int
	Effective int
}

// agentRows pairs each definition with its stored override and the cost
// the orchestrator would charge.
func agentRows(ctx context.Context, defs []*agent.Definition, costs pipeline.CostSource) ([]agentRow, error) {
	pricer := pipeline.New(pipeline.Deps{Costs: costs}, pipeline.Options{})
	rows := make([]agentRow, 0, len(defs))
	for _, d := range defs {
		override, _, err := costs.GetAgentCost(ctx, d.Slug)
		if err != nil {
			return nil, eris.Wrapf(err, "agent cost %s", d.Slug)
		}
		rows = append(rows, agentRow{
			Slug:      d.Slug,
			Input:     d.Input,
			Class:     d.OperationClass,
			Catalog:   d.Cost,
			Override:  override,
			Effective: pricer.Cost(ctx, d),
		})
	}
	return rows, nil
}

func formatAgents(out io.Writer, rows []agentRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SLUG\tINPUT\tCLASS\tCATALOG\tOVERRIDE\tCOST")
	_, _ = fmt.Fprintln(w, "----\t-----\t-----\t-------\t--------\t----")
	for _, r := range rows {
		override := "-"
		if r.Override > 0 {
			override = strconv.Itoa(r.Override)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\n", r.Slug, r.Input, r.Class, r.Catalog, override, r.Effective)
	}
	_ = w.Flush()
}
