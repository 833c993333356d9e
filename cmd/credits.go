package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/model"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and grant user credits",
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Print a user's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "credits")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		balance, err := st.GetBalance(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "credits balance")
		}
		fmt.Fprintln(os.Stdout, balance)
		return nil
	},
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <user-id> <amount>",
	Short: "Add credits to a user's balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		amount, err := strconv.Atoi(args[1])
		if err != nil || amount <= 0 {
			return eris.Errorf("amount must be a positive integer, got %q", args[1])
		}
		reason, _ := cmd.Flags().GetString("reason")

		st, err := openStore(ctx, "credits")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		balance, err := st.GrantCredits(ctx, args[0], amount, reason)
		if err != nil {
			return eris.Wrap(err, "credits grant")
		}
		zap.L().Info("credits granted",
			zap.String("user_id", args[0]),
			zap.Int("amount", amount),
			zap.Int("balance", balance),
		)
		fmt.Fprintln(os.Stdout, balance)
		return nil
	},
}

var creditsHistoryCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "List a user's ledger entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "credits")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		txns, err := st.ListCreditTransactions(ctx, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "credits history")
		}
		if len(txns) == 0 {
			fmt.Fprintln(os.Stderr, "No transactions found.")
			return nil
		}
		formatTransactions(os.Stdout, txns)
		return nil
	},
}

func init() {
	creditsGrantCmd.Flags().String("reason", model.CreditReasonGrant, "ledger reason recorded with the grant")
	creditsHistoryCmd.Flags().Int("limit", 50, "max number of entries to display")

	creditsCmd.AddCommand(creditsBalanceCmd)
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsHistoryCmd)
	rootCmd.AddCommand(creditsCmd)
}

// formatTransactions writes a tabular ledger to w.
func formatTransactions(out io.Writer, txns []model.CreditTransaction) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDELTA\tREASON\tAGENT\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-----\t-------")
	for _, t := range txns {
		agentSlug := t.AgentSlug
		if agentSlug == "" {
			agentSlug = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%+d\t%s\t%s\t%s\n",
			truncateID(t.ID),
			t.Delta,
			t.Reason,
			agentSlug,
			t.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	_ = w.Flush()
}
