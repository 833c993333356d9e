package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the brand profile cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached brand profiles older than the cache TTL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			olderThan = cfg.Pipeline.CacheTTL
		}

		st, err := openStore(ctx, "cache")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		before := time.Now().Add(-olderThan)
		n, err := st.DeleteExpiredProfiles(ctx, before)
		if err != nil {
			return eris.Wrap(err, "cache purge")
		}
		zap.L().Info("cache purged", zap.Int64("deleted", n), zap.Time("before", before))
		fmt.Fprintf(os.Stdout, "Deleted %d profiles.\n", n)
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().Duration("older-than", 0, "age cutoff (default pipeline.cache_ttl)")
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
