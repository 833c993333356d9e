package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/agent-pipeline/internal/api"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue an API bearer token for a user",
	Long:  "Signs an HS256 token with auth.jwt_secret. Intended for local development and smoke tests.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")

		auth, err := newAuthenticator()
		if err != nil {
			return err
		}

		token, err := auth.IssueToken(args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, token)
		return nil
	},
}

// newAuthenticator builds the bearer token authenticator from cfg.Auth.
func newAuthenticator() (*api.JWTAuthenticator, error) {
	var opts []api.JWTOption
	if cfg.Auth.Issuer != "" {
		opts = append(opts, api.WithIssuer(cfg.Auth.Issuer))
	}
	if cfg.Auth.Audience != "" {
		opts = append(opts, api.WithAudience(cfg.Auth.Audience))
	}
	return api.NewJWTAuthenticator(cfg.Auth.JWTSecret, opts...)
}

func init() {
	tokenCmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
