package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subcommandNames(c *cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, sub := range c.Commands() {
		names[sub.Name()] = true
	}
	return names
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(rootCmd)
	for _, name := range []string{"serve", "run", "runs", "credits", "agents", "cache", "migrate", "token"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "agent-pipeline", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"user", "url", "param"} {
		require.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
	assert.Error(t, runCmd.Args(runCmd, nil))
	assert.NoError(t, runCmd.Args(runCmd, []string{"brand-profile"}))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestGroupCommands_HaveSubcommands(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		want []string
	}{
		{runsCmd, []string{"list", "show", "stats"}},
		{creditsCmd, []string{"balance", "grant", "history"}},
		{agentsCmd, []string{"list", "set-cost"}},
		{cacheCmd, []string{"purge"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Name(), func(t *testing.T) {
			names := subcommandNames(tt.cmd)
			for _, name := range tt.want {
				assert.True(t, names[name], "expected %s subcommand %q", tt.cmd.Name(), name)
			}
		})
	}
}

func TestCreditsGrant_Defaults(t *testing.T) {
	flag := creditsGrantCmd.Flags().Lookup("reason")
	require.NotNil(t, flag)
	assert.Equal(t, "grant", flag.DefValue)
	assert.Error(t, creditsGrantCmd.Args(creditsGrantCmd, []string{"u1"}))
}

func TestRootCommand_LogLevelFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}
