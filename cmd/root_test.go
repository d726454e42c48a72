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
	for _, name := range []string{"migrate", "ingest", "roster", "report", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "portfolio-metrics", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Subcommands(t *testing.T) {
	names := subcommandNames(ingestCmd)
	assert.True(t, names["run"])
	assert.True(t, names["status"])

	for _, flag := range []string{"date", "sources", "json"} {
		assert.NotNil(t, ingestRunCmd.Flags().Lookup(flag), "ingest run should have --%s", flag)
	}
	limit := ingestStatusCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "20", limit.DefValue)
}

func TestReportCommand_Subcommands(t *testing.T) {
	names := subcommandNames(reportCmd)
	for _, name := range []string{"snapshot", "trend", "top", "daily"} {
		assert.True(t, names[name], "report should have subcommand %q", name)
	}

	days := reportTrendCmd.Flags().Lookup("days")
	require.NotNil(t, days)
	assert.Equal(t, "30", days.DefValue)

	metric := reportTopCmd.Flags().Lookup("metric")
	require.NotNil(t, metric)
	assert.Equal(t, "revenue", metric.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCommandMode(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		want string
	}{
		{migrateCmd, "migrate"},
		{ingestRunCmd, "ingest"},
		{ingestStatusCmd, "ingest"},
		{rosterImportCmd, "migrate"},
		{reportTopCmd, "report"},
		{serveCmd, "serve"},
		{rootCmd, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, commandMode(tt.cmd), tt.cmd.CommandPath())
	}
}
