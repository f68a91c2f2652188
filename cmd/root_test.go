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
	for _, name := range []string{"migrate", "openings", "bridges", "link", "watchlist", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "bridgeping", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestOpeningsCommand_Subcommands(t *testing.T) {
	names := subcommandNames(openingsCmd)
	assert.True(t, names["sync"])
	assert.True(t, names["status"])

	require.NotNil(t, openingsSyncCmd.Flags().Lookup("url"))
	require.NotNil(t, openingsSyncCmd.Flags().Lookup("file"))
}

func TestBridgesCommand_Subcommands(t *testing.T) {
	names := subcommandNames(bridgesCmd)
	for _, name := range []string{"sync", "enrich", "status"} {
		assert.True(t, names[name], "expected bridges subcommand %q", name)
	}

	require.NotNil(t, bridgesSyncCmd.Flags().Lookup("regions-file"))
	limit := bridgesEnrichCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "0", limit.DefValue)
}

func TestWatchlistCommand_Subcommands(t *testing.T) {
	names := subcommandNames(watchlistCmd)
	for _, name := range []string{"create", "add", "remove", "show", "upcoming", "feed"} {
		assert.True(t, names[name], "expected watchlist subcommand %q", name)
	}

	for _, c := range []*cobra.Command{watchlistUpcomingCmd, watchlistFeedCmd} {
		h := c.Flags().Lookup("horizon")
		require.NotNil(t, h, "%s should have --horizon", c.Name())
		assert.Equal(t, "0s", h.DefValue)
	}
}

func TestWatchlistAdd_RequiresArgs(t *testing.T) {
	assert.Error(t, watchlistAddCmd.Args(watchlistAddCmd, []string{"brave-turing"}))
	assert.NoError(t, watchlistAddCmd.Args(watchlistAddCmd, []string{"brave-turing", "12"}))
}

func TestRunsCommand_Flags(t *testing.T) {
	limit := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "50", limit.DefValue)
	require.NotNil(t, runsListCmd.Flags().Lookup("pass"))
	require.NotNil(t, runsStatsCmd.Flags().Lookup("since"))
}

func TestParseBridgeID(t *testing.T) {
	id, err := parseBridgeID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseBridgeID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
