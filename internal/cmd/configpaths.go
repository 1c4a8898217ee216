package cmd

import (
	"github.com/spf13/cobra"

	"github.com/harrison/prefetchd/internal/config"
)

// resolveConfigPaths returns the --config flag's paths if set, else the
// default system/user search paths. Shared by every subcommand that
// loads configuration, so "prefetchd run" and "prefetchd dump-config"
// always agree on where config comes from.
func resolveConfigPaths(cmd *cobra.Command) []string {
	paths, _ := cmd.Flags().GetStringSlice("config")
	if len(paths) > 0 {
		return paths
	}
	return config.SearchPaths()
}
