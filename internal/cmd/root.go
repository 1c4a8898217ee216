package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for prefetchd.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefetchd",
		Short: "Adaptive page-cache prefetch daemon",
		Long: `prefetchd observes which executables a user runs, learns which
file-backed pages they tend to map, and prefetches those pages into the
kernel page cache ahead of the next predicted launch.

It runs as a long-lived daemon (prefetchd run), reacting to SIGHUP for a
config reload, SIGUSR1 to dump a summary, SIGUSR2 to force an immediate
save, and SIGINT/SIGTERM for a graceful shutdown.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text.
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSlice("config", nil, "config file path(s), later paths override earlier ones (default: system/user search paths)")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newDumpConfigCommand())
	cmd.AddCommand(newSnapshotCommand())

	return cmd
}
