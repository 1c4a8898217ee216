package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/prefetchd/internal/config"
	"github.com/harrison/prefetchd/internal/repository/sqlite"
	"github.com/harrison/prefetchd/internal/summary"
)

// newSnapshotCommand creates the snapshot command: "show" renders the
// persisted state without starting the daemon, useful for debugging a
// stopped instance's learned state.
func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect the persisted state snapshot",
	}
	cmd.AddCommand(newSnapshotShowCommand())
	return cmd
}

func newSnapshotShowCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a summary of the persisted snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPaths(cmd)...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			repo, err := sqlite.Open(cfg.Persistence.StatePath)
			if err != nil {
				return fmt.Errorf("open state repository: %w", err)
			}
			defer repo.Close()

			stores, meta, err := repo.Load(context.Background())
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}

			snap := summary.Snapshot{
				ModelTime:   meta.ModelTime,
				ExeCount:    stores.ExeCount(),
				MapCount:    stores.MapCount(),
				EdgeCount:   stores.EdgeCount(),
				ActiveCount: len(stores.ActiveSetMembers()),
				CycleConfig: cfg.Cycle(),
				MinSize:     cfg.Model.MinSizeBytes,
				SortOrder:   cfg.System.SortStrategy,
			}

			var out string
			switch format {
			case "markdown", "md":
				out = summary.RenderMarkdown(snap)
			case "html":
				html, err := summary.RenderHTML(snap)
				if err != nil {
					return fmt.Errorf("render html: %w", err)
				}
				out = html
			default:
				out = summary.RenderText(snap)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text|markdown|html")
	return cmd
}
