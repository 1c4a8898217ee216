package cmd

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/harrison/prefetchd/internal/config"
)

// newDumpConfigCommand creates the dump-config command, which prints the
// fully merged configuration (defaults + every --config path applied in
// order) so an operator can see exactly what run would use.
func newDumpConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-config",
		Short: "Print the merged configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := resolveConfigPaths(cmd)
			cfg, err := config.Load(paths...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			out, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
