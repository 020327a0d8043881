package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/app"
	"github.com/JakeFAU/intel-collector/internal/config"
)

// newWatchlistCmd groups watchlist maintenance commands.
func newWatchlistCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "Manage the watchlist",
	}
	cmd.AddCommand(newWatchlistSeedCmd(opts))
	return cmd
}

func newWatchlistSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load watchlist entries from a YAML seed file",
		Long: `Adds every target in the seed file that is not already on the watchlist.
Existing targets are left untouched. Only the postgres backend keeps the
result once the command exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Storage.Backend != config.BackendPostgres {
				logger.Warn("seeding the in-memory backend has no lasting effect",
					zap.String("backend", cfg.Storage.Backend))
			}
			report, err := app.Seed(cmd.Context(), cfg, logger, args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "added %d, skipped %d\n", report.Added, report.Skipped)
			return err
		},
	}
}
