package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/intel-collector/internal/app"
)

// newServeCmd creates the 'serve' subcommand, which runs the scheduler,
// worker pool, and admin API until SIGINT or SIGTERM.
func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collection pipeline and admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("build application: %w", err)
			}
			return a.Run(ctx)
		},
	}
}
