// Package cmd defines and implements the CLI commands for the collector executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/config"
	"github.com/JakeFAU/intel-collector/internal/logging"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Polls a watchlist of competitor targets and stores what it collects.",
		Long: `collector runs the competitive-intelligence collection pipeline. It keeps a
watchlist of targets (ad libraries, search results, review sites), polls each
one on its own cadence while staying polite to every domain, and hands the
results to the configured sinks.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (YAML); COLLECTOR_* environment variables override it")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newWatchlistCmd(opts))
	return cmd
}

// load reads the configuration and builds the matching logger.
func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
