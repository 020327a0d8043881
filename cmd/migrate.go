package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/intel-collector/internal/storage/postgres"
)

// newMigrateCmd creates the 'migrate' subcommand.
func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		Long: `Applies the embedded migrations to the database named by db.dsn.
Without --steps every pending migration is applied; a negative value rolls
back that many migrations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			version, err := pgstore.Migrate(cfg.DB.DSN, steps, logger.Named("migrate"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version.Version, version.Dirty)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (negative rolls back)")
	return cmd
}
