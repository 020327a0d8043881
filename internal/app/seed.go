package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/clock/system"
	"github.com/JakeFAU/intel-collector/internal/config"
	"github.com/JakeFAU/intel-collector/internal/id/uuid"
	"github.com/JakeFAU/intel-collector/internal/watchlist"
)

// Seed loads a seed file into the configured watchlist store without
// starting the pipeline. Entries whose target already exists are skipped.
func Seed(ctx context.Context, cfg config.Config, logger *zap.Logger, path string) (watchlist.SeedReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	defer func() { _ = a.closeInfrastructure() }()

	if err := a.setupStores(ctx); err != nil {
		return watchlist.SeedReport{}, err
	}
	seeds, err := watchlist.LoadSeedFile(path)
	if err != nil {
		return watchlist.SeedReport{}, fmt.Errorf("load seed file: %w", err)
	}
	registry := watchlist.NewRegistry(a.watchlistStore, a.ids, a.clock, logger.Named("watchlist"))
	return registry.Seed(ctx, seeds, cfg.DefaultPollInterval())
}
