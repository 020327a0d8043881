package watchlist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// SeedEntry is one target declared in a watchlist seed file.
type SeedEntry struct {
	TargetID            string `yaml:"target_id"`
	SourceKind          string `yaml:"source_kind"`
	URL                 string `yaml:"url"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	Status              string `yaml:"status"`
}

type seedFile struct {
	Targets []SeedEntry `yaml:"targets"`
}

// LoadSeedFile parses a YAML watchlist seed file of the form:
//
//	targets:
//	  - target_id: acme-ads
//	    source_kind: ad_library
//	    poll_interval_seconds: 3600
func LoadSeedFile(path string) ([]SeedEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: parse seed file: %v", collector.ErrValidation, err)
	}
	return file.Targets, nil
}

// SeedReport summarizes a Seed run.
type SeedReport struct {
	Added   int
	Skipped int
}

// Seed registers every seed entry that is not already present. Entries
// without an interval use defaultInterval. Existing targets are left as-is.
func (r *Registry) Seed(ctx context.Context, seeds []SeedEntry, defaultInterval time.Duration) (SeedReport, error) {
	var (
		report SeedReport
		errs   []error
	)
	for _, seed := range seeds {
		kind, err := collector.ParseSourceKind(seed.SourceKind)
		if err != nil {
			errs = append(errs, fmt.Errorf("seed %q: %w", seed.TargetID, err))
			continue
		}
		interval := defaultInterval
		if seed.PollIntervalSeconds > 0 {
			interval = time.Duration(seed.PollIntervalSeconds) * time.Second
		}
		opts := []AddOption{WithURL(seed.URL)}
		if seed.Status != "" {
			opts = append(opts, WithStatus(collector.EntryStatus(seed.Status)))
		}
		_, err = r.Add(ctx, seed.TargetID, kind, interval, opts...)
		switch {
		case err == nil:
			report.Added++
		case errors.Is(err, collector.ErrConflict):
			report.Skipped++
		default:
			errs = append(errs, fmt.Errorf("seed %q: %w", seed.TargetID, err))
		}
	}
	r.logger.Info("watchlist seeded", zap.Int("added", report.Added), zap.Int("skipped", report.Skipped))
	return report, errors.Join(errs...)
}
