package scheduler

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// TargetPlaceholder is replaced with the query-escaped target ID in URL templates.
const TargetPlaceholder = "{target_id}"

// SourceConfig holds per-source-kind fetch parameters.
type SourceConfig struct {
	URLTemplate string
	RateLimit   time.Duration
}

// Sources resolves the fetch configuration of a watchlist entry.
type Sources struct {
	DefaultRateLimit time.Duration
	RequestTimeout   time.Duration
	Kinds            map[collector.SourceKind]SourceConfig
}

// Resolve builds the JobConfig for entry. An explicit entry URL wins over the
// source kind's template. The job URL is normalized.
func (s Sources) Resolve(entry collector.WatchlistEntry) (collector.JobConfig, error) {
	src := s.Kinds[entry.SourceKind]
	rawURL := entry.URL
	if rawURL == "" {
		if src.URLTemplate == "" {
			return collector.JobConfig{}, fmt.Errorf(
				"%w: entry %s has no url and source %s has no url template",
				collector.ErrValidation, entry.TargetID, entry.SourceKind,
			)
		}
		rawURL = strings.ReplaceAll(src.URLTemplate, TargetPlaceholder, url.QueryEscape(entry.TargetID))
	}
	canonical, err := collector.NormalizeURL(rawURL)
	if err != nil {
		return collector.JobConfig{}, err
	}
	domain, err := collector.DomainOf(canonical)
	if err != nil {
		return collector.JobConfig{}, err
	}
	rateLimit := s.DefaultRateLimit
	if src.RateLimit > 0 {
		rateLimit = src.RateLimit
	}
	return collector.JobConfig{
		URL:            canonical,
		Domain:         domain,
		RateLimit:      rateLimit,
		RequestTimeout: s.RequestTimeout,
	}, nil
}
