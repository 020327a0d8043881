// Package fetcher selects a concrete Fetcher per source kind.
package fetcher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// Router dispatches fetches to the implementation registered for the target's
// source kind, falling back to a default.
type Router struct {
	byKind   map[collector.SourceKind]collector.Fetcher
	fallback collector.Fetcher
}

// NewRouter creates a Router. fallback may be nil, in which case unrouted
// kinds fail permanently.
func NewRouter(fallback collector.Fetcher) *Router {
	return &Router{
		byKind:   make(map[collector.SourceKind]collector.Fetcher),
		fallback: fallback,
	}
}

// Route registers f for kind. It is not safe to call concurrently with Fetch.
func (r *Router) Route(kind collector.SourceKind, f collector.Fetcher) *Router {
	r.byKind[kind] = f
	return r
}

// Fetch implements collector.Fetcher.
func (r *Router) Fetch(ctx context.Context, target collector.CrawlTarget) (collector.CrawlResult, error) {
	f, ok := r.byKind[target.SourceKind]
	if !ok {
		f = r.fallback
	}
	if f == nil {
		return collector.CrawlResult{}, &collector.FetchError{
			Kind: collector.KindPermanent,
			URL:  target.URL,
			Err:  fmt.Errorf("no fetcher for source kind %q", target.SourceKind),
		}
	}
	return f.Fetch(ctx, target)
}
