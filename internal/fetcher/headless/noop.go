package headless

import (
	"context"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// Noop implements Fetcher for deployments without a browser. Every fetch
// fails permanently so misrouted sources surface instead of retrying.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns a permanent error.
func (Noop) Fetch(_ context.Context, target collector.CrawlTarget) (collector.CrawlResult, error) {
	return collector.CrawlResult{}, &collector.FetchError{
		Kind: collector.KindPermanent,
		URL:  target.URL,
		Err:  errNotConfigured,
	}
}
