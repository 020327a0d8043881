package collector

import (
	"context"
	"time"
)

// Fetcher retrieves a crawl target. Implementations must be idempotent and
// free of side effects beyond the network call. Non-success outcomes are
// reported as *FetchError so callers can classify them.
type Fetcher interface {
	Fetch(ctx context.Context, target CrawlTarget) (CrawlResult, error)
}

// ResultSink durably stores collection results. Delivery is at-least-once;
// sinks that need exactness dedupe on (URL, Timestamp).
type ResultSink interface {
	Store(ctx context.Context, result CollectionResult) error
}

// WatchlistStore persists watchlist entries. Update is a compare-and-swap on
// Version and returns ErrStale when the stored version differs.
type WatchlistStore interface {
	Create(ctx context.Context, entry WatchlistEntry) (WatchlistEntry, error)
	Get(ctx context.Context, targetID string) (WatchlistEntry, error)
	GetByID(ctx context.Context, id string) (WatchlistEntry, error)
	List(ctx context.Context) ([]WatchlistEntry, error)
	Update(ctx context.Context, entry WatchlistEntry) (WatchlistEntry, error)
	Delete(ctx context.Context, targetID string) error
}

// JobStore persists collection jobs. Update is a compare-and-swap on Version.
type JobStore interface {
	Create(ctx context.Context, job CollectionJob) error
	Get(ctx context.Context, jobID string) (CollectionJob, error)
	Update(ctx context.Context, job CollectionJob) (CollectionJob, error)
	ListByEntry(ctx context.Context, entryID string) ([]CollectionJob, error)
	ListNonTerminal(ctx context.Context) ([]CollectionJob, error)
}

// Queue provides bounded enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Len() int
}

// Pauser pauses a watchlist entry by ID. The status tracker uses it to trip
// the circuit breaker.
type Pauser interface {
	Pause(ctx context.Context, entryID string) error
}

// EntryControl is the watchlist surface the status tracker drives. MakeDue
// pulls an active entry's NextDueAt back to at so a cancelled poll is
// scheduled again instead of waiting out the interval its claim started.
type EntryControl interface {
	Pauser
	MakeDue(ctx context.Context, entryID string, at time.Time) error
}

// Hasher computes content digests for downstream dedupe.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entry and job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
