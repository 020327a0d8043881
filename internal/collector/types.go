package collector

import (
	"fmt"
	"time"
)

// SourceKind identifies the class of external source a target is polled from.
type SourceKind string

// Supported source kinds.
const (
	SourceAdLibrary SourceKind = "ad_library"
	SourceSERP      SourceKind = "serp"
	SourceReviews   SourceKind = "reviews"
)

// Valid reports whether the kind is one the pipeline knows how to fetch.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceAdLibrary, SourceSERP, SourceReviews:
		return true
	default:
		return false
	}
}

// ParseSourceKind validates a raw source kind string.
func ParseSourceKind(raw string) (SourceKind, error) {
	kind := SourceKind(raw)
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown source kind %q", ErrValidation, raw)
	}
	return kind, nil
}

// EntryStatus is the lifecycle status of a watchlist entry.
type EntryStatus string

// Watchlist entry status values.
const (
	EntryActive   EntryStatus = "active"
	EntryPaused   EntryStatus = "paused"
	EntryInactive EntryStatus = "inactive"
)

// Valid reports whether the status is a known value.
func (s EntryStatus) Valid() bool {
	switch s {
	case EntryActive, EntryPaused, EntryInactive:
		return true
	default:
		return false
	}
}

// WatchlistEntry is a monitored external target with its own polling cadence.
type WatchlistEntry struct {
	ID           string        `json:"id"`
	TargetID     string        `json:"target_id"`
	SourceKind   SourceKind    `json:"source_kind"`
	URL          string        `json:"url,omitempty"`
	PollInterval time.Duration `json:"poll_interval"`
	Status       EntryStatus   `json:"status"`
	LastPolledAt time.Time     `json:"last_polled_at"`
	NextDueAt    time.Time     `json:"next_due_at"`
	Seq          int64         `json:"seq"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Due reports whether the entry should be polled at now.
func (e WatchlistEntry) Due(now time.Time) bool {
	return e.Status == EntryActive && !now.Before(e.NextDueAt)
}

// JobState represents a state of the collection job state machine.
type JobState string

// Job states. Completed and failed are terminal.
const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobRetrying  JobState = "retrying"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobConfig carries the per-job fetch parameters resolved at scheduling time.
type JobConfig struct {
	URL            string        `json:"url"`
	Domain         string        `json:"domain"`
	RateLimit      time.Duration `json:"rate_limit"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// CollectionJob is one attempt sequence to poll a watchlist entry.
type CollectionJob struct {
	ID               string            `json:"id"`
	WatchlistEntryID string            `json:"watchlist_entry_id"`
	TargetID         string            `json:"target_id"`
	SourceKind       SourceKind        `json:"source_kind"`
	Config           JobConfig         `json:"config"`
	State            JobState          `json:"state"`
	Attempt          int               `json:"attempt"`
	MaxAttempts      int               `json:"max_attempts"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Result           *CollectionResult `json:"result,omitempty"`
	Error            string            `json:"error,omitempty"`
	ErrorKind        ErrorKind         `json:"error_kind,omitempty"`
	Version          int64             `json:"version"`
}

// CollectionResult is the immutable output unit handed to a ResultSink.
type CollectionResult struct {
	JobID       string     `json:"job_id"`
	TargetID    string     `json:"target_id"`
	SourceKind  SourceKind `json:"source_kind"`
	URL         string     `json:"url"`
	Success     bool       `json:"success"`
	StatusCode  int        `json:"status_code,omitempty"`
	Data        []byte     `json:"data,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
	Error       string     `json:"error,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// CrawlTarget is what a Fetcher is asked to retrieve.
type CrawlTarget struct {
	JobID      string
	TargetID   string
	SourceKind SourceKind
	URL        string
	Attempt    int
}

// CrawlResult is the raw outcome of a successful fetch.
type CrawlResult struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a job reference ready to be worked.
type QueueItem struct {
	JobID   string
	EntryID string
	Attempt int
}
