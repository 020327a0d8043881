// Package watchlist owns the set of monitored targets and their polling cadence.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// MinPollInterval is the smallest accepted polling cadence.
const MinPollInterval = time.Second

const maxCASRetries = 8

var _ collector.EntryControl = (*Registry)(nil)

// Registry validates and applies watchlist mutations on top of a store.
type Registry struct {
	store  collector.WatchlistStore
	ids    collector.IDGenerator
	clock  collector.Clock
	logger *zap.Logger
}

// AddOption customizes an entry at registration time.
type AddOption func(*collector.WatchlistEntry)

// WithURL pins an explicit URL instead of resolving one from the source kind.
func WithURL(rawURL string) AddOption {
	return func(e *collector.WatchlistEntry) {
		e.URL = strings.TrimSpace(rawURL)
	}
}

// WithStatus registers the entry with a non-default status.
func WithStatus(status collector.EntryStatus) AddOption {
	return func(e *collector.WatchlistEntry) {
		e.Status = status
	}
}

// NewRegistry constructs a Registry.
func NewRegistry(
	store collector.WatchlistStore,
	ids collector.IDGenerator,
	clock collector.Clock,
	logger *zap.Logger,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, ids: ids, clock: clock, logger: logger}
}

// Add registers a new target. New entries are due immediately.
func (r *Registry) Add(
	ctx context.Context,
	targetID string,
	kind collector.SourceKind,
	pollInterval time.Duration,
	opts ...AddOption,
) (collector.WatchlistEntry, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return collector.WatchlistEntry{}, fmt.Errorf("%w: target id is required", collector.ErrValidation)
	}
	if !kind.Valid() {
		return collector.WatchlistEntry{}, fmt.Errorf("%w: unknown source kind %q", collector.ErrValidation, kind)
	}
	if err := validateInterval(pollInterval); err != nil {
		return collector.WatchlistEntry{}, err
	}
	id, err := r.ids.NewID()
	if err != nil {
		return collector.WatchlistEntry{}, fmt.Errorf("generate entry id: %w", err)
	}
	now := r.clock.Now()
	entry := collector.WatchlistEntry{
		ID:           id,
		TargetID:     targetID,
		SourceKind:   kind,
		PollInterval: pollInterval,
		Status:       collector.EntryActive,
		NextDueAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, opt := range opts {
		opt(&entry)
	}
	if !entry.Status.Valid() {
		return collector.WatchlistEntry{}, fmt.Errorf("%w: unknown status %q", collector.ErrValidation, entry.Status)
	}
	if entry.URL != "" {
		if _, err := collector.DomainOf(entry.URL); err != nil {
			return collector.WatchlistEntry{}, err
		}
	}
	created, err := r.store.Create(ctx, entry)
	if err != nil {
		return collector.WatchlistEntry{}, fmt.Errorf("create entry: %w", err)
	}
	r.logger.Info("watchlist entry added",
		zap.String("target_id", created.TargetID),
		zap.String("entry_id", created.ID),
		zap.String("source_kind", string(created.SourceKind)),
		zap.Duration("poll_interval", created.PollInterval),
	)
	return created, nil
}

// ListActive returns every entry with status active.
func (r *Registry) ListActive(ctx context.Context) ([]collector.WatchlistEntry, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	active := entries[:0]
	for _, entry := range entries {
		if entry.Status == collector.EntryActive {
			active = append(active, entry)
		}
	}
	return active, nil
}

// List returns every entry regardless of status.
func (r *Registry) List(ctx context.Context) ([]collector.WatchlistEntry, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// Get returns the entry for a target.
func (r *Registry) Get(ctx context.Context, targetID string) (collector.WatchlistEntry, error) {
	entry, err := r.store.Get(ctx, targetID)
	if err != nil {
		return collector.WatchlistEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// GetByID returns the entry with the given entry ID.
func (r *Registry) GetByID(ctx context.Context, id string) (collector.WatchlistEntry, error) {
	entry, err := r.store.GetByID(ctx, id)
	if err != nil {
		return collector.WatchlistEntry{}, fmt.Errorf("get entry by id: %w", err)
	}
	return entry, nil
}

// SetStatus changes the status of a target.
func (r *Registry) SetStatus(
	ctx context.Context,
	targetID string,
	status collector.EntryStatus,
) (collector.WatchlistEntry, error) {
	if !status.Valid() {
		return collector.WatchlistEntry{}, fmt.Errorf("%w: unknown status %q", collector.ErrValidation, status)
	}
	return r.mutate(ctx, func(ctx context.Context) (collector.WatchlistEntry, error) {
		return r.store.Get(ctx, targetID)
	}, func(e *collector.WatchlistEntry) bool {
		if e.Status == status {
			return false
		}
		e.Status = status
		return true
	})
}

// SetPollInterval changes the polling cadence of a target. The next due time
// is recomputed from the last completed poll.
func (r *Registry) SetPollInterval(
	ctx context.Context,
	targetID string,
	interval time.Duration,
) (collector.WatchlistEntry, error) {
	if err := validateInterval(interval); err != nil {
		return collector.WatchlistEntry{}, err
	}
	return r.mutate(ctx, func(ctx context.Context) (collector.WatchlistEntry, error) {
		return r.store.Get(ctx, targetID)
	}, func(e *collector.WatchlistEntry) bool {
		if e.PollInterval == interval {
			return false
		}
		e.PollInterval = interval
		if !e.LastPolledAt.IsZero() {
			e.NextDueAt = e.LastPolledAt.Add(interval)
		}
		return true
	})
}

// Remove deletes a target from the watchlist.
func (r *Registry) Remove(ctx context.Context, targetID string) error {
	if err := r.store.Delete(ctx, targetID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	r.logger.Info("watchlist entry removed", zap.String("target_id", targetID))
	return nil
}

// Claim advances NextDueAt to now+interval if the entry has not changed since
// it was read. It returns ErrStale when another writer got there first.
func (r *Registry) Claim(
	ctx context.Context,
	entry collector.WatchlistEntry,
	now time.Time,
) (collector.WatchlistEntry, error) {
	entry.NextDueAt = now.Add(entry.PollInterval)
	entry.UpdatedAt = r.clock.Now()
	claimed, err := r.store.Update(ctx, entry)
	if err != nil {
		return collector.WatchlistEntry{}, fmt.Errorf("claim entry %s: %w", entry.TargetID, err)
	}
	return claimed, nil
}

// RecordPoll marks a poll as completed at polledAt.
func (r *Registry) RecordPoll(ctx context.Context, entryID string, polledAt time.Time) error {
	_, err := r.mutate(ctx, func(ctx context.Context) (collector.WatchlistEntry, error) {
		return r.store.GetByID(ctx, entryID)
	}, func(e *collector.WatchlistEntry) bool {
		e.LastPolledAt = polledAt
		e.NextDueAt = polledAt.Add(e.PollInterval)
		return true
	})
	return err
}

// Pause sets an entry to paused by entry ID. Entries that are not active are
// left untouched.
func (r *Registry) Pause(ctx context.Context, entryID string) error {
	entry, err := r.mutate(ctx, func(ctx context.Context) (collector.WatchlistEntry, error) {
		return r.store.GetByID(ctx, entryID)
	}, func(e *collector.WatchlistEntry) bool {
		if e.Status != collector.EntryActive {
			return false
		}
		e.Status = collector.EntryPaused
		return true
	})
	if err != nil {
		return err
	}
	r.logger.Warn("watchlist entry paused",
		zap.String("target_id", entry.TargetID),
		zap.String("entry_id", entry.ID),
	)
	return nil
}

// MakeDue moves an active entry's NextDueAt back to at. Entries that are
// not active, or already due by then, are left untouched.
func (r *Registry) MakeDue(ctx context.Context, entryID string, at time.Time) error {
	entry, err := r.mutate(ctx, func(ctx context.Context) (collector.WatchlistEntry, error) {
		return r.store.GetByID(ctx, entryID)
	}, func(e *collector.WatchlistEntry) bool {
		if e.Status != collector.EntryActive || !e.NextDueAt.After(at) {
			return false
		}
		e.NextDueAt = at
		return true
	})
	if err != nil {
		return err
	}
	r.logger.Debug("watchlist entry due again",
		zap.String("target_id", entry.TargetID),
		zap.Time("next_due_at", entry.NextDueAt),
	)
	return nil
}

func (r *Registry) mutate(
	ctx context.Context,
	load func(context.Context) (collector.WatchlistEntry, error),
	apply func(*collector.WatchlistEntry) bool,
) (collector.WatchlistEntry, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		entry, err := load(ctx)
		if err != nil {
			return collector.WatchlistEntry{}, fmt.Errorf("load entry: %w", err)
		}
		if !apply(&entry) {
			return entry, nil
		}
		entry.UpdatedAt = r.clock.Now()
		updated, err := r.store.Update(ctx, entry)
		if errors.Is(err, collector.ErrStale) {
			continue
		}
		if err != nil {
			return collector.WatchlistEntry{}, fmt.Errorf("update entry: %w", err)
		}
		return updated, nil
	}
	return collector.WatchlistEntry{}, fmt.Errorf("update entry: %w after %d attempts", collector.ErrStale, maxCASRetries)
}

func validateInterval(interval time.Duration) error {
	if interval < MinPollInterval {
		return fmt.Errorf("%w: poll interval %s is below %s", collector.ErrValidation, interval, MinPollInterval)
	}
	return nil
}
