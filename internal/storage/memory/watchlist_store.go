// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// WatchlistStore keeps watchlist entries in memory, keyed by target ID.
type WatchlistStore struct {
	mu      sync.RWMutex
	entries map[string]collector.WatchlistEntry
	byID    map[string]string
	seq     int64
}

// NewWatchlistStore constructs a WatchlistStore.
func NewWatchlistStore() *WatchlistStore {
	return &WatchlistStore{
		entries: make(map[string]collector.WatchlistEntry),
		byID:    make(map[string]string),
	}
}

// Create inserts a new entry, assigning its sequence number and first version.
func (s *WatchlistStore) Create(_ context.Context, entry collector.WatchlistEntry) (collector.WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.TargetID]; exists {
		return collector.WatchlistEntry{}, fmt.Errorf("%w: target %q already registered", collector.ErrConflict, entry.TargetID)
	}
	if _, exists := s.byID[entry.ID]; exists {
		return collector.WatchlistEntry{}, fmt.Errorf("%w: entry id %q already used", collector.ErrConflict, entry.ID)
	}
	s.seq++
	entry.Seq = s.seq
	entry.Version = 1
	s.entries[entry.TargetID] = entry
	s.byID[entry.ID] = entry.TargetID
	return entry, nil
}

// Get fetches an entry by target ID.
func (s *WatchlistStore) Get(_ context.Context, targetID string) (collector.WatchlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[targetID]
	if !ok {
		return collector.WatchlistEntry{}, fmt.Errorf("%w: target %q", collector.ErrNotFound, targetID)
	}
	return entry, nil
}

// GetByID fetches an entry by entry ID.
func (s *WatchlistStore) GetByID(_ context.Context, id string) (collector.WatchlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	targetID, ok := s.byID[id]
	if !ok {
		return collector.WatchlistEntry{}, fmt.Errorf("%w: entry %q", collector.ErrNotFound, id)
	}
	return s.entries[targetID], nil
}

// List returns all entries ordered by insertion.
func (s *WatchlistStore) List(_ context.Context) ([]collector.WatchlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]collector.WatchlistEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Update replaces an entry if its version matches the stored one.
func (s *WatchlistStore) Update(_ context.Context, entry collector.WatchlistEntry) (collector.WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[entry.TargetID]
	if !ok || current.ID != entry.ID {
		return collector.WatchlistEntry{}, fmt.Errorf("%w: target %q", collector.ErrNotFound, entry.TargetID)
	}
	if current.Version != entry.Version {
		return collector.WatchlistEntry{}, fmt.Errorf(
			"%w: target %q at version %d, have %d",
			collector.ErrStale, entry.TargetID, current.Version, entry.Version,
		)
	}
	entry.Seq = current.Seq
	entry.CreatedAt = current.CreatedAt
	entry.Version = current.Version + 1
	s.entries[entry.TargetID] = entry
	return entry, nil
}

// Delete removes an entry by target ID.
func (s *WatchlistStore) Delete(_ context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[targetID]
	if !ok {
		return fmt.Errorf("%w: target %q", collector.ErrNotFound, targetID)
	}
	delete(s.entries, targetID)
	delete(s.byID, entry.ID)
	return nil
}
