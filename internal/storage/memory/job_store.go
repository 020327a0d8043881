package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]collector.CollectionJob
	byEntry map[string][]string
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]collector.CollectionJob),
		byEntry: make(map[string][]string),
	}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job collector.CollectionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %q already exists", collector.ErrConflict, job.ID)
	}
	job.Version = 1
	s.jobs[job.ID] = job
	s.byEntry[job.WatchlistEntryID] = append(s.byEntry[job.WatchlistEntryID], job.ID)
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (collector.CollectionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return collector.CollectionJob{}, fmt.Errorf("%w: job %q", collector.ErrNotFound, jobID)
	}
	return job, nil
}

// Update replaces a job if its version matches the stored one.
func (s *JobStore) Update(_ context.Context, job collector.CollectionJob) (collector.CollectionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return collector.CollectionJob{}, fmt.Errorf("%w: job %q", collector.ErrNotFound, job.ID)
	}
	if current.Version != job.Version {
		return collector.CollectionJob{}, fmt.Errorf(
			"%w: job %q at version %d, have %d",
			collector.ErrStale, job.ID, current.Version, job.Version,
		)
	}
	job.Version = current.Version + 1
	s.jobs[job.ID] = job
	return job, nil
}

// ListByEntry returns all jobs for an entry, oldest first.
func (s *JobStore) ListByEntry(_ context.Context, entryID string) ([]collector.CollectionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byEntry[entryID]
	out := make([]collector.CollectionJob, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.jobs[id])
	}
	return out, nil
}

// ListNonTerminal returns every job that has not reached a terminal state.
func (s *JobStore) ListNonTerminal(_ context.Context) ([]collector.CollectionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []collector.CollectionJob
	for _, job := range s.jobs {
		if !job.State.Terminal() {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
