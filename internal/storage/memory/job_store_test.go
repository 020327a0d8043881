package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := collector.CollectionJob{
		ID:               "job-1",
		WatchlistEntryID: "e1",
		State:            collector.JobPending,
		CreatedAt:        time.Unix(10, 0),
	}

	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, job); !errors.Is(err, collector.ErrConflict) {
		t.Fatalf("expected duplicate job conflict, got %v", err)
	}

	stored, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	stored.State = collector.JobRunning
	running, err := store.Update(ctx, stored)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := store.Update(ctx, stored); !errors.Is(err, collector.ErrStale) {
		t.Fatalf("expected stale update to fail, got %v", err)
	}

	pending, err := store.ListNonTerminal(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListNonTerminal() = %v, %v", pending, err)
	}

	running.State = collector.JobCompleted
	if _, err := store.Update(ctx, running); err != nil {
		t.Fatalf("Update(completed) error = %v", err)
	}
	pending, err = store.ListNonTerminal(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no non-terminal jobs, got %v, %v", pending, err)
	}

	byEntry, err := store.ListByEntry(ctx, "e1")
	if err != nil || len(byEntry) != 1 || byEntry[0].State != collector.JobCompleted {
		t.Fatalf("ListByEntry() = %+v, %v", byEntry, err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, collector.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
