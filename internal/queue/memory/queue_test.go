package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan collector.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	item := collector.QueueItem{JobID: "job-1", EntryID: "entry-1"}
	if err := q.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.JobID != "job-1" || got.EntryID != "entry-1" {
			t.Fatalf("expected job-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueLenAndCap(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(context.Background(), collector.QueueItem{JobID: id}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}
	if q.Len() != 2 || q.Cap() != 3 {
		t.Fatalf("expected len 2 cap 3, got len %d cap %d", q.Len(), q.Cap())
	}
	got, err := q.Dequeue(context.Background())
	if err != nil || got.JobID != "a" {
		t.Fatalf("expected FIFO order, got %+v err %v", got, err)
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), collector.QueueItem{JobID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, collector.QueueItem{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueEnqueueTimesOutWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	if err := q.Enqueue(context.Background(), collector.QueueItem{JobID: "first"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, collector.QueueItem{JobID: "second"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.Enqueue(context.Background(), collector.QueueItem{JobID: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected enqueue on closed queue to fail, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseUnblocksEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	if err := q.Enqueue(context.Background(), collector.QueueItem{JobID: "full"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(context.Background(), collector.QueueItem{JobID: "blocked"})
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue was not released by Close")
	}
}
