package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/storage/memory"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type recordingPauser struct {
	mu     sync.Mutex
	paused []string
	due    []string
}

func (p *recordingPauser) Pause(_ context.Context, entryID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = append(p.paused, entryID)
	return nil
}

func (p *recordingPauser) MakeDue(_ context.Context, entryID string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.due = append(p.due, entryID)
	return nil
}

func (p *recordingPauser) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paused...)
}

func (p *recordingPauser) dueCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.due...)
}

func newTracker(t *testing.T, threshold, maxAttempts int) (*Tracker, *recordingPauser, *memory.JobStore) {
	t.Helper()
	store := memory.NewJobStore()
	pauser := &recordingPauser{}
	clock := &fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := NewTracker(
		Config{CircuitBreakerThreshold: threshold, MaxAttempts: maxAttempts},
		store, pauser, &seqIDs{}, clock, nil,
	)
	return tracker, pauser, store
}

func newJob(entryID string) collector.CollectionJob {
	return collector.CollectionJob{
		WatchlistEntryID: entryID,
		TargetID:         "target-" + entryID,
		SourceKind:       collector.SourceSERP,
		Config:           collector.JobConfig{URL: "https://serp.example.com/?q=acme", Domain: "serp.example.com"},
	}
}

var errUnavailable = collector.NewStatusError("https://serp.example.com/?q=acme", 503)

func TestValidateTransition(t *testing.T) {
	t.Parallel()

	valid := [][2]collector.JobState{
		{collector.JobPending, collector.JobRunning},
		{collector.JobRunning, collector.JobCompleted},
		{collector.JobRunning, collector.JobFailed},
		{collector.JobRunning, collector.JobRetrying},
		{collector.JobRetrying, collector.JobPending},
		{collector.JobRetrying, collector.JobFailed},
	}
	for _, tr := range valid {
		require.NoError(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]collector.JobState{
		{collector.JobCompleted, collector.JobRunning},
		{collector.JobFailed, collector.JobPending},
		{collector.JobPending, collector.JobCompleted},
		{collector.JobRetrying, collector.JobRunning},
		{collector.JobState("bogus"), collector.JobRunning},
	}
	for _, tr := range invalid {
		require.ErrorIs(t, ValidateTransition(tr[0], tr[1]), collector.ErrInvalidTransition, "%s -> %s", tr[0], tr[1])
	}
}

func TestTrackerSingleFlight(t *testing.T) {
	t.Parallel()

	tracker, _, _ := newTracker(t, 3, 3)
	ctx := context.Background()

	job, err := tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)
	require.Equal(t, collector.JobPending, job.State)
	require.Equal(t, 1, job.Attempt)
	require.Equal(t, 3, job.MaxAttempts)
	require.True(t, tracker.IsInFlight("e1"))

	_, err = tracker.Create(ctx, newJob("e1"))
	require.ErrorIs(t, err, collector.ErrConflict)

	_, err = tracker.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = tracker.Complete(ctx, job.ID, collector.CollectionResult{JobID: job.ID, Success: true})
	require.NoError(t, err)
	require.False(t, tracker.IsInFlight("e1"))

	_, err = tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)
}

func TestTrackerConcurrentCreateAdmitsOne(t *testing.T) {
	t.Parallel()

	tracker, _, _ := newTracker(t, 3, 3)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.Create(context.Background(), newJob("e-race")); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)
}

func TestTrackerRejectsTransitionsFromTerminal(t *testing.T) {
	t.Parallel()

	tracker, _, _ := newTracker(t, 3, 3)
	ctx := context.Background()

	job, err := tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)
	_, err = tracker.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = tracker.Fail(ctx, job.ID, collector.NewStatusError(job.Config.URL, 404), nil)
	require.NoError(t, err)

	_, err = tracker.Start(ctx, job.ID)
	require.ErrorIs(t, err, collector.ErrInvalidTransition)
	_, err = tracker.Complete(ctx, job.ID, collector.CollectionResult{})
	require.ErrorIs(t, err, collector.ErrInvalidTransition)

	stored, err := tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, collector.JobFailed, stored.State)
	require.Equal(t, collector.KindPermanent, stored.ErrorKind)
}

func TestTrackerAttemptCap(t *testing.T) {
	t.Parallel()

	tracker, pauser, _ := newTracker(t, 3, 3)
	ctx := context.Background()

	job, err := tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)

	retries := 0
	for {
		_, err = tracker.Start(ctx, job.ID)
		require.NoError(t, err)

		current, err := tracker.Get(ctx, job.ID)
		require.NoError(t, err)
		if !collector.ShouldRetry(collector.Classify(errUnavailable), current.Attempt, current.MaxAttempts) {
			_, err = tracker.Fail(ctx, job.ID, errUnavailable, nil)
			require.NoError(t, err)
			break
		}
		_, err = tracker.Retry(ctx, job.ID, errUnavailable)
		require.NoError(t, err)
		retries++
		_, err = tracker.Requeue(ctx, job.ID)
		require.NoError(t, err)
	}

	require.Equal(t, 2, retries)
	final, err := tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, collector.JobFailed, final.State)
	require.Equal(t, 3, final.Attempt)
	require.Equal(t, collector.KindTransient, final.ErrorKind)

	require.Equal(t, 1, tracker.ConsecutiveFailures("e1"))
	require.Empty(t, pauser.calls())
}

func TestTrackerRetryRefusesBeyondCap(t *testing.T) {
	t.Parallel()

	tracker, _, _ := newTracker(t, 3, 1)
	ctx := context.Background()

	job, err := tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)
	_, err = tracker.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = tracker.Retry(ctx, job.ID, errUnavailable)
	require.ErrorIs(t, err, collector.ErrInvalidTransition)
}

func TestTrackerCircuitBreakerPausesEntry(t *testing.T) {
	t.Parallel()

	tracker, pauser, _ := newTracker(t, 3, 1)
	ctx := context.Background()

	failOnce := func() {
		job, err := tracker.Create(ctx, newJob("e1"))
		require.NoError(t, err)
		_, err = tracker.Start(ctx, job.ID)
		require.NoError(t, err)
		_, err = tracker.Fail(ctx, job.ID, errUnavailable, nil)
		require.NoError(t, err)
	}

	failOnce()
	failOnce()
	require.Empty(t, pauser.calls())
	require.Equal(t, 2, tracker.ConsecutiveFailures("e1"))

	failOnce()
	require.Equal(t, []string{"e1"}, pauser.calls())
	require.Equal(t, 0, tracker.ConsecutiveFailures("e1"))
}

func TestTrackerCompletionResetsBreaker(t *testing.T) {
	t.Parallel()

	tracker, pauser, _ := newTracker(t, 2, 1)
	ctx := context.Background()

	run := func(succeed bool) {
		job, err := tracker.Create(ctx, newJob("e1"))
		require.NoError(t, err)
		_, err = tracker.Start(ctx, job.ID)
		require.NoError(t, err)
		if succeed {
			_, err = tracker.Complete(ctx, job.ID, collector.CollectionResult{Success: true})
		} else {
			_, err = tracker.Fail(ctx, job.ID, errUnavailable, nil)
		}
		require.NoError(t, err)
	}

	run(false)
	run(true)
	run(false)
	require.Empty(t, pauser.calls())
	require.Equal(t, 1, tracker.ConsecutiveFailures("e1"))
}

func TestTrackerCancellationDoesNotCountTowardBreaker(t *testing.T) {
	t.Parallel()

	tracker, pauser, _ := newTracker(t, 1, 1)
	ctx := context.Background()

	job, err := tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)
	failed, err := tracker.Fail(ctx, job.ID, fmt.Errorf("shutdown: %w", collector.ErrCancelled), nil)
	require.NoError(t, err)
	require.Equal(t, collector.KindCancelled, failed.ErrorKind)
	require.Empty(t, pauser.calls())
	require.False(t, tracker.IsInFlight("e1"))
	require.Equal(t, []string{"e1"}, pauser.dueCalls())
}

func TestTrackerOtherFailuresDoNotMakeEntryDue(t *testing.T) {
	t.Parallel()

	tracker, pauser, _ := newTracker(t, 5, 1)
	ctx := context.Background()

	job, err := tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)
	_, err = tracker.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = tracker.Fail(ctx, job.ID, errUnavailable, nil)
	require.NoError(t, err)
	require.Empty(t, pauser.dueCalls())
}

func TestTrackerResetFailures(t *testing.T) {
	t.Parallel()

	tracker, _, _ := newTracker(t, 5, 1)
	ctx := context.Background()

	job, err := tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)
	_, err = tracker.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = tracker.Fail(ctx, job.ID, errUnavailable, nil)
	require.NoError(t, err)
	require.Equal(t, 1, tracker.ConsecutiveFailures("e1"))

	tracker.ResetFailures("e1")
	require.Equal(t, 0, tracker.ConsecutiveFailures("e1"))
}

func TestTrackerLastTerminal(t *testing.T) {
	t.Parallel()

	tracker, _, _ := newTracker(t, 5, 1)
	ctx := context.Background()

	_, err := tracker.LastTerminal(ctx, "e1")
	require.ErrorIs(t, err, collector.ErrNotFound)

	first, err := tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)
	_, err = tracker.Start(ctx, first.ID)
	require.NoError(t, err)
	_, err = tracker.Complete(ctx, first.ID, collector.CollectionResult{Success: true})
	require.NoError(t, err)

	second, err := tracker.Create(ctx, newJob("e1"))
	require.NoError(t, err)
	_, err = tracker.Start(ctx, second.ID)
	require.NoError(t, err)
	_, err = tracker.Fail(ctx, second.ID, errors.New("boom"), nil)
	require.NoError(t, err)

	last, err := tracker.LastTerminal(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, second.ID, last.ID)
	require.Equal(t, "boom", last.Error)

	jobs, err := tracker.ListByEntry(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestTrackerRecover(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, collector.CollectionJob{
		ID: "stale-1", WatchlistEntryID: "e1", State: collector.JobRunning, CreatedAt: time.Unix(1, 0),
	}))
	require.NoError(t, store.Create(ctx, collector.CollectionJob{
		ID: "done-1", WatchlistEntryID: "e2", State: collector.JobCompleted, CreatedAt: time.Unix(2, 0),
	}))

	clock := &fixedClock{now: time.Unix(100, 0)}
	entries := &recordingPauser{}
	tracker := NewTracker(Config{}, store, entries, &seqIDs{}, clock, nil)

	n, err := tracker.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := store.Get(ctx, "stale-1")
	require.NoError(t, err)
	require.Equal(t, collector.JobFailed, job.State)
	require.Equal(t, collector.KindCancelled, job.ErrorKind)
	require.False(t, tracker.IsInFlight("e1"))
	require.Equal(t, []string{"e1"}, entries.dueCalls())
}
