package status

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/metrics"
)

// DefaultCircuitBreakerThreshold is the number of consecutive failed jobs
// after which an entry is paused.
const DefaultCircuitBreakerThreshold = 3

const maxCASAttempts = 5

// Config controls the Tracker.
type Config struct {
	CircuitBreakerThreshold int
	MaxAttempts             int
}

type breaker struct {
	mu       sync.Mutex
	failures int
}

// Tracker persists job transitions and enforces single-flight per entry.
type Tracker struct {
	store     collector.JobStore
	entries   collector.EntryControl
	ids       collector.IDGenerator
	clock     collector.Clock
	logger    *zap.Logger
	threshold int
	attempts  int

	inFlight sync.Map // entry ID -> job ID
	breakers sync.Map // entry ID -> *breaker
}

// NewTracker constructs a Tracker. A nil entries disables the circuit
// breaker and the rescheduling of cancelled polls.
func NewTracker(
	cfg Config,
	store collector.JobStore,
	entries collector.EntryControl,
	ids collector.IDGenerator,
	clock collector.Clock,
	logger *zap.Logger,
) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = DefaultCircuitBreakerThreshold
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Tracker{
		store:     store,
		entries:   entries,
		ids:       ids,
		clock:     clock,
		logger:    logger,
		threshold: threshold,
		attempts:  attempts,
	}
}

// Create registers a new pending job. It fails with ErrConflict when the
// entry already has a job in flight.
func (t *Tracker) Create(ctx context.Context, job collector.CollectionJob) (collector.CollectionJob, error) {
	if job.WatchlistEntryID == "" {
		return collector.CollectionJob{}, fmt.Errorf("%w: job has no watchlist entry", collector.ErrValidation)
	}
	if job.ID == "" {
		id, err := t.ids.NewID()
		if err != nil {
			return collector.CollectionJob{}, fmt.Errorf("generate job id: %w", err)
		}
		job.ID = id
	}
	if existing, loaded := t.inFlight.LoadOrStore(job.WatchlistEntryID, job.ID); loaded {
		return collector.CollectionJob{}, fmt.Errorf("%w: entry %s has job %v in flight",
			collector.ErrConflict, job.WatchlistEntryID, existing)
	}

	now := t.clock.Now()
	job.State = collector.JobPending
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = t.attempts
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Version = 1
	if err := t.store.Create(ctx, job); err != nil {
		t.inFlight.CompareAndDelete(job.WatchlistEntryID, job.ID)
		return collector.CollectionJob{}, fmt.Errorf("create job: %w", err)
	}
	metrics.ObserveJob(string(collector.JobPending))
	return job, nil
}

// Start moves a pending job to running.
func (t *Tracker) Start(ctx context.Context, jobID string) (collector.CollectionJob, error) {
	return t.transition(ctx, jobID, collector.JobRunning, nil)
}

// Complete records a successful result and releases the entry.
func (t *Tracker) Complete(
	ctx context.Context,
	jobID string,
	result collector.CollectionResult,
) (collector.CollectionJob, error) {
	job, err := t.transition(ctx, jobID, collector.JobCompleted, func(job *collector.CollectionJob) error {
		res := result
		job.Result = &res
		job.Error = ""
		job.ErrorKind = collector.KindNone
		return nil
	})
	if err != nil {
		return job, err
	}
	t.breaker(job.WatchlistEntryID).reset()
	return job, nil
}

// Retry records a transient failure and moves the job to retrying with its
// attempt counter incremented. The attempt cap is enforced here.
func (t *Tracker) Retry(ctx context.Context, jobID string, cause error) (collector.CollectionJob, error) {
	return t.transition(ctx, jobID, collector.JobRetrying, func(job *collector.CollectionJob) error {
		if job.Attempt >= job.MaxAttempts {
			return fmt.Errorf("%w: job %s exhausted %d attempts",
				collector.ErrInvalidTransition, job.ID, job.MaxAttempts)
		}
		job.Attempt++
		job.Error = errorString(cause)
		job.ErrorKind = collector.Classify(cause)
		return nil
	})
}

// Requeue moves a retrying job back to pending once its backoff elapsed.
func (t *Tracker) Requeue(ctx context.Context, jobID string) (collector.CollectionJob, error) {
	return t.transition(ctx, jobID, collector.JobPending, nil)
}

// Fail marks the job failed. Consecutive non-cancellation failures for the
// same entry trip the circuit breaker. A cancelled job makes its entry due
// again.
func (t *Tracker) Fail(
	ctx context.Context,
	jobID string,
	cause error,
	result *collector.CollectionResult,
) (collector.CollectionJob, error) {
	kind := collector.Classify(cause)
	job, err := t.transition(ctx, jobID, collector.JobFailed, func(job *collector.CollectionJob) error {
		job.Error = errorString(cause)
		job.ErrorKind = kind
		if result != nil {
			res := *result
			job.Result = &res
		}
		return nil
	})
	if err != nil {
		return job, err
	}
	if kind == collector.KindCancelled {
		t.makeDue(ctx, job)
	} else {
		t.recordFailure(ctx, job)
	}
	return job, nil
}

// Get returns a job by ID.
func (t *Tracker) Get(ctx context.Context, jobID string) (collector.CollectionJob, error) {
	job, err := t.store.Get(ctx, jobID)
	if err != nil {
		return collector.CollectionJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// IsInFlight reports whether the entry has a job that is not terminal.
func (t *Tracker) IsInFlight(entryID string) bool {
	_, ok := t.inFlight.Load(entryID)
	return ok
}

// ListByEntry returns every job recorded for an entry in creation order.
func (t *Tracker) ListByEntry(ctx context.Context, entryID string) ([]collector.CollectionJob, error) {
	jobs, err := t.store.ListByEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for entry %s: %w", entryID, err)
	}
	return jobs, nil
}

// LastTerminal returns the most recent completed or failed job of an entry.
func (t *Tracker) LastTerminal(ctx context.Context, entryID string) (collector.CollectionJob, error) {
	jobs, err := t.ListByEntry(ctx, entryID)
	if err != nil {
		return collector.CollectionJob{}, err
	}
	var (
		last  collector.CollectionJob
		found bool
	)
	for _, job := range jobs {
		if !job.State.Terminal() {
			continue
		}
		if !found || !job.UpdatedAt.Before(last.UpdatedAt) {
			last = job
			found = true
		}
	}
	if !found {
		return collector.CollectionJob{}, fmt.Errorf("%w: no terminal job for entry %s", collector.ErrNotFound, entryID)
	}
	return last, nil
}

// ConsecutiveFailures returns the circuit-breaker counter of an entry.
func (t *Tracker) ConsecutiveFailures(entryID string) int {
	return t.breaker(entryID).count()
}

// ResetFailures clears the circuit-breaker counter, e.g. on reactivation.
func (t *Tracker) ResetFailures(entryID string) {
	t.breaker(entryID).reset()
}

// Recover marks jobs left non-terminal by a previous process as cancelled
// failures and makes their active entries due immediately.
func (t *Tracker) Recover(ctx context.Context) (int, error) {
	jobs, err := t.store.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("list non-terminal jobs: %w", err)
	}
	var errs []error
	recovered := 0
	for _, job := range jobs {
		job.State = collector.JobFailed
		job.Error = collector.ErrCancelled.Error() + ": interrupted by shutdown"
		job.ErrorKind = collector.KindCancelled
		job.UpdatedAt = t.clock.Now()
		if _, err := t.store.Update(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("recover job %s: %w", job.ID, err))
			continue
		}
		t.inFlight.CompareAndDelete(job.WatchlistEntryID, job.ID)
		t.makeDue(ctx, job)
		recovered++
	}
	if recovered > 0 {
		t.logger.Info("recovered interrupted jobs", zap.Int("count", recovered))
	}
	return recovered, errors.Join(errs...)
}

func (t *Tracker) transition(
	ctx context.Context,
	jobID string,
	to collector.JobState,
	apply func(*collector.CollectionJob) error,
) (collector.CollectionJob, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		job, err := t.store.Get(ctx, jobID)
		if err != nil {
			return collector.CollectionJob{}, fmt.Errorf("load job %s: %w", jobID, err)
		}
		if err := ValidateTransition(job.State, to); err != nil {
			return job, fmt.Errorf("job %s: %w", jobID, err)
		}
		from := job.State
		if apply != nil {
			if err := apply(&job); err != nil {
				return job, err
			}
		}
		job.State = to
		job.UpdatedAt = t.clock.Now()
		updated, err := t.store.Update(ctx, job)
		if errors.Is(err, collector.ErrStale) {
			continue
		}
		if err != nil {
			return job, fmt.Errorf("update job %s: %w", jobID, err)
		}
		if to.Terminal() {
			t.inFlight.CompareAndDelete(updated.WatchlistEntryID, updated.ID)
		}
		metrics.ObserveJob(string(to))
		t.logger.Debug("job transition",
			zap.String("job_id", jobID),
			zap.String("entry_id", updated.WatchlistEntryID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Int("attempt", updated.Attempt),
		)
		return updated, nil
	}
	return collector.CollectionJob{}, fmt.Errorf("update job %s: %w", jobID, collector.ErrStale)
}

func (t *Tracker) recordFailure(ctx context.Context, job collector.CollectionJob) {
	b := t.breaker(job.WatchlistEntryID)
	b.mu.Lock()
	b.failures++
	tripped := b.failures >= t.threshold
	if tripped {
		b.failures = 0
	}
	b.mu.Unlock()

	if !tripped || t.entries == nil {
		return
	}
	metrics.ObserveCircuitBreakerTrip()
	t.logger.Warn("circuit breaker tripped; pausing entry",
		zap.String("entry_id", job.WatchlistEntryID),
		zap.String("target_id", job.TargetID),
		zap.Int("threshold", t.threshold),
		zap.String("last_error", job.Error),
	)
	if err := t.entries.Pause(ctx, job.WatchlistEntryID); err != nil {
		t.logger.Error("failed to pause entry",
			zap.String("entry_id", job.WatchlistEntryID),
			zap.Error(err),
		)
	}
}

func (t *Tracker) makeDue(ctx context.Context, job collector.CollectionJob) {
	if t.entries == nil {
		return
	}
	if err := t.entries.MakeDue(ctx, job.WatchlistEntryID, t.clock.Now()); err != nil {
		t.logger.Error("failed to reschedule cancelled entry",
			zap.String("entry_id", job.WatchlistEntryID),
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

func (t *Tracker) breaker(entryID string) *breaker {
	b, _ := t.breakers.LoadOrStore(entryID, &breaker{})
	return b.(*breaker)
}

func (b *breaker) reset() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

func (b *breaker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
