package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// Retrier re-enqueues retrying jobs once their backoff elapses.
type Retrier struct {
	queue   collector.Queue
	tracker Tracker
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewRetrier constructs a Retrier.
func NewRetrier(queue collector.Queue, tracker Tracker, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Retrier{
		queue:   queue,
		tracker: tracker,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[string]*time.Timer),
	}
}

// Schedule moves the job back to pending and enqueues it after delay.
func (r *Retrier) Schedule(item collector.QueueItem, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		r.cancelJob(item.JobID, "retrier stopped")
		return
	}
	r.wg.Add(1)
	r.timers[item.JobID] = time.AfterFunc(delay, func() {
		defer r.wg.Done()
		r.mu.Lock()
		delete(r.timers, item.JobID)
		r.mu.Unlock()
		r.fire(item)
	})
}

func (r *Retrier) fire(item collector.QueueItem) {
	ctx := context.Background()
	if _, err := r.tracker.Requeue(ctx, item.JobID); err != nil {
		r.logger.Error("requeue transition failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if err := r.queue.Enqueue(r.ctx, item); err != nil {
		r.logger.Warn("re-enqueue failed", zap.String("job_id", item.JobID), zap.Error(err))
		r.cancelJob(item.JobID, "re-enqueue aborted")
		return
	}
	r.logger.Debug("job re-enqueued", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))
}

// Pending returns the number of retries waiting on their backoff.
func (r *Retrier) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels every pending retry, failing its job as cancelled, and waits
// for retries already firing. It returns the number of cancelled retries.
func (r *Retrier) Stop() int {
	r.mu.Lock()
	r.stopped = true
	r.cancel()
	cancelled := 0
	for jobID, timer := range r.timers {
		if timer.Stop() {
			r.wg.Done()
			r.cancelJob(jobID, "shutdown during backoff")
			cancelled++
		}
		delete(r.timers, jobID)
	}
	r.mu.Unlock()
	r.wg.Wait()
	return cancelled
}

func (r *Retrier) cancelJob(jobID, reason string) {
	cause := fmt.Errorf("%w: %s", collector.ErrCancelled, reason)
	if _, err := r.tracker.Fail(context.Background(), jobID, cause, nil); err != nil {
		r.logger.Error("cancel job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
