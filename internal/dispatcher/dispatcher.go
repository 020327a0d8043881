// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/worker"
)

// DefaultShutdownGrace is how long in-flight jobs may run after shutdown starts.
const DefaultShutdownGrace = 10 * time.Second

// JobCanceller fails jobs that will not run because of shutdown.
type JobCanceller interface {
	Fail(
		ctx context.Context,
		jobID string,
		cause error,
		result *collector.CollectionResult,
	) (collector.CollectionJob, error)
}

// Config controls the Dispatcher.
type Config struct {
	ShutdownGrace time.Duration
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue     collector.Queue
	workers   []*worker.Worker
	retrier   *worker.Retrier
	canceller JobCanceller
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue collector.Queue,
	workers []*worker.Worker,
	retrier *worker.Retrier,
	canceller JobCanceller,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	return &Dispatcher{
		queue:     queue,
		workers:   workers,
		retrier:   retrier,
		canceller: canceller,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run starts all workers and blocks until the context finishes. Once ctx is
// done, workers stop dequeuing and in-flight jobs get the shutdown grace
// period before their context is cancelled. Pending retries and queued jobs
// are then failed as cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx, jobCtx)
		}(w)
	}
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	<-ctx.Done()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	timer := time.NewTimer(d.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		d.logger.Warn("shutdown grace period elapsed; cancelling in-flight jobs",
			zap.Duration("grace", d.cfg.ShutdownGrace))
		cancelJobs()
		<-finished
	}

	retries := 0
	if d.retrier != nil {
		retries = d.retrier.Stop()
	}
	queued := d.cancelQueued(context.WithoutCancel(ctx))
	d.logger.Info("dispatcher stopped",
		zap.Int("cancelled_retries", retries),
		zap.Int("cancelled_queued", queued),
	)
}

// cancelQueued fails jobs left in the queue after the workers stopped.
func (d *Dispatcher) cancelQueued(ctx context.Context) int {
	if d.canceller == nil {
		return 0
	}
	n := 0
	for d.queue.Len() > 0 {
		dequeueCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		item, err := d.queue.Dequeue(dequeueCtx)
		cancel()
		if err != nil {
			break
		}
		cause := fmt.Errorf("%w: queued at shutdown", collector.ErrCancelled)
		if _, err := d.canceller.Fail(ctx, item.JobID, cause, nil); err != nil {
			d.logger.Error("cancel queued job failed", zap.String("job_id", item.JobID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}
