// Package worker implements the per-job collection pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/metrics"
)

// DefaultRequestTimeout bounds a fetch when the job carries no timeout.
const DefaultRequestTimeout = 30 * time.Second

// Gate is the politeness gate consulted before every fetch.
type Gate interface {
	Acquire(ctx context.Context, rawURL string, minInterval time.Duration) error
}

// Tracker is the subset of the status tracker the worker drives.
type Tracker interface {
	Start(ctx context.Context, jobID string) (collector.CollectionJob, error)
	Complete(ctx context.Context, jobID string, result collector.CollectionResult) (collector.CollectionJob, error)
	Retry(ctx context.Context, jobID string, cause error) (collector.CollectionJob, error)
	Requeue(ctx context.Context, jobID string) (collector.CollectionJob, error)
	Fail(
		ctx context.Context,
		jobID string,
		cause error,
		result *collector.CollectionResult,
	) (collector.CollectionJob, error)
}

// PollRecorder records completed polls on the watchlist.
type PollRecorder interface {
	RecordPoll(ctx context.Context, entryID string, polledAt time.Time) error
}

// Config controls Worker behavior.
type Config struct {
	RequestTimeout time.Duration
	Backoff        collector.ExponentialBackoff
}

// Worker consumes queue items and executes the fetch pipeline.
type Worker struct {
	id       int
	queue    collector.Queue
	tracker  Tracker
	gate     Gate
	fetcher  collector.Fetcher
	sink     collector.ResultSink
	recorder PollRecorder
	hasher   collector.Hasher
	clock    collector.Clock
	retrier  *Retrier
	cfg      Config
	logger   *zap.Logger
}

// Deps groups the collaborators of a Worker.
type Deps struct {
	Queue    collector.Queue
	Tracker  Tracker
	Gate     Gate
	Fetcher  collector.Fetcher
	Sink     collector.ResultSink
	Recorder PollRecorder
	Hasher   collector.Hasher
	Clock    collector.Clock
	Retrier  *Retrier
}

// New constructs a Worker.
func New(id int, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = collector.NewExponentialBackoff(cfg.Backoff.Base, cfg.Backoff.Max)
	}
	return &Worker{
		id:       id,
		queue:    deps.Queue,
		tracker:  deps.Tracker,
		gate:     deps.Gate,
		fetcher:  deps.Fetcher,
		sink:     deps.Sink,
		recorder: deps.Recorder,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		retrier:  deps.Retrier,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run consumes queue items until ctx finishes. Jobs execute under jobCtx so
// in-flight work can outlive ctx for a grace period.
func (w *Worker) Run(ctx, jobCtx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if errors.Is(err, context.Canceled) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		metrics.SetQueueDepth(w.queue.Len())
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(jobCtx, item)
	}
}

// Process runs one job through gate, fetch, classification and reporting.
// Errors never escape: they are recorded on the job.
func (w *Worker) Process(ctx context.Context, item collector.QueueItem) {
	bookkeeping := context.WithoutCancel(ctx)

	job, err := w.tracker.Start(bookkeeping, item.JobID)
	if err != nil {
		w.logger.Error("start job failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := ctx.Err(); err != nil {
		w.handleFailure(ctx, job, fmt.Errorf("%w: %v", collector.ErrCancelled, err), 0)
		return
	}

	if err := w.gate.Acquire(ctx, job.Config.URL, job.Config.RateLimit); err != nil {
		w.handleFailure(ctx, job, err, 0)
		return
	}

	resp, err := w.fetch(ctx, job)
	if err != nil {
		var fetchErr *collector.FetchError
		status := 0
		if errors.As(err, &fetchErr) {
			status = fetchErr.StatusCode
		}
		w.handleFailure(ctx, job, err, status)
		return
	}
	w.handleSuccess(bookkeeping, job, resp)
}

func (w *Worker) fetch(ctx context.Context, job collector.CollectionJob) (collector.CrawlResult, error) {
	timeout := job.Config.RequestTimeout
	if timeout <= 0 {
		timeout = w.cfg.RequestTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := w.fetcher.Fetch(fetchCtx, collector.CrawlTarget{
		JobID:      job.ID,
		TargetID:   job.TargetID,
		SourceKind: job.SourceKind,
		URL:        job.Config.URL,
		Attempt:    job.Attempt,
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, collector.ErrCancelled) {
			return collector.CrawlResult{}, fmt.Errorf("%w: %w", collector.ErrCancelled, err)
		}
		if errors.Is(err, context.DeadlineExceeded) || fetchCtx.Err() != nil {
			return collector.CrawlResult{}, &collector.FetchError{
				Kind: collector.KindTransient,
				URL:  job.Config.URL,
				Err:  fmt.Errorf("request timed out after %s: %w", timeout, err),
			}
		}
		return collector.CrawlResult{}, err
	}
	if collector.ClassifyStatus(resp.StatusCode) != collector.KindNone {
		return collector.CrawlResult{}, collector.NewStatusError(job.Config.URL, resp.StatusCode)
	}
	return resp, nil
}

func (w *Worker) handleSuccess(ctx context.Context, job collector.CollectionJob, resp collector.CrawlResult) {
	now := w.clock.Now()
	result := collector.CollectionResult{
		JobID:      job.ID,
		TargetID:   job.TargetID,
		SourceKind: job.SourceKind,
		URL:        job.Config.URL,
		Success:    true,
		StatusCode: resp.StatusCode,
		Data:       resp.Body,
		Timestamp:  now,
	}
	if w.hasher != nil {
		hash, err := w.hasher.Hash(resp.Body)
		if err != nil {
			w.logger.Warn("hash body failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		result.ContentHash = hash
	}
	metrics.ObserveFetch(job.Config.URL, string(job.SourceKind), "success", len(resp.Body))

	w.store(ctx, result)

	summary := result
	summary.Data = nil
	if _, err := w.tracker.Complete(ctx, job.ID, summary); err != nil {
		w.logger.Error("complete job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if w.recorder != nil {
		if err := w.recorder.RecordPoll(ctx, job.WatchlistEntryID, now); err != nil {
			w.logger.Error("record poll failed",
				zap.String("job_id", job.ID),
				zap.String("entry_id", job.WatchlistEntryID),
				zap.Error(err),
			)
		}
	}
	w.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("target_id", job.TargetID),
		zap.String("url", job.Config.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("attempt", job.Attempt),
		zap.Duration("duration", resp.Duration),
	)
}

func (w *Worker) handleFailure(ctx context.Context, job collector.CollectionJob, cause error, status int) {
	bookkeeping := context.WithoutCancel(ctx)
	if ctx.Err() != nil && !errors.Is(cause, collector.ErrCancelled) && !errors.Is(cause, context.Canceled) {
		cause = fmt.Errorf("%w: %w", collector.ErrCancelled, cause)
	}
	kind := collector.Classify(cause)
	metrics.ObserveFetch(job.Config.URL, string(job.SourceKind), string(kind), 0)

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("target_id", job.TargetID),
		zap.String("url", job.Config.URL),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.String("error_kind", string(kind)),
		zap.Error(cause),
	}

	if collector.ShouldRetry(kind, job.Attempt, job.MaxAttempts) && w.retrier != nil {
		updated, err := w.tracker.Retry(bookkeeping, job.ID, cause)
		if err != nil {
			w.logger.Error("retry transition failed", append(fields, zap.NamedError("transition_error", err))...)
			return
		}
		delay := w.cfg.Backoff.Delay(job.Attempt)
		metrics.ObserveRetry(string(job.SourceKind))
		w.logger.Warn("job failed; retry scheduled", append(fields, zap.Duration("backoff", delay))...)
		w.retrier.Schedule(collector.QueueItem{
			JobID:   updated.ID,
			EntryID: updated.WatchlistEntryID,
			Attempt: updated.Attempt,
		}, delay)
		return
	}

	result := collector.CollectionResult{
		JobID:      job.ID,
		TargetID:   job.TargetID,
		SourceKind: job.SourceKind,
		URL:        job.Config.URL,
		Success:    false,
		StatusCode: status,
		Error:      cause.Error(),
		Timestamp:  w.clock.Now(),
	}
	if _, err := w.tracker.Fail(bookkeeping, job.ID, cause, &result); err != nil {
		w.logger.Error("fail transition failed", append(fields, zap.NamedError("transition_error", err))...)
		return
	}

	switch kind {
	case collector.KindPolicyViolation:
		w.logger.Warn("crawl disallowed by source policy", append(fields, zap.Bool("audit", true))...)
	case collector.KindCancelled:
		w.logger.Info("job cancelled", fields...)
		return
	default:
		w.logger.Error("job failed", fields...)
	}
	w.store(bookkeeping, result)
}

// store hands a result to the sink. Failures are logged and never roll back
// the job outcome.
func (w *Worker) store(ctx context.Context, result collector.CollectionResult) {
	if w.sink == nil {
		return
	}
	if err := w.sink.Store(ctx, result); err != nil {
		w.logger.Error("result sink failed",
			zap.String("job_id", result.JobID),
			zap.String("url", result.URL),
			zap.Error(err),
		)
	}
}
