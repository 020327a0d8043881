// Package scheduler emits collection jobs for due watchlist entries on a
// fixed, non-overlapping tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/logging"
	"github.com/JakeFAU/intel-collector/internal/metrics"
)

// DefaultTickInterval is used when no tick interval is configured.
const DefaultTickInterval = 5 * time.Second

// Registry is the subset of the watchlist registry the scheduler needs.
type Registry interface {
	ListActive(ctx context.Context) ([]collector.WatchlistEntry, error)
	Claim(ctx context.Context, entry collector.WatchlistEntry, now time.Time) (collector.WatchlistEntry, error)
}

// Tracker is the subset of the status tracker the scheduler needs.
type Tracker interface {
	IsInFlight(entryID string) bool
	Create(ctx context.Context, job collector.CollectionJob) (collector.CollectionJob, error)
	Fail(ctx context.Context, jobID string, cause error, result *collector.CollectionResult) (collector.CollectionJob, error)
}

// Config controls the Scheduler.
type Config struct {
	TickInterval time.Duration
	MaxAttempts  int
	Sources      Sources
}

// TickReport summarizes one tick.
type TickReport struct {
	Due      int
	Emitted  int
	Deferred int
	Skipped  int
}

// Scheduler claims due entries and pushes one pending job per entry onto the
// queue. Ticks are serialized.
type Scheduler struct {
	cfg      Config
	registry Registry
	tracker  Tracker
	queue    collector.Queue
	clock    collector.Clock
	logger   *zap.Logger

	tickMu   sync.Mutex
	backlog  []collector.QueueItem
	warnFull rate.Sometimes
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Scheduler.
func New(
	cfg Config,
	registry Registry,
	tracker Tracker,
	queue collector.Queue,
	clock collector.Clock,
	opts ...Option,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	s := &Scheduler{
		cfg:      cfg,
		registry: registry,
		tracker:  tracker,
		queue:    queue,
		clock:    clock,
		logger:   zap.NewNop(),
		warnFull: rate.Sometimes{First: 1, Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks immediately and then every TickInterval until ctx is done. A tick
// still running when the next one fires is skipped. Jobs still deferred at
// shutdown are failed as cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLogger := logging.CronLogger(s.logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	spec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick %q: %w", spec, err)
	}

	s.logger.Info("scheduler started", zap.Duration("tick_interval", s.cfg.TickInterval))
	s.tick(ctx)
	c.Start()

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()

	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	n := s.DrainBacklog(cleanup)
	s.logger.Info("scheduler stopped", zap.Int("cancelled_deferred_jobs", n))
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.Tick(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler tick failed", zap.Error(err))
		return
	}
	if report.Emitted > 0 || report.Deferred > 0 {
		s.logger.Debug("scheduler tick",
			zap.Int("due", report.Due),
			zap.Int("emitted", report.Emitted),
			zap.Int("deferred", report.Deferred),
			zap.Int("skipped", report.Skipped),
		)
	}
}

// Tick runs one scheduling pass: flush deferred jobs, then claim every due
// entry without an in-flight job and emit its job in due-time order.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	var report TickReport
	now := s.clock.Now()
	dispatchCtx, cancel := context.WithTimeout(ctx, s.cfg.TickInterval)
	defer cancel()

	s.flushBacklog(dispatchCtx)

	entries, err := s.registry.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("list active entries: %w", err)
	}
	due := make([]collector.WatchlistEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Due(now) && !s.tracker.IsInFlight(entry.ID) {
			due = append(due, entry)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].NextDueAt.Equal(due[j].NextDueAt) {
			return due[i].NextDueAt.Before(due[j].NextDueAt)
		}
		return due[i].Seq < due[j].Seq
	})
	report.Due = len(due)

	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("tick interrupted: %w", err)
		}
		item, ok := s.emit(ctx, entry, now)
		if !ok {
			report.Skipped++
			continue
		}
		if s.enqueue(dispatchCtx, item) {
			report.Emitted++
		} else {
			report.Deferred++
		}
	}
	metrics.ObserveSchedulerTick(report.Emitted, report.Deferred)
	metrics.SetQueueDepth(s.queue.Len())
	return report, nil
}

// emit claims the entry and creates its pending job.
func (s *Scheduler) emit(
	ctx context.Context,
	entry collector.WatchlistEntry,
	now time.Time,
) (collector.QueueItem, bool) {
	claimed, err := s.registry.Claim(ctx, entry, now)
	if err != nil {
		if !errors.Is(err, collector.ErrStale) {
			s.logger.Error("failed to claim entry", zap.String("target_id", entry.TargetID), zap.Error(err))
		}
		return collector.QueueItem{}, false
	}

	cfg, err := s.cfg.Sources.Resolve(claimed)
	if err != nil {
		s.logger.Warn("cannot resolve source for entry",
			zap.String("target_id", claimed.TargetID),
			zap.String("source_kind", string(claimed.SourceKind)),
			zap.Error(err),
		)
		return collector.QueueItem{}, false
	}

	job, err := s.tracker.Create(ctx, collector.CollectionJob{
		WatchlistEntryID: claimed.ID,
		TargetID:         claimed.TargetID,
		SourceKind:       claimed.SourceKind,
		Config:           cfg,
		MaxAttempts:      s.cfg.MaxAttempts,
	})
	if err != nil {
		if !errors.Is(err, collector.ErrConflict) {
			s.logger.Error("failed to create job", zap.String("target_id", claimed.TargetID), zap.Error(err))
		}
		return collector.QueueItem{}, false
	}
	return collector.QueueItem{JobID: job.ID, EntryID: job.WatchlistEntryID, Attempt: job.Attempt}, true
}

// enqueue pushes item unless earlier jobs are still deferred or the queue
// stays full past the tick deadline, in which case item joins the backlog.
func (s *Scheduler) enqueue(ctx context.Context, item collector.QueueItem) bool {
	if len(s.backlog) == 0 && ctx.Err() == nil {
		if err := s.queue.Enqueue(ctx, item); err == nil {
			return true
		}
	}
	s.backlog = append(s.backlog, item)
	s.warnFull.Do(func() {
		s.logger.Warn("job queue full; deferring jobs to next tick",
			zap.Int("deferred", len(s.backlog)),
			zap.Int("queue_depth", s.queue.Len()),
		)
	})
	return false
}

func (s *Scheduler) flushBacklog(ctx context.Context) {
	sent := 0
	for _, item := range s.backlog {
		if err := s.queue.Enqueue(ctx, item); err != nil {
			break
		}
		sent++
	}
	s.backlog = append(s.backlog[:0], s.backlog[sent:]...)
	if sent > 0 {
		metrics.ObserveSchedulerTick(sent, 0)
	}
}

// Backlog returns the number of deferred jobs.
func (s *Scheduler) Backlog() int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return len(s.backlog)
}

// DrainBacklog fails every deferred job as cancelled and returns how many
// were dropped.
func (s *Scheduler) DrainBacklog(ctx context.Context) int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	n := 0
	for _, item := range s.backlog {
		cause := fmt.Errorf("%w: scheduler stopped before dispatch", collector.ErrCancelled)
		if _, err := s.tracker.Fail(ctx, item.JobID, cause, nil); err != nil {
			s.logger.Error("failed to cancel deferred job", zap.String("job_id", item.JobID), zap.Error(err))
			continue
		}
		n++
	}
	s.backlog = nil
	return n
}
