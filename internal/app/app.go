// Package app builds the collection pipeline from configuration and runs it
// until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/api"
	"github.com/JakeFAU/intel-collector/internal/clock/system"
	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/config"
	"github.com/JakeFAU/intel-collector/internal/dispatcher"
	"github.com/JakeFAU/intel-collector/internal/fetcher"
	collyfetcher "github.com/JakeFAU/intel-collector/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/intel-collector/internal/fetcher/headless"
	stubfetcher "github.com/JakeFAU/intel-collector/internal/fetcher/stub"
	"github.com/JakeFAU/intel-collector/internal/hash/sha256"
	"github.com/JakeFAU/intel-collector/internal/id/uuid"
	"github.com/JakeFAU/intel-collector/internal/politeness"
	gcppublisher "github.com/JakeFAU/intel-collector/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/intel-collector/internal/queue/memory"
	"github.com/JakeFAU/intel-collector/internal/scheduler"
	"github.com/JakeFAU/intel-collector/internal/sink"
	"github.com/JakeFAU/intel-collector/internal/status"
	gcsstorage "github.com/JakeFAU/intel-collector/internal/storage/gcs"
	localstorage "github.com/JakeFAU/intel-collector/internal/storage/local"
	memorystorage "github.com/JakeFAU/intel-collector/internal/storage/memory"
	pgstore "github.com/JakeFAU/intel-collector/internal/storage/postgres"
	"github.com/JakeFAU/intel-collector/internal/watchlist"
	"github.com/JakeFAU/intel-collector/internal/worker"
)

const (
	apiRequestTimeout = 10 * time.Second
	httpShutdownGrace = 10 * time.Second
)

var sourceKinds = []collector.SourceKind{
	collector.SourceAdLibrary,
	collector.SourceSERP,
	collector.SourceReviews,
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  collector.Clock
	ids    collector.IDGenerator

	pool         *pgxpool.Pool
	storage      *storage.Client
	pubsubClient *pubsub.Client
	pubsubTopic  *gcppublisher.ClientTopic
	headless     *headlessfetcher.Fetcher

	watchlistStore collector.WatchlistStore
	jobStore       collector.JobStore
	results        *memorystorage.ResultSink

	registry  *watchlist.Registry
	tracker   *status.Tracker
	gate      *politeness.Gate
	queue     *queuememory.Queue
	scheduler *scheduler.Scheduler
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
}

// Option customizes Build.
type Option func(*App)

// WithClock replaces the system clock.
func WithClock(clock collector.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// Build creates the application's dependencies. Resources opened before a
// failure are released before Build returns.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.closeInfrastructure()
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("workers", cfg.Workers.MaxWorkers),
		zap.Int("queue_depth", cfg.Workers.QueueDepth),
	)

	if err = a.setupStores(ctx); err != nil {
		return nil, err
	}

	a.registry = watchlist.NewRegistry(a.watchlistStore, a.ids, a.clock, logger.Named("watchlist"))
	if err = a.seedWatchlist(ctx); err != nil {
		return nil, err
	}

	a.tracker = status.NewTracker(status.Config{
		CircuitBreakerThreshold: cfg.Status.CircuitBreakerThreshold,
		MaxAttempts:             cfg.Jobs.MaxAttempts,
	}, a.jobStore, a.registry, a.ids, a.clock, logger.Named("status"))
	if _, err = a.tracker.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recover interrupted jobs: %w", err)
	}

	a.gate = a.setupPoliteness()

	router, err := a.setupFetchers()
	if err != nil {
		return nil, err
	}

	resultSink, err := a.setupSinks(ctx)
	if err != nil {
		return nil, err
	}

	a.queue = queuememory.NewQueue(cfg.Workers.QueueDepth)
	a.dispatch = a.setupDispatcher(router, resultSink)

	a.scheduler = scheduler.New(scheduler.Config{
		TickInterval: cfg.TickInterval(),
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		Sources:      a.sources(),
	}, a.registry, a.tracker, a.queue, a.clock, scheduler.WithLogger(logger.Named("scheduler")))

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(a.registry, a.tracker, api.Options{
		APIKey:              apiKey,
		DefaultPollInterval: cfg.DefaultPollInterval(),
		RequestTimeout:      apiRequestTimeout,
		Ready:               a.ready,
		Politeness:          a.gate,
		Breaker:             a.tracker,
	}, logger.Named("api"))

	return a, nil
}

// Registry exposes the watchlist registry.
func (a *App) Registry() *watchlist.Registry { return a.registry }

// Tracker exposes the status tracker.
func (a *App) Tracker() *status.Tracker { return a.tracker }

// Handler returns the admin HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Results returns results held by the in-memory sink. It is nil unless no
// other sink is configured.
func (a *App) Results() []collector.CollectionResult {
	if a.results == nil {
		return nil
	}
	return a.results.Results()
}

// Run starts the scheduler, the worker pool, and the admin server and blocks
// until ctx is cancelled. The scheduler stops first so nothing is enqueued
// after the workers drain the queue.
func (a *App) Run(ctx context.Context) error {
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	var wg sync.WaitGroup
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(dispatchCtx)
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	schedErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := a.scheduler.Run(runCtx)
		if err != nil {
			a.logger.Error("scheduler failed", zap.Error(err))
			stop()
		}
		schedErr <- err
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-runCtx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	stopDispatch()
	<-dispatchDone

	err := <-schedErr
	if closeErr := a.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

// Close releases external clients and pools.
func (a *App) Close() error {
	if a.queue != nil {
		a.queue.Close()
	}
	err := a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return err
}

func (a *App) closeInfrastructure() error {
	var errs []error
	if a.headless != nil {
		a.headless.Close()
		a.headless = nil
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
		a.pubsubTopic = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
		a.storage = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errors.Join(errs...)
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (a *App) needsPool() bool {
	return a.cfg.Storage.Backend == config.BackendPostgres || a.cfg.Sinks.Postgres
}

func (a *App) setupStores(ctx context.Context) error {
	if a.needsPool() {
		if a.cfg.DB.AutoMigrate {
			version, err := pgstore.Migrate(a.cfg.DB.DSN, 0, a.logger.Named("migrate"))
			if err != nil {
				return fmt.Errorf("auto-migrate: %w", err)
			}
			a.logger.Info("schema migrated", zap.Uint("version", version.Version))
		}
		pool, err := pgstore.NewPool(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		a.pool = pool
	}

	if a.cfg.Storage.Backend != config.BackendPostgres {
		a.logger.Info("using in-memory watchlist and job stores")
		a.watchlistStore = memorystorage.NewWatchlistStore()
		a.jobStore = memorystorage.NewJobStore()
		return nil
	}

	a.logger.Info("using postgres watchlist and job stores")
	watchlistStore, err := pgstore.NewWatchlistStore(a.pool)
	if err != nil {
		return fmt.Errorf("watchlist store init failed: %w", err)
	}
	jobStore, err := pgstore.NewJobStore(a.pool)
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	a.watchlistStore = watchlistStore
	a.jobStore = jobStore
	return nil
}

func (a *App) seedWatchlist(ctx context.Context) error {
	path := a.cfg.Watchlist.SeedFile
	if path == "" {
		return nil
	}
	seeds, err := watchlist.LoadSeedFile(path)
	if err != nil {
		return fmt.Errorf("load seed file: %w", err)
	}
	report, err := a.registry.Seed(ctx, seeds, a.cfg.DefaultPollInterval())
	if err != nil {
		a.logger.Warn("some seed entries were rejected", zap.Error(err))
	}
	a.logger.Info("watchlist seeded",
		zap.String("file", path),
		zap.Int("added", report.Added),
		zap.Int("skipped", report.Skipped),
	)
	return nil
}

func (a *App) setupPoliteness() *politeness.Gate {
	var checker politeness.PermissionChecker = politeness.AllowAll{}
	if a.cfg.Politeness.RespectRobots {
		checker = politeness.NewRobotsChecker(nil, a.cfg.Politeness.UserAgent, a.logger.Named("robots"))
	} else {
		a.logger.Warn("robots.txt enforcement disabled")
	}
	return politeness.NewGate(
		politeness.Config{PermissionTTL: a.cfg.RobotsCacheTTL()},
		checker,
		a.clock,
		a.logger.Named("politeness"),
	)
}

func (a *App) setupFetchers() (*fetcher.Router, error) {
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Politeness.UserAgent,
		Timeout:   a.cfg.RequestTimeout(),
	})
	router := fetcher.NewRouter(httpFetcher)

	var headless collector.Fetcher = headlessfetcher.NewNoop()
	if a.cfg.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Politeness.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = f
		headless = f
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}

	for _, kind := range sourceKinds {
		name := a.cfg.FetcherFor(kind)
		switch name {
		case config.FetcherHeadless:
			router.Route(kind, headless)
		case config.FetcherStub:
			router.Route(kind, stubfetcher.New())
		}
		a.logger.Debug("fetcher routed", zap.String("source_kind", string(kind)), zap.String("fetcher", name))
	}
	return router, nil
}

func (a *App) setupSinks(ctx context.Context) (collector.ResultSink, error) {
	var named []sink.Named
	cfg := a.cfg.Sinks

	if cfg.LocalDir != "" {
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local sink init failed: %w", err)
		}
		named = append(named, sink.Named{Name: "local", Sink: local})
		a.logger.Info("local result sink enabled", zap.String("dir", cfg.LocalDir))
	}

	if cfg.GCSBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		uploader, err := gcsstorage.NewBucketUploader(client, cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("gcs uploader init failed: %w", err)
		}
		gcsSink, err := gcsstorage.New(uploader, gcsstorage.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("gcs sink init failed: %w", err)
		}
		named = append(named, sink.Named{Name: "gcs", Sink: gcsSink})
		a.logger.Info("gcs result sink enabled", zap.String("bucket", cfg.GCSBucket))
	}

	if cfg.PubSubTopic != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		topic, err := gcppublisher.NewClientTopic(client, cfg.PubSubTopic)
		if err != nil {
			return nil, fmt.Errorf("pubsub topic init failed: %w", err)
		}
		a.pubsubTopic = topic
		named = append(named, sink.Named{Name: "pubsub", Sink: gcppublisher.New(topic)})
		a.logger.Info("pubsub result sink enabled",
			zap.String("project", cfg.PubSubProjectID),
			zap.String("topic", cfg.PubSubTopic),
		)
	}

	if cfg.Postgres {
		results, err := pgstore.NewResultStore(a.pool, a.cfg.DB.ResultsTable)
		if err != nil {
			return nil, fmt.Errorf("postgres sink init failed: %w", err)
		}
		named = append(named, sink.Named{Name: "postgres", Sink: results})
		a.logger.Info("postgres result sink enabled", zap.String("table", a.cfg.DB.ResultsTable))
	}

	if len(named) == 0 {
		a.logger.Warn("no result sinks configured; results are kept in memory")
		a.results = memorystorage.NewResultSink()
		named = append(named, sink.Named{Name: "memory", Sink: a.results})
	}
	return sink.NewMulti(named...), nil
}

func (a *App) setupDispatcher(fetch collector.Fetcher, resultSink collector.ResultSink) *dispatcher.Dispatcher {
	retrier := worker.NewRetrier(a.queue, a.tracker, a.logger.Named("retrier"))
	workerCfg := worker.Config{
		RequestTimeout: a.cfg.RequestTimeout(),
		Backoff:        a.cfg.Backoff(),
	}
	a.logger.Info("worker config",
		zap.Duration("request_timeout", workerCfg.RequestTimeout),
		zap.Duration("backoff_base", workerCfg.Backoff.Base),
		zap.Duration("backoff_max", workerCfg.Backoff.Max),
		zap.Int("max_attempts", a.cfg.Jobs.MaxAttempts),
	)
	deps := worker.Deps{
		Queue:    a.queue,
		Tracker:  a.tracker,
		Gate:     a.gate,
		Fetcher:  fetch,
		Sink:     resultSink,
		Recorder: a.registry,
		Hasher:   sha256.New(),
		Clock:    a.clock,
		Retrier:  retrier,
	}
	workers := make([]*worker.Worker, 0, a.cfg.Workers.MaxWorkers)
	for i := 0; i < a.cfg.Workers.MaxWorkers; i++ {
		workers = append(workers, worker.New(i, deps, workerCfg, a.logger.Named("worker")))
	}
	return dispatcher.New(
		a.queue,
		workers,
		retrier,
		a.tracker,
		dispatcher.Config{ShutdownGrace: a.cfg.ShutdownGrace()},
		a.logger.Named("dispatcher"),
	)
}

func (a *App) sources() scheduler.Sources {
	kinds := make(map[collector.SourceKind]scheduler.SourceConfig, len(a.cfg.Sources))
	for raw, src := range a.cfg.Sources {
		kinds[collector.SourceKind(raw)] = scheduler.SourceConfig{
			URLTemplate: src.URLTemplate,
			RateLimit:   time.Duration(src.RateLimitMs) * time.Millisecond,
		}
	}
	return scheduler.Sources{
		DefaultRateLimit: a.cfg.DomainRateLimit(),
		RequestTimeout:   a.cfg.RequestTimeout(),
		Kinds:            kinds,
	}
}
