package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/metrics"
	"github.com/JakeFAU/intel-collector/internal/watchlist"
)

// Registry is the watchlist surface the API exposes.
type Registry interface {
	Add(
		ctx context.Context,
		targetID string,
		kind collector.SourceKind,
		pollInterval time.Duration,
		opts ...watchlist.AddOption,
	) (collector.WatchlistEntry, error)
	List(ctx context.Context) ([]collector.WatchlistEntry, error)
	Get(ctx context.Context, targetID string) (collector.WatchlistEntry, error)
	SetStatus(ctx context.Context, targetID string, status collector.EntryStatus) (collector.WatchlistEntry, error)
	SetPollInterval(ctx context.Context, targetID string, interval time.Duration) (collector.WatchlistEntry, error)
	Remove(ctx context.Context, targetID string) error
}

// Jobs is the read-only job surface the API exposes.
type Jobs interface {
	Get(ctx context.Context, jobID string) (collector.CollectionJob, error)
	ListByEntry(ctx context.Context, entryID string) ([]collector.CollectionJob, error)
	LastTerminal(ctx context.Context, entryID string) (collector.CollectionJob, error)
}

// Forgetter drops cached politeness state for a domain.
type Forgetter interface {
	Forget(domain string)
}

// FailureResetter clears an entry's consecutive-failure count.
type FailureResetter interface {
	ResetFailures(entryID string)
}

// ReadinessCheck reports whether downstream dependencies are usable.
type ReadinessCheck func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	APIKey              string
	DefaultPollInterval time.Duration
	RequestTimeout      time.Duration
	Ready               ReadinessCheck
	Politeness          Forgetter
	// Breaker is reset when an entry is set active again.
	Breaker FailureResetter
}

// Server wires HTTP handlers to the registry and status tracker.
type Server struct {
	router   chi.Router
	registry Registry
	jobs     Jobs
	opts     Options
	logger   *zap.Logger
}

const (
	defaultRequestTimeout = 10 * time.Second
	defaultJobLimit       = 50
	maxJobLimit           = 500
)

// NewServer constructs a Server with middleware and routes.
func NewServer(registry Registry, jobs Jobs, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.DefaultPollInterval <= 0 {
		opts.DefaultPollInterval = time.Hour
	}
	s := &Server{
		registry: registry,
		jobs:     jobs,
		opts:     opts,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/", s.listEntries)
			r.Post("/", s.addEntry)
			r.Route("/{target_id}", func(r chi.Router) {
				r.Get("/", s.getEntry)
				r.Delete("/", s.removeEntry)
				r.Put("/status", s.setStatus)
				r.Put("/interval", s.setInterval)
				r.Get("/jobs", s.listEntryJobs)
				r.Get("/last-job", s.lastJob)
			})
		})
		r.Get("/jobs/{job_id}", s.getJob)
		if opts.Politeness != nil {
			r.Delete("/politeness/{domain}", s.forgetDomain)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, collector.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, collector.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, collector.ErrConflict), errors.Is(err, collector.ErrStale):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err), zap.String("request_id", requestID(r.Context())))
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
