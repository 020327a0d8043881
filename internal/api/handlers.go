package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/watchlist"
)

type addEntryRequest struct {
	TargetID            string `json:"target_id"`
	SourceKind          string `json:"source_kind"`
	PollIntervalSeconds *int   `json:"poll_interval_seconds"`
	URL                 string `json:"url"`
	Status              string `json:"status"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type intervalRequest struct {
	PollIntervalSeconds int `json:"poll_interval_seconds"`
}

type entryDTO struct {
	ID                  string  `json:"id"`
	TargetID            string  `json:"target_id"`
	SourceKind          string  `json:"source_kind"`
	URL                 string  `json:"url,omitempty"`
	PollIntervalSeconds int64   `json:"poll_interval_seconds"`
	Status              string  `json:"status"`
	LastPolledAt        *string `json:"last_polled_at,omitempty"`
	NextDueAt           string  `json:"next_due_at"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

type jobDTO struct {
	ID          string  `json:"id"`
	EntryID     string  `json:"watchlist_entry_id"`
	TargetID    string  `json:"target_id"`
	SourceKind  string  `json:"source_kind"`
	URL         string  `json:"url"`
	State       string  `json:"state"`
	Attempt     int     `json:"attempt"`
	MaxAttempts int     `json:"max_attempts"`
	Error       string  `json:"error,omitempty"`
	ErrorKind   string  `json:"error_kind,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	Result      *result `json:"result,omitempty"`
}

type result struct {
	URL         string `json:"url"`
	Success     bool   `json:"success"`
	StatusCode  int    `json:"status_code,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	entries, err := s.registry.List(ctx)
	if err != nil {
		s.writeErr(w, r, "failed to list watchlist", err)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		want := collector.EntryStatus(strings.ToLower(raw))
		if !want.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.Status == want {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryDTOs(entries)})
}

func (s *Server) addEntry(w http.ResponseWriter, r *http.Request) {
	var req addEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	kind, err := collector.ParseSourceKind(strings.TrimSpace(req.SourceKind))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	interval := s.opts.DefaultPollInterval
	if req.PollIntervalSeconds != nil {
		var ok bool
		if interval, ok = secondsToInterval(int64(*req.PollIntervalSeconds)); !ok {
			writeError(w, http.StatusBadRequest, "poll_interval_seconds out of range")
			return
		}
	}
	var opts []watchlist.AddOption
	if req.URL != "" {
		opts = append(opts, watchlist.WithURL(req.URL))
	}
	if req.Status != "" {
		opts = append(opts, watchlist.WithStatus(collector.EntryStatus(strings.ToLower(req.Status))))
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	entry, err := s.registry.Add(ctx, req.TargetID, kind, interval, opts...)
	if err != nil {
		s.writeErr(w, r, "failed to add watchlist entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entry": toEntryDTO(entry)})
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	entry, err := s.registry.Get(ctx, chi.URLParam(r, "target_id"))
	if err != nil {
		s.writeErr(w, r, "failed to load watchlist entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": toEntryDTO(entry)})
}

func (s *Server) removeEntry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	if err := s.registry.Remove(ctx, chi.URLParam(r, "target_id")); err != nil {
		s.writeErr(w, r, "failed to remove watchlist entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "missing status")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	status := collector.EntryStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	entry, err := s.registry.SetStatus(ctx, chi.URLParam(r, "target_id"), status)
	if err != nil {
		s.writeErr(w, r, "failed to update status", err)
		return
	}
	if entry.Status == collector.EntryActive && s.opts.Breaker != nil {
		s.opts.Breaker.ResetFailures(entry.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": toEntryDTO(entry)})
}

func (s *Server) setInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	interval, ok := secondsToInterval(int64(req.PollIntervalSeconds))
	if !ok {
		writeError(w, http.StatusBadRequest, "poll_interval_seconds out of range")
		return
	}
	entry, err := s.registry.SetPollInterval(ctx, chi.URLParam(r, "target_id"), interval)
	if err != nil {
		s.writeErr(w, r, "failed to update poll interval", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": toEntryDTO(entry)})
}

// listEntryJobs handles GET /v1/watchlist/{target_id}/jobs?limit=. Jobs are
// returned newest first.
func (s *Server) listEntryJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	entry, err := s.registry.Get(ctx, chi.URLParam(r, "target_id"))
	if err != nil {
		s.writeErr(w, r, "failed to load watchlist entry", err)
		return
	}
	jobs, err := s.jobs.ListByEntry(ctx, entry.ID)
	if err != nil {
		s.writeErr(w, r, "failed to list jobs", err)
		return
	}
	out := make([]jobDTO, 0, min(limit, len(jobs)))
	for i := len(jobs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, toJobDTO(jobs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// lastJob handles GET /v1/watchlist/{target_id}/last-job. It is how operators
// see why an entry was auto-paused.
func (s *Server) lastJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	entry, err := s.registry.Get(ctx, chi.URLParam(r, "target_id"))
	if err != nil {
		s.writeErr(w, r, "failed to load watchlist entry", err)
		return
	}
	job, err := s.jobs.LastTerminal(ctx, entry.ID)
	if err != nil {
		s.writeErr(w, r, "failed to load last job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": toEntryDTO(entry), "job": toJobDTO(job)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	job, err := s.jobs.Get(ctx, chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeErr(w, r, "failed to load job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(job)})
}

func (s *Server) forgetDomain(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "domain")))
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	s.opts.Politeness.Forget(domain)
	w.WriteHeader(http.StatusNoContent)
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func toEntryDTOs(in []collector.WatchlistEntry) []entryDTO {
	out := make([]entryDTO, 0, len(in))
	for _, e := range in {
		out = append(out, toEntryDTO(e))
	}
	return out
}

func toEntryDTO(e collector.WatchlistEntry) entryDTO {
	dto := entryDTO{
		ID:                  e.ID,
		TargetID:            e.TargetID,
		SourceKind:          string(e.SourceKind),
		URL:                 e.URL,
		PollIntervalSeconds: int64(e.PollInterval / time.Second),
		Status:              string(e.Status),
		NextDueAt:           formatTime(e.NextDueAt),
		CreatedAt:           formatTime(e.CreatedAt),
		UpdatedAt:           formatTime(e.UpdatedAt),
	}
	if !e.LastPolledAt.IsZero() {
		ts := formatTime(e.LastPolledAt)
		dto.LastPolledAt = &ts
	}
	return dto
}

func toJobDTO(job collector.CollectionJob) jobDTO {
	dto := jobDTO{
		ID:          job.ID,
		EntryID:     job.WatchlistEntryID,
		TargetID:    job.TargetID,
		SourceKind:  string(job.SourceKind),
		URL:         job.Config.URL,
		State:       string(job.State),
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		Error:       job.Error,
		ErrorKind:   string(job.ErrorKind),
		CreatedAt:   formatTime(job.CreatedAt),
		UpdatedAt:   formatTime(job.UpdatedAt),
	}
	if res := job.Result; res != nil {
		dto.Result = &result{
			URL:         res.URL,
			Success:     res.Success,
			StatusCode:  res.StatusCode,
			ContentHash: res.ContentHash,
			Error:       res.Error,
			Timestamp:   formatTime(res.Timestamp),
		}
	}
	return dto
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// secondsToInterval converts a request's seconds field, rejecting values
// whose nanosecond count does not fit a time.Duration.
func secondsToInterval(n int64) (time.Duration, bool) {
	const limit = math.MaxInt64 / int64(time.Second)
	if n > limit || n < -limit {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
