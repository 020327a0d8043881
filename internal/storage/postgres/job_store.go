package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

const jobColumns = `id, watchlist_entry_id, target_id, source_kind, config, state,
	attempt, max_attempts, result, error, error_kind, version, created_at, updated_at`

// JobStore persists collection jobs in Postgres. A partial unique index keeps
// at most one in-flight job per entry.
type JobStore struct {
	db DB
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(db DB) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{db: db}, nil
}

// Create inserts a new job at version 1.
func (s *JobStore) Create(ctx context.Context, job collector.CollectionJob) error {
	configJSON, resultJSON, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO collection_jobs (
	id, watchlist_entry_id, target_id, source_kind, config, state,
	attempt, max_attempts, result, error, error_kind, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$13)`,
		job.ID,
		job.WatchlistEntryID,
		job.TargetID,
		string(job.SourceKind),
		configJSON,
		string(job.State),
		job.Attempt,
		job.MaxAttempts,
		resultJSON,
		job.Error,
		string(job.ErrorKind),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "create job %q", job.ID)
	}
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (collector.CollectionJob, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM collection_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return collector.CollectionJob{}, mapError(err, "job %q", jobID)
	}
	return job, nil
}

// Update replaces a job if its version matches the stored one.
func (s *JobStore) Update(ctx context.Context, job collector.CollectionJob) (collector.CollectionJob, error) {
	configJSON, resultJSON, err := encodeJob(job)
	if err != nil {
		return collector.CollectionJob{}, err
	}
	row := s.db.QueryRow(ctx, `
UPDATE collection_jobs SET
	config = $2,
	state = $3,
	attempt = $4,
	max_attempts = $5,
	result = $6,
	error = $7,
	error_kind = $8,
	updated_at = $9,
	version = version + 1
WHERE id = $1 AND version = $10
RETURNING `+jobColumns,
		job.ID,
		configJSON,
		string(job.State),
		job.Attempt,
		job.MaxAttempts,
		resultJSON,
		job.Error,
		string(job.ErrorKind),
		job.UpdatedAt,
		job.Version,
	)
	updated, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return collector.CollectionJob{}, s.missOrStale(ctx, job)
	}
	if err != nil {
		return collector.CollectionJob{}, mapError(err, "update job %q", job.ID)
	}
	return updated, nil
}

// ListByEntry returns all jobs for an entry, oldest first.
func (s *JobStore) ListByEntry(ctx context.Context, entryID string) ([]collector.CollectionJob, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM collection_jobs
WHERE watchlist_entry_id = $1 ORDER BY created_at, id`, entryID)
}

// ListNonTerminal returns every job that has not reached a terminal state.
func (s *JobStore) ListNonTerminal(ctx context.Context) ([]collector.CollectionJob, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM collection_jobs
WHERE state NOT IN ('completed', 'failed') ORDER BY created_at, id`)
}

func (s *JobStore) list(ctx context.Context, query string, args ...any) ([]collector.CollectionJob, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []collector.CollectionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (s *JobStore) missOrStale(ctx context.Context, job collector.CollectionJob) error {
	var current int64
	err := s.db.QueryRow(ctx, `SELECT version FROM collection_jobs WHERE id = $1`, job.ID).Scan(&current)
	if err != nil {
		return mapError(err, "job %q", job.ID)
	}
	return fmt.Errorf("%w: job %q at version %d, have %d", collector.ErrStale, job.ID, current, job.Version)
}

func encodeJob(job collector.CollectionJob) ([]byte, []byte, error) {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal job config: %w", err)
	}
	resultJSON, err := json.Marshal(job.Result)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal job result: %w", err)
	}
	return configJSON, resultJSON, nil
}

func scanJob(row pgx.Row) (collector.CollectionJob, error) {
	var (
		job        collector.CollectionJob
		kind       string
		state      string
		errorKind  string
		configJSON []byte
		resultJSON []byte
	)
	err := row.Scan(
		&job.ID,
		&job.WatchlistEntryID,
		&job.TargetID,
		&kind,
		&configJSON,
		&state,
		&job.Attempt,
		&job.MaxAttempts,
		&resultJSON,
		&job.Error,
		&errorKind,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return collector.CollectionJob{}, err
	}
	job.SourceKind = collector.SourceKind(kind)
	job.State = collector.JobState(state)
	job.ErrorKind = collector.ErrorKind(errorKind)
	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return collector.CollectionJob{}, fmt.Errorf("decode job config: %w", err)
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return collector.CollectionJob{}, fmt.Errorf("decode job result: %w", err)
		}
	}
	return job, nil
}
