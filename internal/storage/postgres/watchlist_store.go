package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

const entryColumns = `id, target_id, source_kind, url, poll_interval_ms, status,
	last_polled_at, next_due_at, seq, version, created_at, updated_at`

// WatchlistStore persists watchlist entries in Postgres.
type WatchlistStore struct {
	db DB
}

// NewWatchlistStore constructs a WatchlistStore over an existing pool.
func NewWatchlistStore(db DB) (*WatchlistStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &WatchlistStore{db: db}, nil
}

// Create inserts a new entry. A duplicate target ID yields ErrConflict.
func (s *WatchlistStore) Create(ctx context.Context, entry collector.WatchlistEntry) (collector.WatchlistEntry, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO watchlist_entries (
	id, target_id, source_kind, url, poll_interval_ms, status,
	last_polled_at, next_due_at, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9,$10)
RETURNING seq, version`,
		entry.ID,
		entry.TargetID,
		string(entry.SourceKind),
		entry.URL,
		entry.PollInterval.Milliseconds(),
		string(entry.Status),
		entry.LastPolledAt,
		entry.NextDueAt,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err := row.Scan(&entry.Seq, &entry.Version); err != nil {
		return collector.WatchlistEntry{}, mapError(err, "create target %q", entry.TargetID)
	}
	return entry, nil
}

// Get fetches an entry by target ID.
func (s *WatchlistStore) Get(ctx context.Context, targetID string) (collector.WatchlistEntry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM watchlist_entries WHERE target_id = $1`, targetID)
	entry, err := scanEntry(row)
	if err != nil {
		return collector.WatchlistEntry{}, mapError(err, "target %q", targetID)
	}
	return entry, nil
}

// GetByID fetches an entry by entry ID.
func (s *WatchlistStore) GetByID(ctx context.Context, id string) (collector.WatchlistEntry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM watchlist_entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		return collector.WatchlistEntry{}, mapError(err, "entry %q", id)
	}
	return entry, nil
}

// List returns all entries ordered by insertion.
func (s *WatchlistStore) List(ctx context.Context) ([]collector.WatchlistEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM watchlist_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	var out []collector.WatchlistEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Update replaces an entry if its version matches the stored one.
func (s *WatchlistStore) Update(ctx context.Context, entry collector.WatchlistEntry) (collector.WatchlistEntry, error) {
	row := s.db.QueryRow(ctx, `
UPDATE watchlist_entries SET
	source_kind = $2,
	url = $3,
	poll_interval_ms = $4,
	status = $5,
	last_polled_at = $6,
	next_due_at = $7,
	updated_at = $8,
	version = version + 1
WHERE id = $1 AND version = $9
RETURNING `+entryColumns,
		entry.ID,
		string(entry.SourceKind),
		entry.URL,
		entry.PollInterval.Milliseconds(),
		string(entry.Status),
		entry.LastPolledAt,
		entry.NextDueAt,
		entry.UpdatedAt,
		entry.Version,
	)
	updated, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return collector.WatchlistEntry{}, s.missOrStale(ctx, entry)
	}
	if err != nil {
		return collector.WatchlistEntry{}, mapError(err, "update target %q", entry.TargetID)
	}
	return updated, nil
}

// Delete removes an entry by target ID. Its jobs are removed with it.
func (s *WatchlistStore) Delete(ctx context.Context, targetID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM watchlist_entries WHERE target_id = $1`, targetID)
	if err != nil {
		return fmt.Errorf("delete target %q: %w", targetID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: target %q", collector.ErrNotFound, targetID)
	}
	return nil
}

func (s *WatchlistStore) missOrStale(ctx context.Context, entry collector.WatchlistEntry) error {
	var current int64
	err := s.db.QueryRow(ctx, `SELECT version FROM watchlist_entries WHERE id = $1`, entry.ID).Scan(&current)
	if err != nil {
		return mapError(err, "target %q", entry.TargetID)
	}
	return fmt.Errorf("%w: target %q at version %d, have %d",
		collector.ErrStale, entry.TargetID, current, entry.Version)
}

func scanEntry(row pgx.Row) (collector.WatchlistEntry, error) {
	var (
		entry      collector.WatchlistEntry
		kind       string
		status     string
		intervalMS int64
	)
	err := row.Scan(
		&entry.ID,
		&entry.TargetID,
		&kind,
		&entry.URL,
		&intervalMS,
		&status,
		&entry.LastPolledAt,
		&entry.NextDueAt,
		&entry.Seq,
		&entry.Version,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return collector.WatchlistEntry{}, err
	}
	entry.SourceKind = collector.SourceKind(kind)
	entry.Status = collector.EntryStatus(status)
	entry.PollInterval = time.Duration(intervalMS) * time.Millisecond
	return entry, nil
}
