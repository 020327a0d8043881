package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultResultsTable is the table created by the embedded migrations.
const DefaultResultsTable = "collection_results"

// ResultStore is a collector.ResultSink writing rows into Postgres. Rows are
// deduplicated on (url, fetched_at) so redelivered results are harmless.
type ResultStore struct {
	db    DB
	table string
}

// NewResultStore constructs a store over an existing pool.
func NewResultStore(db DB, table string) (*ResultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultResultsTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{db: db, table: table}, nil
}

// Store implements collector.ResultSink.
func (s *ResultStore) Store(ctx context.Context, result collector.CollectionResult) error {
	if result.JobID == "" {
		return fmt.Errorf("%w: result job id is required", collector.ErrValidation)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	target_id,
	source_kind,
	url,
	success,
	status_code,
	data,
	content_hash,
	error,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (url, fetched_at) DO NOTHING`, s.table)

	args := []any{
		result.JobID,
		result.TargetID,
		string(result.SourceKind),
		result.URL,
		result.Success,
		result.StatusCode,
		result.Data,
		result.ContentHash,
		result.Error,
		result.Timestamp,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}
