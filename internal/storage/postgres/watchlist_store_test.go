package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

var entryCols = []string{
	"id", "target_id", "source_kind", "url", "poll_interval_ms", "status",
	"last_polled_at", "next_due_at", "seq", "version", "created_at", "updated_at",
}

func sampleEntry() collector.WatchlistEntry {
	now := time.Unix(1700000000, 0).UTC()
	return collector.WatchlistEntry{
		ID:           "entry-1",
		TargetID:     "acme",
		SourceKind:   collector.SourceAdLibrary,
		PollInterval: time.Minute,
		Status:       collector.EntryActive,
		NextDueAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func entryRow(e collector.WatchlistEntry) []any {
	return []any{
		e.ID, e.TargetID, string(e.SourceKind), e.URL, e.PollInterval.Milliseconds(), string(e.Status),
		e.LastPolledAt, e.NextDueAt, e.Seq, e.Version, e.CreatedAt, e.UpdatedAt,
	}
}

func TestWatchlistStoreCreate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWatchlistStore(mock)
	require.NoError(t, err)

	entry := sampleEntry()
	mock.ExpectQuery("INSERT INTO watchlist_entries").
		WithArgs(entry.ID, "acme", "ad_library", "", int64(60000), "active",
			entry.LastPolledAt, entry.NextDueAt, entry.CreatedAt, entry.UpdatedAt).
		WillReturnRows(pgxmock.NewRows([]string{"seq", "version"}).AddRow(int64(7), int64(1)))

	created, err := store.Create(context.Background(), entry)
	require.NoError(t, err)
	require.Equal(t, int64(7), created.Seq)
	require.Equal(t, int64(1), created.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatchlistStoreCreateConflict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWatchlistStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO watchlist_entries").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "watchlist_entries_target_id_key"})

	_, err = store.Create(context.Background(), sampleEntry())
	require.ErrorIs(t, err, collector.ErrConflict)
}

func TestWatchlistStoreGetAndList(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWatchlistStore(mock)
	require.NoError(t, err)

	entry := sampleEntry()
	entry.Seq, entry.Version = 1, 3
	mock.ExpectQuery("FROM watchlist_entries WHERE target_id = ").
		WithArgs("acme").
		WillReturnRows(pgxmock.NewRows(entryCols).AddRow(entryRow(entry)...))
	mock.ExpectQuery("FROM watchlist_entries WHERE id = ").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows(entryCols))

	second := sampleEntry()
	second.ID, second.TargetID, second.Seq, second.Version = "entry-2", "globex", 2, 1
	mock.ExpectQuery("FROM watchlist_entries ORDER BY seq").
		WillReturnRows(pgxmock.NewRows(entryCols).AddRow(entryRow(entry)...).AddRow(entryRow(second)...))

	ctx := context.Background()
	got, err := store.Get(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, entry, got)

	_, err = store.GetByID(ctx, "ghost")
	require.ErrorIs(t, err, collector.ErrNotFound)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "globex", all[1].TargetID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatchlistStoreUpdateCompareAndSwap(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWatchlistStore(mock)
	require.NoError(t, err)

	entry := sampleEntry()
	entry.Version = 2
	entry.NextDueAt = entry.NextDueAt.Add(time.Minute)
	stored := entry
	stored.Version = 3

	mock.ExpectQuery("UPDATE watchlist_entries SET").
		WithArgs(entry.ID, "ad_library", "", int64(60000), "active",
			entry.LastPolledAt, entry.NextDueAt, entry.UpdatedAt, int64(2)).
		WillReturnRows(pgxmock.NewRows(entryCols).AddRow(entryRow(stored)...))

	updated, err := store.Update(context.Background(), entry)
	require.NoError(t, err)
	require.Equal(t, int64(3), updated.Version)

	// A lost race returns no row; the current version decides stale vs missing.
	mock.ExpectQuery("UPDATE watchlist_entries SET").
		WillReturnRows(pgxmock.NewRows(entryCols))
	mock.ExpectQuery("SELECT version FROM watchlist_entries").
		WithArgs(entry.ID).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(5)))
	_, err = store.Update(context.Background(), entry)
	require.ErrorIs(t, err, collector.ErrStale)

	mock.ExpectQuery("UPDATE watchlist_entries SET").
		WillReturnRows(pgxmock.NewRows(entryCols))
	mock.ExpectQuery("SELECT version FROM watchlist_entries").
		WillReturnRows(pgxmock.NewRows([]string{"version"}))
	_, err = store.Update(context.Background(), entry)
	require.ErrorIs(t, err, collector.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWatchlistStoreDelete(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWatchlistStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM watchlist_entries").WithArgs("acme").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM watchlist_entries").WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.Delete(context.Background(), "acme"))
	require.ErrorIs(t, store.Delete(context.Background(), "ghost"), collector.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
