package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/crawler"
)

func newPostgresMock(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock, 3), mock
}

func TestPostgres_UpsertNew(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO urls").
		WithArgs("https://a.com/", false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	inserted, err := store.UpsertNew(ctx, "https://a.com/", false)
	require.NoError(t, err)
	require.True(t, inserted)

	mock.ExpectExec("INSERT INTO urls").
		WithArgs("https://a.com/", false).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	inserted, err = store.UpsertNew(ctx, "https://a.com/", false)
	require.NoError(t, err)
	require.False(t, inserted, "conflicting insert touches no rows")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Get(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT url, status, retry_count").
		WithArgs("https://a.com/").
		WillReturnRows(recordRows().
			AddRow("https://a.com/", "paused", 2, false, "operator pause", "503", now, int64(7)))

	rec, err := store.Get(ctx, "https://a.com/")
	require.NoError(t, err)
	require.Equal(t, crawler.URLRecord{
		URL:         "https://a.com/",
		Status:      crawler.StatusPaused,
		RetryCount:  2,
		PauseReason: "operator pause",
		LastError:   "503",
		LastUpdated: now,
		Seq:         7,
	}, rec)

	mock.ExpectQuery("SELECT url, status, retry_count").
		WithArgs("https://absent.com/").
		WillReturnRows(recordRows())
	_, err = store.Get(ctx, "https://absent.com/")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkRetryOrError(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectQuery("UPDATE urls SET").
		WithArgs("https://a.com/", "timeout", 3).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("pending"))
	status, err := store.MarkRetryOrError(ctx, "https://a.com/", "timeout")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusPending, status)

	mock.ExpectQuery("UPDATE urls SET").
		WithArgs("https://a.com/", "timeout", 3).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("error"))
	status, err = store.MarkRetryOrError(ctx, "https://a.com/", "timeout")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusError, status)

	// A row paused mid-fetch misses the pending guard and stays untouched.
	mock.ExpectQuery("UPDATE urls SET").
		WithArgs("https://a.com/", "timeout", 3).
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	mock.ExpectQuery("SELECT status FROM urls").
		WithArgs("https://a.com/").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("paused"))
	status, err = store.MarkRetryOrError(ctx, "https://a.com/", "timeout")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusPaused, status)

	mock.ExpectQuery("UPDATE urls SET").
		WithArgs("https://absent.com/", "timeout", 3).
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	mock.ExpectQuery("SELECT status FROM urls").
		WithArgs("https://absent.com/").
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	_, err = store.MarkRetryOrError(ctx, "https://absent.com/", "timeout")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkVisited(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE urls SET status = 'visited'").
		WithArgs("https://a.com/").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkVisited(ctx, "https://a.com/"))

	// Row exists but is not pending: the guard rejects the write.
	mock.ExpectExec("UPDATE urls SET status = 'visited'").
		WithArgs("https://a.com/").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://a.com/").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	require.ErrorIs(t, store.MarkVisited(ctx, "https://a.com/"), crawler.ErrInvalidTransition)

	mock.ExpectExec("UPDATE urls SET status = 'visited'").
		WithArgs("https://absent.com/").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://absent.com/").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	require.ErrorIs(t, store.MarkVisited(ctx, "https://absent.com/"), crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetStatus(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE urls SET").
		WithArgs("https://a.com/", "paused", "maintenance").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.SetStatus(ctx, "https://a.com/", crawler.StatusPaused, "maintenance"))

	mock.ExpectExec("UPDATE urls SET").
		WithArgs("https://a.com/", "paused", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://a.com/").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	require.ErrorIs(t,
		store.SetStatus(ctx, "https://a.com/", crawler.StatusPaused, ""),
		crawler.ErrInvalidTransition)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListByPrefix(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery("starts_with").
		WithArgs("https://a.com/blog", "pending").
		WillReturnRows(recordRows().
			AddRow("https://a.com/blog/1", "pending", 0, false, "", "", now, int64(1)).
			AddRow("https://a.com/blogger", "pending", 0, false, "", "", now, int64(2)))

	got, err := store.ListByPrefix(ctx, "https://a.com/blog", crawler.StatusPending)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "https://a.com/blog/1", got[0].URL)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountsByStatus(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(5)).
			AddRow("visited", int64(2)))

	counts, err := store.CountsByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, counts[crawler.StatusPending])
	require.Equal(t, 2, counts[crawler.StatusVisited])
	require.Equal(t, 0, counts[crawler.StatusPaused], "missing statuses still present as zero")
	require.Equal(t, 0, counts[crawler.StatusError])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_EarliestURLEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newPostgresMock(t)

	mock.ExpectQuery("ORDER BY seq ASC LIMIT 1").
		WillReturnRows(pgxmock.NewRows([]string{"url"}))
	url, err := store.EarliestURL(context.Background())
	require.NoError(t, err)
	require.Empty(t, url)

	require.NoError(t, mock.ExpectationsWereMet())
}

func recordRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"url", "status", "retry_count", "is_sitemap",
		"pause_reason", "last_error", "last_updated", "seq",
	})
}
