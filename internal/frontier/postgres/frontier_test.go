package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/scrapai/scrapai/internal/crawl"
)

type stubIDs struct{ id string }

func (s stubIDs) NewID() (string, error) { return s.id, nil }

type stubClock struct{ now time.Time }

func (s stubClock) Now() time.Time { return s.now }

func newTestFrontier(t *testing.T) (*Frontier, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1700000000, 0).UTC()
	f, err := NewWithPool(mock, 3, stubIDs{id: "item-1"}, stubClock{now: now})
	require.NoError(t, err)
	return f, mock, now
}

func TestEnqueueInsertsNormalizedURL(t *testing.T) {
	t.Parallel()

	f, mock, now := newTestFrontier(t)

	mock.ExpectExec("INSERT INTO crawl_queue").
		WithArgs("item-1", "https://example.com/docs", "https://example.com", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := f.Enqueue(context.Background(), "https://Example.COM/docs/#frag")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueConflictReportsNoInsert(t *testing.T) {
	t.Parallel()

	f, mock, now := newTestFrontier(t)

	mock.ExpectExec("INSERT INTO crawl_queue").
		WithArgs("item-1", "https://example.com/docs", "https://example.com", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := f.Enqueue(context.Background(), "https://example.com/docs")
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	f, mock, _ := newTestFrontier(t)

	_, err := f.Enqueue(context.Background(), "ftp://example.com/file")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextReturnsClaimedItem(t *testing.T) {
	t.Parallel()

	f, mock, now := newTestFrontier(t)

	rows := pgxmock.NewRows([]string{
		"id", "url", "domain", "status", "attempts", "scheduled_at", "last_error",
	}).AddRow("item-1", "https://example.com/docs", "https://example.com",
		"processing", 1, now, "")
	mock.ExpectQuery("UPDATE crawl_queue").WillReturnRows(rows)

	item, err := f.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, "item-1", item.ID)
	require.Equal(t, crawl.StatusProcessing, item.Status)
	require.Equal(t, 1, item.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextEmptyQueueReturnsNil(t *testing.T) {
	t.Parallel()

	f, mock, _ := newTestFrontier(t)

	mock.ExpectQuery("UPDATE crawl_queue").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "domain", "status", "attempts", "scheduled_at", "last_error",
		}))

	item, err := f.ClaimNext(context.Background())
	require.NoError(t, err)
	require.Nil(t, item)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkResultUpdatesProcessingItem(t *testing.T) {
	t.Parallel()

	f, mock, _ := newTestFrontier(t)

	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs("item-1", "failed", crawl.ReasonFetchError, true, 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := f.MarkResult(context.Background(), "item-1", crawl.StatusFailed, crawl.ReasonFetchError, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkResultRejectsUnclaimedItem(t *testing.T) {
	t.Parallel()

	f, mock, _ := newTestFrontier(t)

	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs("missing", "success", "", false, 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := f.MarkResult(context.Background(), "missing", crawl.StatusSuccess, "", false)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsAggregatesCounters(t *testing.T) {
	t.Parallel()

	f, mock, _ := newTestFrontier(t)

	rows := pgxmock.NewRows([]string{"status", "count"}).
		AddRow("queued", 4).
		AddRow("processing", 1).
		AddRow("success", 10).
		AddRow("duplicate", 2).
		AddRow("failed", 3)
	mock.ExpectQuery("SELECT status, COUNT").WillReturnRows(rows)

	stats, err := f.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawl.QueueStats{
		Queued:     4,
		Processing: 1,
		Success:    10,
		Duplicate:  2,
		Failed:     3,
		Total:      20,
	}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}
