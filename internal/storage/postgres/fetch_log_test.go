package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscout/internal/crawler"
)

func TestRecordFetchInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFetchLogWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := crawler.FetchRecord{
		ID:          "uuid-1",
		URL:         "https://example.com/",
		Domain:      "example.com",
		StatusCode:  200,
		Outcome:     "indexed",
		ContentHash: "abc123",
		Bytes:       512,
		Elapsed:     1500 * time.Millisecond,
		FetchedAt:   now,
	}

	mock.ExpectExec("INSERT INTO fetch_log").
		WithArgs(
			rec.ID,
			rec.URL,
			rec.Domain,
			rec.StatusCode,
			rec.Outcome,
			rec.ErrorText,
			rec.ContentHash,
			rec.Bytes,
			int64(1500),
			rec.FetchedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordFetch(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFetchErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFetchLogWithPool(mock, "crawl_history")
	require.NoError(t, err)

	require.Error(t, store.RecordFetch(context.Background(), crawler.FetchRecord{}))

	mock.ExpectExec("INSERT INTO crawl_history").
		WillReturnError(errors.New("connection refused"))
	err = store.RecordFetch(context.Background(), crawler.FetchRecord{ID: "x"})
	require.ErrorContains(t, err, "insert fetch")
	require.NoError(t, mock.ExpectationsWereMet())

	var nilLog *FetchLog
	require.Error(t, nilLog.RecordFetch(context.Background(), crawler.FetchRecord{ID: "x"}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFetchLogWithPool(mock, "fetch_log")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS fetch_log").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewFetchLogValidation(t *testing.T) {
	t.Parallel()

	_, err := NewFetchLogWithPool(nil, "fetch_log")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewFetchLogWithPool(mock, "fetch_log; DROP TABLE x")
	require.Error(t, err)

	_, err = NewFetchLog(context.Background(), FetchLogConfig{})
	require.Error(t, err)
}
