package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return NewFromSQL(sqlDB), mock
}

func sampleRecords(n int) []types.CallRecord {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := make([]types.CallRecord, n)
	for i := range records {
		records[i] = types.CallRecord{
			ID:             fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i),
			Dependency:     types.DependencyTwitterPublish,
			RequestID:      fmt.Sprintf("req-%d", i),
			Success:        i%2 == 0,
			ResponseTimeMs: int64(100 + i),
			RetryCount:     i,
			ErrorCode:      "",
			RecordedAt:     at,
		}
	}
	return records
}

func recordArgs(rec types.CallRecord) []driver.Value {
	return []driver.Value{
		rec.ID, string(rec.Dependency), rec.RequestID, rec.Success, rec.ResponseTimeMs,
		rec.RetryCount, rec.FromCache, rec.ErrorCode, rec.RecordedAt,
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	db, err := New(nil)
	assert.Nil(t, db)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
}

func TestDB_Health(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectPing()
	assert.NoError(t, db.Health(context.Background()))

	mock.ExpectPing().WillReturnError(fmt.Errorf("connection reset"))
	err := db.Health(context.Background())
	assert.Equal(t, errors.CodeInternal, errors.GetCode(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertStatement(t *testing.T) {
	query, args := insertStatement("t", []string{"a", "b"}, [][]interface{}{{1, 2}, {3, 4}})

	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2), ($3, $4)", query)
	assert.Equal(t, []interface{}{1, 2, 3, 4}, args)
}

func TestCallMetricsRepository_SaveBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCallMetricsRepository(db)
	records := sampleRecords(2)

	args := append(recordArgs(records[0]), recordArgs(records[1])...)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO call_metrics (id, dependency, request_id, success, response_time_ms, retry_count, from_cache, error_code, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9), ($10,")).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveBatch(context.Background(), records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallMetricsRepository_SaveBatchChunks(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCallMetricsRepository(db)
	repo.batchSize = 2

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO call_metrics").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO call_metrics").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveBatch(context.Background(), sampleRecords(3)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallMetricsRepository_SaveBatchRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCallMetricsRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO call_metrics").WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := repo.SaveBatch(context.Background(), sampleRecords(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch insert failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallMetricsRepository_SaveBatchEmpty(t *testing.T) {
	db, mock := newMockDB(t)

	require.NoError(t, NewCallMetricsRepository(db).SaveBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallMetricsRepository_Summarize(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCallMetricsRepository(db)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"dependency", "total_calls", "successes", "cache_hits", "avg_response_ms", "avg_retries"}).
		AddRow("content-generation", int64(4), int64(3), int64(1), 120.5, 0.5).
		AddRow("twitter-publish", int64(2), int64(0), int64(0), 80.0, 2.0)
	mock.ExpectQuery("SELECT dependency").WithArgs(since).WillReturnRows(rows)

	summaries, err := repo.Summarize(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "content-generation", summaries[0].Dependency)
	assert.Equal(t, int64(4), summaries[0].TotalCalls)
	assert.InDelta(t, 0.75, summaries[0].SuccessRate, 1e-9)
	assert.InDelta(t, 0.25, summaries[0].CacheHitRate, 1e-9)
	assert.InDelta(t, 120.5, summaries[0].AvgResponseMs, 1e-9)
	assert.Zero(t, summaries[1].SuccessRate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallMetricsRepository_Prune(t *testing.T) {
	db, mock := newMockDB(t)
	before := time.Now()

	mock.ExpectExec("DELETE FROM call_metrics").WithArgs(before).WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := NewCallMetricsRepository(db).Prune(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_Embedded(t *testing.T) {
	src, err := Migrations()
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	up, _, err := src.ReadUp(first)
	require.NoError(t, err)
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	_ = up.Close()
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS call_metrics")

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	_ = down.Close()

	_, err = src.Next(first)
	assert.Error(t, err)
}
