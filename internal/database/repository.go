package database

import (
	"context"
	"time"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

const callMetricsTable = "call_metrics"

var callMetricsColumns = []string{
	"id", "dependency", "request_id", "success", "response_time_ms",
	"retry_count", "from_cache", "error_code", "recorded_at",
}

// CallMetricsRepository persists call records of the metrics sink
type CallMetricsRepository struct {
	db        *DB
	batchSize int
}

// NewCallMetricsRepository creates a new call metrics repository
func NewCallMetricsRepository(db *DB) *CallMetricsRepository {
	return &CallMetricsRepository{db: db, batchSize: 500}
}

// SaveBatch inserts records in one transaction
func (r *CallMetricsRepository) SaveBatch(ctx context.Context, records []types.CallRecord) error {
	if len(records) == 0 {
		return nil
	}

	values := make([][]interface{}, len(records))
	for i, rec := range records {
		values[i] = []interface{}{
			rec.ID,
			string(rec.Dependency),
			rec.RequestID,
			rec.Success,
			rec.ResponseTimeMs,
			rec.RetryCount,
			rec.FromCache,
			rec.ErrorCode,
			rec.RecordedAt,
		}
	}

	return r.db.BatchInsert(ctx, callMetricsTable, callMetricsColumns, values, r.batchSize)
}

// Summarize aggregates the calls recorded since since, per dependency
func (r *CallMetricsRepository) Summarize(ctx context.Context, since time.Time) ([]types.MetricsSummary, error) {
	query := `
		SELECT dependency,
		       COUNT(*) AS total_calls,
		       COUNT(*) FILTER (WHERE success) AS successes,
		       COUNT(*) FILTER (WHERE from_cache) AS cache_hits,
		       COALESCE(AVG(response_time_ms), 0) AS avg_response_ms,
		       COALESCE(AVG(retry_count), 0) AS avg_retries
		FROM call_metrics
		WHERE recorded_at >= $1
		GROUP BY dependency
		ORDER BY dependency`

	var summaries []types.MetricsSummary
	if err := r.db.SelectContext(ctx, &summaries, query, since); err != nil {
		return nil, errors.NewInternalError("failed to summarize call metrics").WithCause(err)
	}

	for i := range summaries {
		summaries[i].Finalize()
	}
	return summaries, nil
}

// Prune deletes records older than before and returns how many were removed
func (r *CallMetricsRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM call_metrics WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, errors.NewInternalError("failed to prune call metrics").WithCause(err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to get rows affected").WithCause(err)
	}
	return removed, nil
}
