package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/metrics"
)

// SampleStore handles persistence of parameter values received from the feed.
type SampleStore struct {
	db *DB
}

// NewSampleStore creates a new SampleStore with the given database connection.
func NewSampleStore(db *DB) *SampleStore {
	return &SampleStore{db: db}
}

// SaveSample persists a single value for a parameter.
func (s *SampleStore) SaveSample(ctx context.Context, parameterID uuid.UUID, dp metrics.DataPoint) error {
	if !dp.IsValid() {
		return fmt.Errorf("invalid data point for parameter %s", parameterID)
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO parameter_samples (parameter_id, timestamp, value) VALUES (?, ?, ?)`,
		parameterID, formatTime(dp.Timestamp), dp.Value)
	return classify("save sample", err)
}

// SampleHistory retrieves values for a parameter since the given time,
// oldest first. Limited to prevent unbounded result sets.
func (s *SampleStore) SampleHistory(ctx context.Context, parameterID uuid.UUID, since time.Time, limit int) ([]metrics.DataPoint, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT timestamp, value
		FROM parameter_samples
		WHERE parameter_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT ?
	`, parameterID, formatTime(since), limit)
	if err != nil {
		return nil, classify("query sample history", err)
	}
	defer rows.Close()

	return scanDataPoints(rows)
}

// PruneSamples removes samples older than cutoff.
// Returns number of deleted samples.
func (s *SampleStore) PruneSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM parameter_samples WHERE timestamp < ?`, formatTime(cutoff))
	if err != nil {
		return 0, classify("prune samples", err)
	}
	return result.RowsAffected()
}

func scanDataPoints(rows *sql.Rows) ([]metrics.DataPoint, error) {
	var points []metrics.DataPoint

	for rows.Next() {
		var ts string
		var dp metrics.DataPoint
		if err := rows.Scan(&ts, &dp.Value); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		dp.Timestamp = t
		points = append(points, dp)
	}

	return points, rows.Err()
}
