package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/willibrandon/devicealarm/internal/metrics"
	"github.com/willibrandon/devicealarm/internal/models"
)

// SaveSample persists a single value for a parameter.
func (s *Store) SaveSample(ctx context.Context, parameterID uuid.UUID, dp metrics.DataPoint) error {
	if !dp.IsValid() {
		return fmt.Errorf("invalid data point for parameter %s", parameterID)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO parameter_samples (parameter_id, timestamp, value) VALUES ($1, $2, $3)`,
		parameterID, dp.Timestamp.UTC(), dp.Value)
	return classify("save sample", err)
}

// SampleHistory retrieves values for a parameter since the given time,
// oldest first.
func (s *Store) SampleHistory(ctx context.Context, parameterID uuid.UUID, since time.Time, limit int) ([]metrics.DataPoint, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := s.pool.Query(ctx, `
		SELECT timestamp, value
		FROM parameter_samples
		WHERE parameter_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC
		LIMIT $3
	`, parameterID, since.UTC(), limit)
	if err != nil {
		return nil, classify("query sample history", err)
	}

	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (metrics.DataPoint, error) {
		var dp metrics.DataPoint
		err := row.Scan(&dp.Timestamp, &dp.Value)
		return dp, err
	})
	if err != nil {
		return nil, classify("query sample history", err)
	}
	return points, nil
}

// PruneSamples removes samples older than cutoff.
func (s *Store) PruneSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM parameter_samples WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, classify("prune samples", err)
	}
	return tag.RowsAffected(), nil
}

// SaveStatus inserts or updates the agent status.
func (s *Store) SaveStatus(ctx context.Context, status *models.AgentStatus) error {
	var lastCycle *time.Time
	if !status.LastCycle.IsZero() {
		t := status.LastCycle.UTC()
		lastCycle = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_status (id, pid, start_time, last_cycle, version, cycles, error_count, last_error, avg_cycle_ms)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			pid = EXCLUDED.pid,
			start_time = EXCLUDED.start_time,
			last_cycle = EXCLUDED.last_cycle,
			version = EXCLUDED.version,
			cycles = EXCLUDED.cycles,
			error_count = EXCLUDED.error_count,
			last_error = EXCLUDED.last_error,
			avg_cycle_ms = EXCLUDED.avg_cycle_ms
	`, status.PID, status.StartTime.UTC(), lastCycle, status.Version, status.Cycles,
		status.ErrorCount, status.LastError, status.AvgCycleMillis)
	return classify("save agent status", err)
}

// GetStatus retrieves the agent status. Returns nil, nil when no agent has
// recorded a status.
func (s *Store) GetStatus(ctx context.Context) (*models.AgentStatus, error) {
	var status models.AgentStatus
	var lastCycle *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT pid, start_time, last_cycle, version, cycles, error_count, last_error, avg_cycle_ms
		FROM agent_status WHERE id = 1
	`).Scan(&status.PID, &status.StartTime, &lastCycle, &status.Version, &status.Cycles,
		&status.ErrorCount, &status.LastError, &status.AvgCycleMillis)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get agent status", err)
	}
	if lastCycle != nil {
		status.LastCycle = *lastCycle
	}
	return &status, nil
}

// DeleteStatus removes the agent status row.
func (s *Store) DeleteStatus(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agent_status WHERE id = 1`)
	return classify("delete agent status", err)
}
