package sqlite

import (
	"context"
	"database/sql"

	"github.com/willibrandon/devicealarm/internal/models"
)

// StatusStore manages the singleton agent status row (id=1 always).
type StatusStore struct {
	db *DB
}

// NewStatusStore creates a new agent status store.
func NewStatusStore(db *DB) *StatusStore {
	return &StatusStore{db: db}
}

// SaveStatus inserts or updates the agent status.
func (s *StatusStore) SaveStatus(ctx context.Context, status *models.AgentStatus) error {
	var lastCycle any
	if !status.LastCycle.IsZero() {
		lastCycle = formatTime(status.LastCycle)
	}

	_, err := s.db.conn.ExecContext(ctx, `
	INSERT INTO agent_status (id, pid, start_time, last_cycle, version, cycles, error_count, last_error, avg_cycle_ms)
	VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		pid = excluded.pid,
		start_time = excluded.start_time,
		last_cycle = excluded.last_cycle,
		version = excluded.version,
		cycles = excluded.cycles,
		error_count = excluded.error_count,
		last_error = excluded.last_error,
		avg_cycle_ms = excluded.avg_cycle_ms`,
		status.PID,
		formatTime(status.StartTime),
		lastCycle,
		status.Version,
		status.Cycles,
		status.ErrorCount,
		status.LastError,
		status.AvgCycleMillis,
	)
	return classify("save agent status", err)
}

// GetStatus retrieves the agent status. Returns nil, nil when no agent has
// recorded a status.
func (s *StatusStore) GetStatus(ctx context.Context) (*models.AgentStatus, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT pid, start_time, last_cycle, version, cycles, error_count,
		       COALESCE(last_error, ''), avg_cycle_ms
		FROM agent_status WHERE id = 1`)

	var status models.AgentStatus
	var startTime string
	var lastCycle sql.NullString

	err := row.Scan(
		&status.PID,
		&startTime,
		&lastCycle,
		&status.Version,
		&status.Cycles,
		&status.ErrorCount,
		&status.LastError,
		&status.AvgCycleMillis,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get agent status", err)
	}

	if status.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}
	if lastCycle.Valid {
		if status.LastCycle, err = parseTime(lastCycle.String); err != nil {
			return nil, err
		}
	}
	return &status, nil
}

// DeleteStatus removes the agent status row (called on clean shutdown).
func (s *StatusStore) DeleteStatus(ctx context.Context) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM agent_status WHERE id = 1`)
	return classify("delete agent status", err)
}
