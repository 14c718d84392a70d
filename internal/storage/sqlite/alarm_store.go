package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/models"
)

// AlarmStore provides SQLite persistence for alarms.
type AlarmStore struct {
	db *DB
}

// NewAlarmStore creates a new AlarmStore.
func NewAlarmStore(db *DB) *AlarmStore {
	return &AlarmStore{db: db}
}

const alarmColumns = `id, rule_id, parameter_id, device_id, current_value, triggered_at, state, is_active,
	message, description, recommended_action, severity, priority, acknowledged_at, acknowledged_by, cleared_at`

// FindActiveAlarm returns the ACTIVE alarm for a rule and parameter, or nil.
func (s *AlarmStore) FindActiveAlarm(ctx context.Context, ruleID, parameterID uuid.UUID) (*models.Alarm, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT `+alarmColumns+`
		FROM alarms
		WHERE rule_id = ? AND parameter_id = ? AND state = 'ACTIVE'
		LIMIT 1
	`, ruleID, parameterID)
	if err != nil {
		return nil, classify("find active alarm", err)
	}
	defer rows.Close()

	alarms, err := scanAlarms(rows)
	if err != nil {
		return nil, classify("find active alarm", err)
	}
	if len(alarms) == 0 {
		return nil, nil
	}
	return &alarms[0], nil
}

// InsertAlarm persists a new alarm.
func (s *AlarmStore) InsertAlarm(ctx context.Context, a *models.Alarm) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO alarms (`+alarmColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.RuleID, a.ParameterID, a.DeviceID, a.CurrentValue, formatTime(a.TriggeredAt),
		a.State.String(), boolToInt(a.IsActive), a.Message, a.Description, a.RecommendedAction,
		string(a.Severity), a.Priority, formatTimePtr(a.AcknowledgedAt), a.AcknowledgedBy, formatTimePtr(a.ClearedAt))
	return classify("insert alarm", err)
}

// UpdateAlarmState sets an alarm's state. Moving to RTN records the
// clearing time.
func (s *AlarmStore) UpdateAlarmState(ctx context.Context, id uuid.UUID, state models.AlarmState, isActive bool) error {
	var clearedAt any
	if state == models.AlarmStateRTN {
		clearedAt = formatTime(time.Now())
	}

	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE alarms
		SET state = ?, is_active = ?, cleared_at = COALESCE(?, cleared_at)
		WHERE id = ?
	`, state.String(), boolToInt(isActive), clearedAt, id)
	if err != nil {
		return classify("update alarm state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return alerts.ErrAlarmNotFound
	}
	return nil
}

// GetAlarm returns one alarm by id.
func (s *AlarmStore) GetAlarm(ctx context.Context, id uuid.UUID) (*models.Alarm, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT `+alarmColumns+` FROM alarms WHERE id = ?`, id)
	if err != nil {
		return nil, classify("get alarm", err)
	}
	defer rows.Close()

	alarms, err := scanAlarms(rows)
	if err != nil {
		return nil, classify("get alarm", err)
	}
	if len(alarms) == 0 {
		return nil, alerts.ErrAlarmNotFound
	}
	return &alarms[0], nil
}

// AcknowledgeAlarm moves ACTIVE to ACK or RTN to ACKRTN and returns the
// updated alarm.
func (s *AlarmStore) AcknowledgeAlarm(ctx context.Context, id uuid.UUID, by string, at time.Time) (*models.Alarm, error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin acknowledge", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT state FROM alarms WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, alerts.ErrAlarmNotFound
	}
	if err != nil {
		return nil, classify("acknowledge alarm", err)
	}

	state, err := models.ParseAlarmState(current)
	if err != nil {
		return nil, err
	}
	next, err := alerts.AcknowledgedState(state)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE alarms SET state = ?, is_active = 0, acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ?
	`, next.String(), formatTime(at), by, id); err != nil {
		return nil, classify("acknowledge alarm", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit acknowledge", err)
	}

	return s.GetAlarm(ctx, id)
}

// ListAlarms returns alarms newest first.
func (s *AlarmStore) ListAlarms(ctx context.Context, filter models.AlarmFilter) ([]models.Alarm, error) {
	var where []string
	var args []any

	if filter.ActiveOnly {
		where = append(where, "state IN ('ACTIVE', 'ACK')")
	}
	if filter.DeviceID != uuid.Nil {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.ParameterID != uuid.Nil {
		where = append(where, "parameter_id = ?")
		args = append(args, filter.ParameterID)
	}

	query := `SELECT ` + alarmColumns + ` FROM alarms`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY triggered_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list alarms", err)
	}
	defer rows.Close()

	alarms, err := scanAlarms(rows)
	if err != nil {
		return nil, classify("list alarms", err)
	}
	return alarms, nil
}

// PruneAlarms removes cleared alarms (RTN, ACKRTN) triggered before cutoff.
// Returns number of deleted alarms.
func (s *AlarmStore) PruneAlarms(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.conn.ExecContext(ctx, `
		DELETE FROM alarms
		WHERE state IN ('RTN', 'ACKRTN') AND triggered_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, classify("prune alarms", err)
	}

	return result.RowsAffected()
}

// scanAlarms scans rows into a slice of Alarm.
func scanAlarms(rows *sql.Rows) ([]models.Alarm, error) {
	var alarms []models.Alarm

	for rows.Next() {
		var a models.Alarm
		var triggeredAt, state, severity string
		var isActive int
		var acknowledgedAt, acknowledgedBy, clearedAt sql.NullString

		err := rows.Scan(
			&a.ID, &a.RuleID, &a.ParameterID, &a.DeviceID, &a.CurrentValue, &triggeredAt,
			&state, &isActive, &a.Message, &a.Description, &a.RecommendedAction,
			&severity, &a.Priority, &acknowledgedAt, &acknowledgedBy, &clearedAt,
		)
		if err != nil {
			return nil, err
		}

		if a.TriggeredAt, err = parseTime(triggeredAt); err != nil {
			return nil, err
		}
		if a.State, err = models.ParseAlarmState(state); err != nil {
			return nil, err
		}
		a.IsActive = isActive != 0
		a.Severity = models.ParseSeverity(severity)

		if acknowledgedAt.Valid {
			t, err := parseTime(acknowledgedAt.String)
			if err != nil {
				return nil, err
			}
			a.AcknowledgedAt = &t
		}
		if acknowledgedBy.Valid {
			a.AcknowledgedBy = acknowledgedBy.String
		}
		if clearedAt.Valid {
			t, err := parseTime(clearedAt.String)
			if err != nil {
				return nil, err
			}
			a.ClearedAt = &t
		}

		alarms = append(alarms, a)
	}

	return alarms, rows.Err()
}
