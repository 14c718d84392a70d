package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/models"
)

const alarmColumns = `id, rule_id, parameter_id, device_id, current_value, triggered_at, state, is_active,
	message, description, recommended_action, severity, priority, acknowledged_at, acknowledged_by, cleared_at`

func scanAlarm(row pgx.CollectableRow) (models.Alarm, error) {
	var a models.Alarm
	var state, severity string
	err := row.Scan(
		&a.ID, &a.RuleID, &a.ParameterID, &a.DeviceID, &a.CurrentValue, &a.TriggeredAt,
		&state, &a.IsActive, &a.Message, &a.Description, &a.RecommendedAction,
		&severity, &a.Priority, &a.AcknowledgedAt, &a.AcknowledgedBy, &a.ClearedAt,
	)
	if err != nil {
		return a, err
	}
	a.TriggeredAt = a.TriggeredAt.UTC()
	a.Severity = models.ParseSeverity(severity)
	a.State, err = models.ParseAlarmState(state)
	return a, err
}

// FindActiveAlarm returns the ACTIVE alarm for a rule and parameter, or nil.
func (s *Store) FindActiveAlarm(ctx context.Context, ruleID, parameterID uuid.UUID) (*models.Alarm, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alarmColumns+`
		FROM alarms
		WHERE rule_id = $1 AND parameter_id = $2 AND state = 'ACTIVE'
		LIMIT 1
	`, ruleID, parameterID)
	if err != nil {
		return nil, classify("find active alarm", err)
	}

	alarm, err := pgx.CollectExactlyOneRow(rows, scanAlarm)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find active alarm", err)
	}
	return &alarm, nil
}

// InsertAlarm persists a new alarm.
func (s *Store) InsertAlarm(ctx context.Context, a *models.Alarm) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alarms (`+alarmColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, a.ID, a.RuleID, a.ParameterID, a.DeviceID, a.CurrentValue, a.TriggeredAt,
		a.State.String(), a.IsActive, a.Message, a.Description, a.RecommendedAction,
		string(a.Severity), a.Priority, a.AcknowledgedAt, a.AcknowledgedBy, a.ClearedAt)
	return classify("insert alarm", err)
}

// UpdateAlarmState sets an alarm's state. Moving to RTN records the
// clearing time.
func (s *Store) UpdateAlarmState(ctx context.Context, id uuid.UUID, state models.AlarmState, isActive bool) error {
	var clearedAt *time.Time
	if state == models.AlarmStateRTN {
		now := time.Now().UTC()
		clearedAt = &now
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE alarms
		SET state = $1, is_active = $2, cleared_at = COALESCE($3, cleared_at)
		WHERE id = $4
	`, state.String(), isActive, clearedAt, id)
	if err != nil {
		return classify("update alarm state", err)
	}
	if tag.RowsAffected() == 0 {
		return alerts.ErrAlarmNotFound
	}
	return nil
}

// GetAlarm returns one alarm by id.
func (s *Store) GetAlarm(ctx context.Context, id uuid.UUID) (*models.Alarm, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+alarmColumns+` FROM alarms WHERE id = $1`, id)
	if err != nil {
		return nil, classify("get alarm", err)
	}

	alarm, err := pgx.CollectExactlyOneRow(rows, scanAlarm)
	if isNoRows(err) {
		return nil, alerts.ErrAlarmNotFound
	}
	if err != nil {
		return nil, classify("get alarm", err)
	}
	return &alarm, nil
}

// AcknowledgeAlarm moves ACTIVE to ACK or RTN to ACKRTN and returns the
// updated alarm.
func (s *Store) AcknowledgeAlarm(ctx context.Context, id uuid.UUID, by string, at time.Time) (*models.Alarm, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify("begin acknowledge", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT state FROM alarms WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if isNoRows(err) {
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

	if _, err := tx.Exec(ctx, `
		UPDATE alarms SET state = $1, is_active = FALSE, acknowledged_at = $2, acknowledged_by = $3
		WHERE id = $4
	`, next.String(), at.UTC(), by, id); err != nil {
		return nil, classify("acknowledge alarm", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify("commit acknowledge", err)
	}

	return s.GetAlarm(ctx, id)
}

// ListAlarms returns alarms newest first.
func (s *Store) ListAlarms(ctx context.Context, filter models.AlarmFilter) ([]models.Alarm, error) {
	var where []string
	var args []any

	if filter.ActiveOnly {
		where = append(where, "state IN ('ACTIVE', 'ACK')")
	}
	if filter.DeviceID != uuid.Nil {
		args = append(args, filter.DeviceID)
		where = append(where, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if filter.ParameterID != uuid.Nil {
		args = append(args, filter.ParameterID)
		where = append(where, fmt.Sprintf("parameter_id = $%d", len(args)))
	}

	query := `SELECT ` + alarmColumns + ` FROM alarms`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY triggered_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list alarms", err)
	}

	alarms, err := pgx.CollectRows(rows, scanAlarm)
	if err != nil {
		return nil, classify("list alarms", err)
	}
	return alarms, nil
}

// PruneAlarms removes cleared alarms (RTN, ACKRTN) triggered before cutoff.
// Returns number of deleted alarms.
func (s *Store) PruneAlarms(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM alarms
		WHERE state IN ('RTN', 'ACKRTN') AND triggered_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, classify("prune alarms", err)
	}
	return tag.RowsAffected(), nil
}
