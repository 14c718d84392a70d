package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/models"
)

const ruleColumns = `id, parameter_id, name, min_value, max_value, expression, comparison_type,
	description, recommended_action, severity, priority`

// ListRules returns every rule.
func (s *Store) ListRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY priority DESC, name`)
	if err != nil {
		return nil, classify("list rules", err)
	}

	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, classify("list rules", err)
	}
	return rules, nil
}

func scanRule(row pgx.CollectableRow) (models.Rule, error) {
	var r models.Rule
	var severity string
	err := row.Scan(&r.ID, &r.ParameterID, &r.Name, &r.Min, &r.Max, &r.Expression, &r.ComparisonType,
		&r.Description, &r.RecommendedAction, &severity, &r.Priority)
	r.Severity = models.ParseSeverity(severity)
	return r, err
}

// ListParametersWithRulesAndDevice returns every parameter with its device
// and rules resolved.
func (s *Store) ListParametersWithRulesAndDevice(ctx context.Context) ([]models.Parameter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.device_id, p.name, p.unit, p.current_value, p.updated_at,
		       d.name, d.description, d.device_type, d.inhibit
		FROM parameters p
		JOIN devices d ON d.id = p.device_id
		ORDER BY d.name, p.name
	`)
	if err != nil {
		return nil, classify("list parameters", err)
	}

	params, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Parameter, error) {
		var p models.Parameter
		var d models.Device
		var updatedAt *time.Time
		err := row.Scan(&p.ID, &p.DeviceID, &p.Name, &p.Unit, &p.CurrentValue, &updatedAt,
			&d.Name, &d.Description, &d.DeviceType, &d.Inhibit)
		if updatedAt != nil {
			p.UpdatedAt = *updatedAt
		}
		d.ID = p.DeviceID
		p.Device = &d
		return p, err
	})
	if err != nil {
		return nil, classify("list parameters", err)
	}

	rules, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[uuid.UUID]int, len(params))
	for i, p := range params {
		index[p.ID] = i
	}
	for _, r := range rules {
		if i, ok := index[r.ParameterID]; ok {
			params[i].Rules = append(params[i].Rules, r)
		}
	}

	return params, nil
}

// GetParameter returns one parameter without its rules.
func (s *Store) GetParameter(ctx context.Context, id uuid.UUID) (*models.Parameter, error) {
	var p models.Parameter
	var updatedAt *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT id, device_id, name, unit, current_value, updated_at
		FROM parameters WHERE id = $1
	`, id).Scan(&p.ID, &p.DeviceID, &p.Name, &p.Unit, &p.CurrentValue, &updatedAt)
	if isNoRows(err) {
		return nil, alerts.ErrParameterNotFound
	}
	if err != nil {
		return nil, classify("get parameter", err)
	}
	if updatedAt != nil {
		p.UpdatedAt = *updatedAt
	}
	return &p, nil
}

// UpsertDevice inserts or updates a device.
func (s *Store) UpsertDevice(ctx context.Context, d *models.Device) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO devices (id, name, description, device_type, inhibit)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			device_type = EXCLUDED.device_type,
			inhibit = EXCLUDED.inhibit
	`, d.ID, d.Name, d.Description, d.DeviceType, d.Inhibit)
	return classify("upsert device", err)
}

// SetDeviceInhibit turns alarm generation for a device off or on.
func (s *Store) SetDeviceInhibit(ctx context.Context, id uuid.UUID, inhibit bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE devices SET inhibit = $1 WHERE id = $2`, inhibit, id)
	if err != nil {
		return classify("set device inhibit", err)
	}
	if tag.RowsAffected() == 0 {
		return alerts.ErrDeviceNotFound
	}
	return nil
}

// DeleteDevice removes a device and, by cascade, everything under it.
func (s *Store) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	return classify("delete device", err)
}

// UpsertParameter inserts a parameter, or updates its descriptive fields.
// The current value of an existing parameter is left alone.
func (s *Store) UpsertParameter(ctx context.Context, p *models.Parameter) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parameters (id, device_id, name, unit, current_value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			name = EXCLUDED.name,
			unit = EXCLUDED.unit
	`, p.ID, p.DeviceID, p.Name, p.Unit, p.CurrentValue)
	return classify("upsert parameter", err)
}

// UpdateParameterValue records a new value for a parameter of a device.
func (s *Store) UpdateParameterValue(ctx context.Context, deviceID, parameterID uuid.UUID, value float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE parameters SET current_value = $1, updated_at = $2
		WHERE id = $3 AND device_id = $4
	`, value, at.UTC(), parameterID, deviceID)
	if err != nil {
		return classify("update parameter value", err)
	}
	if tag.RowsAffected() == 0 {
		return alerts.ErrParameterNotFound
	}
	return nil
}

// UpsertRule inserts or updates a rule.
func (s *Store) UpsertRule(ctx context.Context, r *models.Rule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			parameter_id = EXCLUDED.parameter_id,
			name = EXCLUDED.name,
			min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			expression = EXCLUDED.expression,
			comparison_type = EXCLUDED.comparison_type,
			description = EXCLUDED.description,
			recommended_action = EXCLUDED.recommended_action,
			severity = EXCLUDED.severity,
			priority = EXCLUDED.priority
	`, r.ID, r.ParameterID, r.Name, r.Min, r.Max, r.Expression, r.ComparisonType,
		r.Description, r.RecommendedAction, string(r.Severity), r.Priority)
	return classify("upsert rule", err)
}

// DeleteRule removes a rule and, by cascade, its alarms.
func (s *Store) DeleteRule(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	return classify("delete rule", err)
}

// MissingReferences reports which of the given references do not exist.
func (s *Store) MissingReferences(ctx context.Context, deviceID, parameterID, ruleID uuid.UUID) (bool, bool, bool, error) {
	var device, parameter, rule bool
	err := s.pool.QueryRow(ctx, `
		SELECT
			NOT EXISTS (SELECT 1 FROM devices WHERE id = $1),
			NOT EXISTS (SELECT 1 FROM parameters WHERE id = $2),
			NOT EXISTS (SELECT 1 FROM rules WHERE id = $3)
	`, deviceID, parameterID, ruleID).Scan(&device, &parameter, &rule)
	if err != nil {
		return false, false, false, classify("probe references", err)
	}
	return device, parameter, rule, nil
}
