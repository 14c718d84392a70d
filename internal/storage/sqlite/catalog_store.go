package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/models"
)

// CatalogStore provides SQLite persistence for devices, parameters and rules.
type CatalogStore struct {
	db *DB
}

// NewCatalogStore creates a new CatalogStore.
func NewCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{db: db}
}

const ruleColumns = `id, parameter_id, name, min_value, max_value, expression, comparison_type,
	description, recommended_action, severity, priority`

// ListRules returns every rule.
func (s *CatalogStore) ListRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY priority DESC, name`)
	if err != nil {
		return nil, classify("list rules", err)
	}
	defer rows.Close()

	rules, err := scanRules(rows)
	if err != nil {
		return nil, classify("list rules", err)
	}
	return rules, nil
}

// ListParametersWithRulesAndDevice returns every parameter with its device
// and rules resolved.
func (s *CatalogStore) ListParametersWithRulesAndDevice(ctx context.Context) ([]models.Parameter, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT p.id, p.device_id, p.name, p.unit, p.current_value, p.updated_at,
		       d.name, d.description, d.device_type, d.inhibit
		FROM parameters p
		JOIN devices d ON d.id = p.device_id
		ORDER BY d.name, p.name
	`)
	if err != nil {
		return nil, classify("list parameters", err)
	}
	defer rows.Close()

	var params []models.Parameter
	index := make(map[uuid.UUID]int)

	for rows.Next() {
		var p models.Parameter
		var d models.Device
		var updatedAt sql.NullString
		var inhibit int

		if err := rows.Scan(&p.ID, &p.DeviceID, &p.Name, &p.Unit, &p.CurrentValue, &updatedAt,
			&d.Name, &d.Description, &d.DeviceType, &inhibit); err != nil {
			return nil, classify("list parameters", err)
		}

		if updatedAt.Valid {
			if p.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
				return nil, err
			}
		}
		d.ID = p.DeviceID
		d.Inhibit = inhibit != 0
		p.Device = &d

		index[p.ID] = len(params)
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list parameters", err)
	}

	rules, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if i, ok := index[r.ParameterID]; ok {
			params[i].Rules = append(params[i].Rules, r)
		}
	}

	return params, nil
}

// GetParameter returns one parameter without its rules.
func (s *CatalogStore) GetParameter(ctx context.Context, id uuid.UUID) (*models.Parameter, error) {
	var p models.Parameter
	var updatedAt sql.NullString

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, device_id, name, unit, current_value, updated_at
		FROM parameters WHERE id = ?
	`, id).Scan(&p.ID, &p.DeviceID, &p.Name, &p.Unit, &p.CurrentValue, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, alerts.ErrParameterNotFound
	}
	if err != nil {
		return nil, classify("get parameter", err)
	}
	if updatedAt.Valid {
		if p.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// UpsertDevice inserts or updates a device.
func (s *CatalogStore) UpsertDevice(ctx context.Context, d *models.Device) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO devices (id, name, description, device_type, inhibit)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			device_type = excluded.device_type,
			inhibit = excluded.inhibit
	`, d.ID, d.Name, d.Description, d.DeviceType, boolToInt(d.Inhibit))
	return classify("upsert device", err)
}

// SetDeviceInhibit sets or clears a device's inhibit flag.
func (s *CatalogStore) SetDeviceInhibit(ctx context.Context, id uuid.UUID, inhibit bool) error {
	res, err := s.db.conn.ExecContext(ctx, `UPDATE devices SET inhibit = ? WHERE id = ?`, boolToInt(inhibit), id)
	if err != nil {
		return classify("set device inhibit", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return alerts.ErrDeviceNotFound
	}
	return nil
}

// DeleteDevice removes a device and, by cascade, its parameters, rules and alarms.
func (s *CatalogStore) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	return classify("delete device", err)
}

// UpsertParameter inserts or updates a parameter's definition. The current
// value is left untouched on update.
func (s *CatalogStore) UpsertParameter(ctx context.Context, p *models.Parameter) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO parameters (id, device_id, name, unit, current_value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id = excluded.device_id,
			name = excluded.name,
			unit = excluded.unit
	`, p.ID, p.DeviceID, p.Name, p.Unit, p.CurrentValue)
	return classify("upsert parameter", err)
}

// UpdateParameterValue records a new value for a parameter of a device.
func (s *CatalogStore) UpdateParameterValue(ctx context.Context, deviceID, parameterID uuid.UUID, value float64, at time.Time) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE parameters SET current_value = ?, updated_at = ?
		WHERE id = ? AND device_id = ?
	`, value, formatTime(at), parameterID, deviceID)
	if err != nil {
		return classify("update parameter value", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return alerts.ErrParameterNotFound
	}
	return nil
}

// UpsertRule inserts or updates a rule.
func (s *CatalogStore) UpsertRule(ctx context.Context, r *models.Rule) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parameter_id = excluded.parameter_id,
			name = excluded.name,
			min_value = excluded.min_value,
			max_value = excluded.max_value,
			expression = excluded.expression,
			comparison_type = excluded.comparison_type,
			description = excluded.description,
			recommended_action = excluded.recommended_action,
			severity = excluded.severity,
			priority = excluded.priority
	`, r.ID, r.ParameterID, r.Name, nullFloat(r.Min), nullFloat(r.Max), r.Expression, r.ComparisonType,
		r.Description, r.RecommendedAction, string(r.Severity), r.Priority)
	return classify("upsert rule", err)
}

// DeleteRule removes a rule and, by cascade, its alarms.
func (s *CatalogStore) DeleteRule(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	return classify("delete rule", err)
}

// MissingReferences reports which of the given references do not exist.
func (s *CatalogStore) MissingReferences(ctx context.Context, deviceID, parameterID, ruleID uuid.UUID) (bool, bool, bool, error) {
	var device, parameter, rule int
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM devices WHERE id = ?),
			(SELECT COUNT(*) FROM parameters WHERE id = ?),
			(SELECT COUNT(*) FROM rules WHERE id = ?)
	`, deviceID, parameterID, ruleID).Scan(&device, &parameter, &rule)
	if err != nil {
		return false, false, false, classify("probe references", err)
	}
	return device == 0, parameter == 0, rule == 0, nil
}

func scanRules(rows *sql.Rows) ([]models.Rule, error) {
	var rules []models.Rule

	for rows.Next() {
		var r models.Rule
		var minValue, maxValue sql.NullFloat64
		var severity string

		if err := rows.Scan(&r.ID, &r.ParameterID, &r.Name, &minValue, &maxValue, &r.Expression,
			&r.ComparisonType, &r.Description, &r.RecommendedAction, &severity, &r.Priority); err != nil {
			return nil, err
		}

		if minValue.Valid {
			v := minValue.Float64
			r.Min = &v
		}
		if maxValue.Valid {
			v := maxValue.Float64
			r.Max = &v
		}
		r.Severity = models.ParseSeverity(severity)

		rules = append(rules, r)
	}

	return rules, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
