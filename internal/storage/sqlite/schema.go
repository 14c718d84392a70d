package sqlite

// initSchema creates the database schema if it doesn't exist.
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		inhibit INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS parameters (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		current_value REAL NOT NULL DEFAULT 0,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		parameter_id TEXT NOT NULL REFERENCES parameters(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		min_value REAL,
		max_value REAL,
		expression TEXT NOT NULL DEFAULT '',
		comparison_type TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		recommended_action TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'Medium',
		priority INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS alarms (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
		parameter_id TEXT NOT NULL REFERENCES parameters(id) ON DELETE CASCADE,
		device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		current_value REAL NOT NULL,
		triggered_at TEXT NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('ACTIVE', 'ACK', 'RTN', 'ACKRTN')),
		is_active INTEGER NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		recommended_action TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'Medium',
		priority INTEGER NOT NULL DEFAULT 0,
		acknowledged_at TEXT,
		acknowledged_by TEXT,
		cleared_at TEXT
	);

	-- At most one ACTIVE alarm per rule and parameter
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alarms_one_active
		ON alarms(rule_id, parameter_id) WHERE state = 'ACTIVE';
	CREATE INDEX IF NOT EXISTS idx_alarms_triggered_at ON alarms(triggered_at DESC);
	CREATE INDEX IF NOT EXISTS idx_rules_parameter ON rules(parameter_id);
	CREATE INDEX IF NOT EXISTS idx_parameters_device ON parameters(device_id);

	-- Values received from the feed
	CREATE TABLE IF NOT EXISTS parameter_samples (
		parameter_id TEXT NOT NULL REFERENCES parameters(id) ON DELETE CASCADE,
		timestamp TEXT NOT NULL,
		value REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_parameter_samples ON parameter_samples(parameter_id, timestamp);

	CREATE TABLE IF NOT EXISTS agent_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pid INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		last_cycle TEXT,
		version TEXT NOT NULL,
		cycles INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		avg_cycle_ms REAL NOT NULL DEFAULT 0
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}
