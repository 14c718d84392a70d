// Package postgres provides PostgreSQL storage for devices, parameters,
// rules and alarms, for deployments that share one catalog between agents.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/logger"
)

// foreignKeyViolation is the SQLSTATE for a foreign key violation.
const foreignKeyViolation = "23503"

// Store is the PostgreSQL implementation of the alarm store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, creates the schema if needed and returns the store.
func New(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "alarm-agent"

	logger.Debug("Creating PostgreSQL connection pool",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"max_conns", poolConfig.MaxConns,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, &alerts.TransportError{Op: "connect", Err: err}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &alerts.TransportError{Op: "ping", Err: err}
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// NewFromPool wraps an existing pool. The schema is created if needed.
func NewFromPool(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS devices (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		inhibit BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS parameters (
		id UUID PRIMARY KEY,
		device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		current_value DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS rules (
		id UUID PRIMARY KEY,
		parameter_id UUID NOT NULL REFERENCES parameters(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		min_value DOUBLE PRECISION,
		max_value DOUBLE PRECISION,
		expression TEXT NOT NULL DEFAULT '',
		comparison_type TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		recommended_action TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'Medium',
		priority INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS alarms (
		id UUID PRIMARY KEY,
		rule_id UUID NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
		parameter_id UUID NOT NULL REFERENCES parameters(id) ON DELETE CASCADE,
		device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		current_value DOUBLE PRECISION NOT NULL,
		triggered_at TIMESTAMPTZ NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('ACTIVE', 'ACK', 'RTN', 'ACKRTN')),
		is_active BOOLEAN NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		recommended_action TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'Medium',
		priority INTEGER NOT NULL DEFAULT 0,
		acknowledged_at TIMESTAMPTZ,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		cleared_at TIMESTAMPTZ
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_alarms_one_active
		ON alarms(rule_id, parameter_id) WHERE state = 'ACTIVE';
	CREATE INDEX IF NOT EXISTS idx_alarms_triggered_at ON alarms(triggered_at DESC);
	CREATE INDEX IF NOT EXISTS idx_rules_parameter ON rules(parameter_id);
	CREATE INDEX IF NOT EXISTS idx_parameters_device ON parameters(device_id);

	CREATE TABLE IF NOT EXISTS parameter_samples (
		parameter_id UUID NOT NULL REFERENCES parameters(id) ON DELETE CASCADE,
		timestamp TIMESTAMPTZ NOT NULL,
		value DOUBLE PRECISION NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_parameter_samples ON parameter_samples(parameter_id, timestamp);

	CREATE TABLE IF NOT EXISTS agent_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pid INTEGER NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		last_cycle TIMESTAMPTZ,
		version TEXT NOT NULL,
		cycles BIGINT NOT NULL DEFAULT 0,
		error_count BIGINT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		avg_cycle_ms DOUBLE PRECISION NOT NULL DEFAULT 0
	);
	`)
	return err
}

// classify maps pgx errors onto the alerts error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("%s: %w: %v", op, alerts.ErrReferenceMissing, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return &alerts.TransportError{Op: op, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
