// Package storage selects the alarm store backend from configuration.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/config"
	"github.com/willibrandon/devicealarm/internal/metrics"
	"github.com/willibrandon/devicealarm/internal/models"
	"github.com/willibrandon/devicealarm/internal/storage/postgres"
	"github.com/willibrandon/devicealarm/internal/storage/sqlite"
)

// Catalog reads and writes devices, parameters and rules.
type Catalog interface {
	alerts.RuleSource
	ListParametersWithRulesAndDevice(ctx context.Context) ([]models.Parameter, error)
	GetParameter(ctx context.Context, id uuid.UUID) (*models.Parameter, error)
	UpsertDevice(ctx context.Context, d *models.Device) error
	UpsertParameter(ctx context.Context, p *models.Parameter) error
	UpsertRule(ctx context.Context, r *models.Rule) error
	SetDeviceInhibit(ctx context.Context, id uuid.UUID, inhibit bool) error
	UpdateParameterValue(ctx context.Context, deviceID, parameterID uuid.UUID, value float64, at time.Time) error
	DeleteDevice(ctx context.Context, id uuid.UUID) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
}

// Alarms reads and writes alarms.
type Alarms interface {
	alerts.AlarmWriter
	alerts.ReferenceProber
	FindActiveAlarm(ctx context.Context, ruleID, parameterID uuid.UUID) (*models.Alarm, error)
	GetAlarm(ctx context.Context, id uuid.UUID) (*models.Alarm, error)
	AcknowledgeAlarm(ctx context.Context, id uuid.UUID, by string, at time.Time) (*models.Alarm, error)
	ListAlarms(ctx context.Context, filter models.AlarmFilter) ([]models.Alarm, error)
	PruneAlarms(ctx context.Context, cutoff time.Time) (int64, error)
}

// Samples keeps the history of values received from the feed.
type Samples interface {
	SaveSample(ctx context.Context, parameterID uuid.UUID, dp metrics.DataPoint) error
	SampleHistory(ctx context.Context, parameterID uuid.UUID, since time.Time, limit int) ([]metrics.DataPoint, error)
	PruneSamples(ctx context.Context, cutoff time.Time) (int64, error)
}

// Status persists the running agent's status row.
type Status interface {
	SaveStatus(ctx context.Context, status *models.AgentStatus) error
	GetStatus(ctx context.Context) (*models.AgentStatus, error)
	DeleteStatus(ctx context.Context) error
}

// Store is everything the agent persists.
type Store interface {
	Catalog
	Alarms
	Samples
	Status
	Close() error
}

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open opens the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		s, err := sqlite.NewStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN, cfg.PoolMaxConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
