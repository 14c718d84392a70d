package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig selects and configures the alarm store.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `mapstructure:"dsn"`

	// PoolMaxConns caps the PostgreSQL pool.
	PoolMaxConns int `mapstructure:"pool_max_conns"`
}

// DefaultDBPath returns ~/.config/devicealarm/devicealarm.db.
func DefaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return filepath.Join(homeDir, ".config", "devicealarm", "devicealarm.db")
}

// ValidateStorageConfig validates the storage section.
func ValidateStorageConfig(cfg *StorageConfig) error {
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if cfg.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
		if cfg.PoolMaxConns < 1 {
			return fmt.Errorf("storage.pool_max_conns must be >= 1, got %d", cfg.PoolMaxConns)
		}
	default:
		return fmt.Errorf("storage.driver must be one of: [%s %s], got %s", DriverSQLite, DriverPostgres, cfg.Driver)
	}
	return nil
}
