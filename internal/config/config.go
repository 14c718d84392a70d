package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the root configuration structure
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Alarms     AlarmsConfig     `mapstructure:"alarms"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	LogFile    string           `mapstructure:"log_file"`
	LogLevel   string           `mapstructure:"log_level"`
	Debug      bool             `mapstructure:"debug"`
}

// EvaluationConfig controls the evaluation scheduler.
type EvaluationConfig struct {
	// Interval between evaluation cycles (default: 10s).
	Interval time.Duration `mapstructure:"interval"`

	// RefreshInterval recompiles rules periodically. Zero means rules are
	// only recompiled on demand (SIGHUP or the refresh command).
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LoadConfig loads configuration from config.yaml in
// $HOME/.config/devicealarm or the working directory, plus DEVICEALARM_*
// environment variables. A missing file yields the defaults.
func LoadConfig() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.config/devicealarm")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadConfigFromPath loads configuration from an explicit file.
func LoadConfigFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DEVICEALARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	applyDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateConfig validates the configuration values
func ValidateConfig(cfg *Config) error {
	if err := ValidateStorageConfig(&cfg.Storage); err != nil {
		return err
	}

	if err := validateInterval("evaluation.interval", cfg.Evaluation.Interval, time.Second, 10*time.Minute); err != nil {
		return err
	}
	if cfg.Evaluation.RefreshInterval != 0 {
		if err := validateInterval("evaluation.refresh_interval", cfg.Evaluation.RefreshInterval, time.Second, 24*time.Hour); err != nil {
			return err
		}
	}

	if err := ValidateFeedConfig(&cfg.Feed); err != nil {
		return err
	}

	if err := ValidateAlarmsConfig(&cfg.Alarms); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	validLevel := false
	for _, level := range validLevels {
		if strings.EqualFold(cfg.LogLevel, level) {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("log_level must be one of: %v, got %s", validLevels, cfg.LogLevel)
	}

	return nil
}

// applyDefaults sets default configuration values
func applyDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", DefaultDBPath())
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.pool_max_conns", 10)

	// Evaluation defaults
	v.SetDefault("evaluation.interval", "10s")
	v.SetDefault("evaluation.refresh_interval", "0s")

	// Feed defaults
	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.url", "nats://127.0.0.1:4222")
	v.SetDefault("feed.solution_id", "")
	v.SetDefault("feed.reconnect_wait", "2s")
	v.SetDefault("feed.max_reconnects", -1)
	v.SetDefault("feed.publish_alarms", true)
	v.SetDefault("feed.record_samples", true)

	// Alarm defaults
	v.SetDefault("alarms.history_retention", "720h")
	v.SetDefault("alarms.sample_retention", "168h")
	v.SetDefault("alarms.webhook_url", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
}

// validateInterval validates a duration against inclusive bounds.
func validateInterval(field string, value, min, max time.Duration) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %v and %v, got %v", field, min, max, value)
	}
	return nil
}
