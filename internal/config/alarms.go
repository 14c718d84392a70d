package config

import (
	"fmt"
	"net/url"
	"time"
)

// AlarmsConfig holds alarm history and notification configuration.
type AlarmsConfig struct {
	// HistoryRetention is how long cleared alarms are kept (default: 720h/30d).
	HistoryRetention time.Duration `mapstructure:"history_retention"`

	// SampleRetention is how long received parameter values are kept
	// (default: 168h/7d).
	SampleRetention time.Duration `mapstructure:"sample_retention"`

	// WebhookURL receives raised and cleared alarms when set.
	WebhookURL string `mapstructure:"webhook_url"`
}

// ValidateAlarmsConfig validates the alarms section.
func ValidateAlarmsConfig(cfg *AlarmsConfig) error {
	if err := validateInterval("alarms.history_retention", cfg.HistoryRetention, time.Hour, 8760*time.Hour); err != nil {
		return err
	}
	if err := validateInterval("alarms.sample_retention", cfg.SampleRetention, time.Hour, 8760*time.Hour); err != nil {
		return err
	}
	if cfg.WebhookURL != "" {
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("alarms.webhook_url must be an http(s) URL, got %q", cfg.WebhookURL)
		}
	}
	return nil
}
