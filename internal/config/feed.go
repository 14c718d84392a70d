package config

import (
	"fmt"
	"regexp"
	"time"
)

// FeedConfig configures the NATS live-value feed.
type FeedConfig struct {
	// Enabled subscribes to parameter values and publishes alarm events.
	Enabled bool `mapstructure:"enabled"`

	// URL of the NATS server.
	URL string `mapstructure:"url"`

	// SolutionID is the first subject token of every value and alarm subject.
	SolutionID string `mapstructure:"solution_id"`

	// ReconnectWait is the delay between reconnect attempts (default: 2s).
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`

	// MaxReconnects caps reconnect attempts; -1 retries forever.
	MaxReconnects int `mapstructure:"max_reconnects"`

	// PublishAlarms sends raised and cleared alarms back to the feed.
	PublishAlarms bool `mapstructure:"publish_alarms"`

	// RecordSamples keeps every received value in the sample history.
	RecordSamples bool `mapstructure:"record_samples"`
}

// solutionIDRegex rejects characters that are special in NATS subjects.
var solutionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateFeedConfig validates the feed section. A disabled feed is not
// validated.
func ValidateFeedConfig(cfg *FeedConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.URL == "" {
		return fmt.Errorf("feed.url is required when the feed is enabled")
	}
	if !solutionIDRegex.MatchString(cfg.SolutionID) {
		return fmt.Errorf("feed.solution_id %q must be alphanumeric with hyphens/underscores only", cfg.SolutionID)
	}
	if err := validateInterval("feed.reconnect_wait", cfg.ReconnectWait, 100*time.Millisecond, time.Minute); err != nil {
		return err
	}
	return nil
}
