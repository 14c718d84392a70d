package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/willibrandon/devicealarm/internal/config"
	"github.com/willibrandon/devicealarm/internal/models"
	"github.com/willibrandon/devicealarm/internal/storage"
)

// Status represents the service status.
type Status struct {
	State      string   `json:"state"`
	Foreground bool     `json:"foreground,omitempty"`
	PID        int      `json:"pid,omitempty"`
	Uptime     string   `json:"uptime,omitempty"`
	LastCycle  string   `json:"last_cycle,omitempty"`
	Cycles     int64    `json:"cycles,omitempty"`
	AvgCycleMs float64  `json:"avg_cycle_ms,omitempty"`
	Active     int      `json:"active_alarms"`
	Healthy    bool     `json:"healthy"`
	Errors     []string `json:"errors,omitempty"`
	ErrorCount int64    `json:"error_count,omitempty"`
	Version    string   `json:"version,omitempty"`
}

// fillStatus reads the agent status row and open alarm count from the
// configured store.
func fillStatus(ctx context.Context, cfg *config.Config, status *Status) error {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	row, err := store.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read agent status: %w", err)
	}
	applyStatusRow(status, row, cfg.Evaluation.Interval, time.Now())

	alarms, err := store.ListAlarms(ctx, models.AlarmFilter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("failed to count alarms: %w", err)
	}
	status.Active = len(alarms)
	return nil
}

// applyStatusRow copies row into status. The agent is healthy when its last
// cycle is within three intervals of now.
func applyStatusRow(status *Status, row *models.AgentStatus, interval time.Duration, now time.Time) {
	if row == nil {
		status.Errors = append(status.Errors, "agent has not recorded a status yet")
		return
	}

	status.PID = row.PID
	status.Version = row.Version
	status.Cycles = row.Cycles
	status.AvgCycleMs = row.AvgCycleMillis
	status.ErrorCount = row.ErrorCount
	if !row.StartTime.IsZero() {
		status.Uptime = formatUptime(now.Sub(row.StartTime))
	}
	if !row.LastCycle.IsZero() {
		status.LastCycle = humanize.RelTime(row.LastCycle, now, "ago", "from now")
	}

	status.Healthy = IsHealthy(row, 3*interval, now)
	if !status.Healthy {
		status.Errors = append(status.Errors, fmt.Sprintf("no evaluation cycle since %s", row.LastCycle.Format(time.RFC3339)))
	}
	if row.ErrorCount > 0 && row.LastError != "" {
		status.Errors = append(status.Errors, row.LastError)
	}
}

// formatUptime formats d as "1d 2h 3m 4s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
