package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the running agent's state for status reporting.
// There is at most one row.
type AgentStatus struct {
	PID       int
	StartTime time.Time
	LastCycle time.Time
	Version   string

	// Cycles counts completed evaluation cycles since start.
	Cycles int64

	// ErrorCount counts per-item failures since start.
	ErrorCount int64
	LastError  string

	// AvgCycleMillis is a moving average of cycle duration.
	AvgCycleMillis float64
}

// AlarmFilter narrows an alarm listing.
type AlarmFilter struct {
	// ActiveOnly restricts the listing to ACTIVE and ACK alarms.
	ActiveOnly bool

	DeviceID    uuid.UUID
	ParameterID uuid.UUID

	// Limit caps the result size. Zero means no limit.
	Limit int
}
