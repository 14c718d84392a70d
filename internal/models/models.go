// Package models contains the device, parameter, rule and alarm entities.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is a monitored piece of equipment that owns parameters.
type Device struct {
	ID          uuid.UUID
	Name        string
	Description string
	DeviceType  string

	// Inhibit suppresses evaluation for every parameter of the device.
	// Alarms already open stay as they are while inhibited.
	Inhibit bool
}

// Parameter is a continuously updated numeric measurement of a device.
type Parameter struct {
	ID       uuid.UUID
	DeviceID uuid.UUID
	Name     string
	Unit     string

	// CurrentValue is written by the value feed and read by the evaluation cycle.
	CurrentValue float64

	// UpdatedAt is when CurrentValue was last written. Zero if never.
	UpdatedAt time.Time

	// Device is the owning device, resolved by the parameter listing.
	Device *Device

	// Rules are the conditions evaluated against this parameter.
	Rules []Rule
}

// Rule is a named condition attached to a parameter.
type Rule struct {
	ID          uuid.UUID
	ParameterID uuid.UUID
	Name        string

	// Min and Max are inclusive bounds used when Expression is empty.
	Min *float64
	Max *float64

	// Expression takes precedence over Min and Max when non-blank.
	Expression string

	// ComparisonType is informational only (e.g. "GreaterThan", "Range").
	ComparisonType string

	Description       string
	RecommendedAction string
	Severity          Severity
	Priority          int
}

// DisplayName returns the rule name, or its id when unnamed.
func (r *Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID.String()
}

// Alarm records a trigger of a rule against a parameter and its lifecycle.
type Alarm struct {
	ID          uuid.UUID
	RuleID      uuid.UUID
	ParameterID uuid.UUID
	DeviceID    uuid.UUID

	// CurrentValue is the parameter value when the alarm was raised.
	CurrentValue float64
	TriggeredAt  time.Time

	State    AlarmState
	IsActive bool

	// Message, Description, RecommendedAction, Severity and Priority are
	// captured from the rule when the alarm is created.
	Message           string
	Description       string
	RecommendedAction string
	Severity          Severity
	Priority          int

	AcknowledgedAt *time.Time
	AcknowledgedBy string
	ClearedAt      *time.Time
}

// IsAcknowledged returns true if the alarm has been acknowledged.
func (a *Alarm) IsAcknowledged() bool {
	return a.State == AlarmStateAck || a.State == AlarmStateAckRTN
}

// Duration returns how long the alarm has been open, or how long it was open
// if it has cleared.
func (a *Alarm) Duration(now time.Time) time.Duration {
	if a.ClearedAt != nil {
		return a.ClearedAt.Sub(a.TriggeredAt)
	}
	return now.Sub(a.TriggeredAt)
}
