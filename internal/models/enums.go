package models

import (
	"fmt"
	"strings"
)

// AlarmState is the lifecycle state of an alarm.
type AlarmState string

const (
	// AlarmStateActive is an open, unacknowledged alarm.
	AlarmStateActive AlarmState = "ACTIVE"
	// AlarmStateAck is an open alarm that an operator acknowledged.
	AlarmStateAck AlarmState = "ACK"
	// AlarmStateRTN is an alarm whose condition returned to normal.
	AlarmStateRTN AlarmState = "RTN"
	// AlarmStateAckRTN is a returned-to-normal alarm that was acknowledged.
	AlarmStateAckRTN AlarmState = "ACKRTN"
)

// String returns the string representation of the alarm state.
func (s AlarmState) String() string {
	return string(s)
}

// IsActive returns true only for ACTIVE.
func (s AlarmState) IsActive() bool {
	return s == AlarmStateActive
}

// IsValid returns true if the state is a recognized state.
func (s AlarmState) IsValid() bool {
	switch s {
	case AlarmStateActive, AlarmStateAck, AlarmStateRTN, AlarmStateAckRTN:
		return true
	default:
		return false
	}
}

// ParseAlarmState converts a stored string to an AlarmState.
func ParseAlarmState(s string) (AlarmState, error) {
	state := AlarmState(strings.ToUpper(strings.TrimSpace(s)))
	if !state.IsValid() {
		return "", fmt.Errorf("unknown alarm state %q", s)
	}
	return state, nil
}

// Severity ranks how serious an alarm is.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// ParseSeverity converts a string to a Severity, case-insensitively.
// Unknown or empty values map to SeverityMedium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}
