package alerts

import (
	"time"

	"github.com/willibrandon/devicealarm/internal/models"
)

// EventKind identifies an alarm lifecycle transition.
type EventKind string

const (
	// EventRaised is emitted when a new ACTIVE alarm is created.
	EventRaised EventKind = "raised"
	// EventCleared is emitted when an ACTIVE alarm returns to normal.
	EventCleared EventKind = "cleared"
	// EventAcknowledged is emitted when an operator acknowledges an alarm.
	EventAcknowledged EventKind = "acknowledged"
)

// Event describes an alarm transition for notification sinks.
type Event struct {
	Kind EventKind

	// Alarm is a copy of the alarm after the transition.
	Alarm models.Alarm

	// PrevState is the state before the transition. Empty for EventRaised.
	PrevState models.AlarmState

	RuleName      string
	ParameterName string
	DeviceName    string

	// Value is the parameter value that caused the transition.
	Value float64

	// At is when the transition occurred.
	At time.Time
}

// NewEvent builds an event for an applied lifecycle action. It returns nil
// for a no-op.
func NewEvent(action Action, rule *models.Rule, parameter *models.Parameter, at time.Time) *Event {
	var kind EventKind
	var prev models.AlarmState

	switch action.Kind {
	case ActionCreate:
		kind = EventRaised
	case ActionReturnToNormal:
		kind = EventCleared
		prev = models.AlarmStateActive
	default:
		return nil
	}

	event := &Event{
		Kind:          kind,
		Alarm:         *action.Alarm,
		PrevState:     prev,
		RuleName:      rule.DisplayName(),
		ParameterName: parameter.Name,
		Value:         action.Value,
		At:            at,
	}
	if parameter.Device != nil {
		event.DeviceName = parameter.Device.Name
	}
	return event
}

// StateTransition returns a human-readable description of the state change.
func (e *Event) StateTransition() string {
	prev := "none"
	if e.PrevState != "" {
		prev = e.PrevState.String()
	}
	return prev + " -> " + e.Alarm.State.String()
}
