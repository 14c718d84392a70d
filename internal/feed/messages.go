package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
)

// ValueMessage is the JSON payload of a value subject. Keys match
// case-insensitively.
type ValueMessage struct {
	Value     *float64  `json:"Value"`
	Timestamp time.Time `json:"Timestamp"`
	Unit      string    `json:"Unit,omitempty"`
}

// ErrEmptyPayload is returned for a value message without content.
var ErrEmptyPayload = errors.New("empty payload")

// ParseValue decodes a value payload: a JSON ValueMessage or a bare number.
// A missing timestamp defaults to received.
func ParseValue(payload []byte, received time.Time) (ValueMessage, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return ValueMessage{}, ErrEmptyPayload
	}

	var msg ValueMessage
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return ValueMessage{}, fmt.Errorf("invalid value message: %w", err)
		}
		if msg.Value == nil {
			return ValueMessage{}, fmt.Errorf("value message without Value")
		}
	} else {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return ValueMessage{}, fmt.Errorf("invalid value %q: %w", text, err)
		}
		msg.Value = &v
	}

	if math.IsNaN(*msg.Value) || math.IsInf(*msg.Value, 0) {
		return ValueMessage{}, fmt.Errorf("value is not finite")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = received
	}
	return msg, nil
}

// AlarmMessage is published for every alarm transition.
type AlarmMessage struct {
	AlarmID           uuid.UUID `json:"AlarmId"`
	RuleID            uuid.UUID `json:"RuleId"`
	AlarmName         string    `json:"AlarmName"`
	Severity          string    `json:"Severity"`
	Priority          int       `json:"Priority"`
	CurrentValue      float64   `json:"CurrentValue"`
	TriggeredAt       time.Time `json:"TriggeredAt"`
	Message           string    `json:"Message"`
	RecommendedAction string    `json:"RecommendedAction"`
	IsActive          bool      `json:"IsActive"`
	State             string    `json:"State"`
}

// NewAlarmMessage builds the payload for an event.
func NewAlarmMessage(e *alerts.Event) AlarmMessage {
	a := e.Alarm
	return AlarmMessage{
		AlarmID:           a.ID,
		RuleID:            a.RuleID,
		AlarmName:         e.RuleName,
		Severity:          string(a.Severity),
		Priority:          a.Priority,
		CurrentValue:      e.Value,
		TriggeredAt:       a.TriggeredAt,
		Message:           a.Message,
		RecommendedAction: a.RecommendedAction,
		IsActive:          a.IsActive,
		State:             a.State.String(),
	}
}

// AckMessage is published when an operator acknowledges an alarm.
type AckMessage struct {
	AlarmID        uuid.UUID `json:"AlarmId"`
	AcknowledgedAt time.Time `json:"AcknowledgedAt"`
	AcknowledgedBy string    `json:"AcknowledgedBy,omitempty"`
	State          string    `json:"State"`
}
