package alerts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/models"
)

// ErrReferenceMissing is wrapped by stores when an alarm write violates a
// foreign key.
var ErrReferenceMissing = errors.New("referenced entity missing")

// ActionKind is the decision taken for one rule and parameter pair.
type ActionKind int

const (
	// ActionNoOp leaves the pair untouched.
	ActionNoOp ActionKind = iota
	// ActionCreate opens a new ACTIVE alarm.
	ActionCreate
	// ActionReturnToNormal moves the existing ACTIVE alarm to RTN.
	ActionReturnToNormal
)

// String returns the string representation of the action kind.
func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionReturnToNormal:
		return "return_to_normal"
	default:
		return "noop"
	}
}

// Action is the outcome of Reconcile.
type Action struct {
	Kind ActionKind

	// Alarm is the new alarm for ActionCreate, the alarm being cleared for
	// ActionReturnToNormal, and the untouched active alarm (if any) for
	// ActionNoOp.
	Alarm *models.Alarm

	// Value is the parameter value the decision was taken on.
	Value float64

	// Reason explains a no-op.
	Reason string
}

// ReconcileInput is everything Reconcile needs to decide one pair.
type ReconcileInput struct {
	Rule      *models.Rule
	Parameter *models.Parameter
	Device    *models.Device
	Triggered bool

	// Existing is the ACTIVE alarm for the pair, or nil.
	Existing *models.Alarm

	Now time.Time
}

// Reconcile decides what happens to the alarm of a rule and parameter pair
// given the latest verdict. It performs no I/O.
func Reconcile(in ReconcileInput) Action {
	value := in.Parameter.CurrentValue

	if in.Device != nil && in.Device.Inhibit {
		return Action{Kind: ActionNoOp, Alarm: in.Existing, Value: value, Reason: "device inhibited"}
	}

	existing := in.Existing
	if existing != nil && !existing.State.IsActive() {
		existing = nil
	}

	switch {
	case in.Triggered && existing == nil:
		return Action{Kind: ActionCreate, Alarm: NewAlarm(in.Rule, in.Parameter, in.Now), Value: value}
	case in.Triggered:
		return Action{Kind: ActionNoOp, Alarm: existing, Value: value, Reason: "alarm already active"}
	case existing != nil:
		return Action{Kind: ActionReturnToNormal, Alarm: existing, Value: value}
	default:
		return Action{Kind: ActionNoOp, Value: value, Reason: "not triggered"}
	}
}

// NewAlarm builds an ACTIVE alarm for rule firing on parameter.
func NewAlarm(rule *models.Rule, parameter *models.Parameter, now time.Time) *models.Alarm {
	return &models.Alarm{
		ID:                uuid.New(),
		RuleID:            rule.ID,
		ParameterID:       parameter.ID,
		DeviceID:          parameter.DeviceID,
		CurrentValue:      parameter.CurrentValue,
		TriggeredAt:       now.UTC(),
		State:             models.AlarmStateActive,
		IsActive:          true,
		Message:           AlarmMessage(rule, parameter),
		Description:       rule.Description,
		RecommendedAction: rule.RecommendedAction,
		Severity:          rule.Severity,
		Priority:          rule.Priority,
	}
}

// AlarmMessage formats "<parameter>: <rule description> triggered at <value>".
func AlarmMessage(rule *models.Rule, parameter *models.Parameter) string {
	desc := rule.Description
	if desc == "" {
		desc = "Rule triggered"
	}
	return fmt.Sprintf("%s: %s triggered at %s",
		parameter.Name, desc, strconv.FormatFloat(parameter.CurrentValue, 'f', -1, 64))
}

// AcknowledgedState returns the state an alarm moves to when an operator
// acknowledges it: ACTIVE becomes ACK and RTN becomes ACKRTN.
func AcknowledgedState(s models.AlarmState) (models.AlarmState, error) {
	switch s {
	case models.AlarmStateActive:
		return models.AlarmStateAck, nil
	case models.AlarmStateRTN:
		return models.AlarmStateAckRTN, nil
	case models.AlarmStateAck, models.AlarmStateAckRTN:
		return s, ErrAlreadyAcknowledged
	default:
		return s, fmt.Errorf("cannot acknowledge alarm in state %q", s)
	}
}

// AlarmWriter persists alarm lifecycle decisions.
type AlarmWriter interface {
	InsertAlarm(ctx context.Context, alarm *models.Alarm) error
	UpdateAlarmState(ctx context.Context, id uuid.UUID, state models.AlarmState, isActive bool) error
}

// ReferenceProber reports which of an alarm's references no longer exist.
type ReferenceProber interface {
	MissingReferences(ctx context.Context, deviceID, parameterID, ruleID uuid.UUID) (device, parameter, rule bool, err error)
}

// Apply persists an action. Rejected writes are returned as a
// PersistenceConflict naming the missing references when the writer can
// probe for them. Nothing is retried.
func Apply(ctx context.Context, w AlarmWriter, action Action) error {
	switch action.Kind {
	case ActionCreate:
		if err := w.InsertAlarm(ctx, action.Alarm); err != nil {
			return classifyWriteError(ctx, w, action.Alarm, err)
		}
	case ActionReturnToNormal:
		if err := w.UpdateAlarmState(ctx, action.Alarm.ID, models.AlarmStateRTN, false); err != nil {
			return classifyWriteError(ctx, w, action.Alarm, err)
		}
		action.Alarm.State = models.AlarmStateRTN
		action.Alarm.IsActive = false
	}
	return nil
}

func classifyWriteError(ctx context.Context, w AlarmWriter, alarm *models.Alarm, err error) error {
	if IsTransport(err) {
		return err
	}

	conflict := &PersistenceConflict{
		AlarmID:     alarm.ID,
		DeviceID:    alarm.DeviceID,
		ParameterID: alarm.ParameterID,
		RuleID:      alarm.RuleID,
		Err:         err,
	}

	if !errors.Is(err, ErrReferenceMissing) && !errors.Is(err, ErrAlarmNotFound) {
		return conflict
	}

	prober, ok := w.(ReferenceProber)
	if !ok {
		return conflict
	}

	device, parameter, rule, perr := prober.MissingReferences(ctx, alarm.DeviceID, alarm.ParameterID, alarm.RuleID)
	if perr != nil {
		conflict.Err = errors.Join(err, fmt.Errorf("probe references: %w", perr))
		return conflict
	}
	conflict.MissingDevice = device
	conflict.MissingParameter = parameter
	conflict.MissingRule = rule
	return conflict
}
