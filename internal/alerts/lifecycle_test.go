package alerts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/models"
)

// memAlarmStore implements AlarmWriter and ReferenceProber for testing.
type memAlarmStore struct {
	alarms    map[uuid.UUID]*models.Alarm
	insertErr error

	missingDevice, missingParameter, missingRule bool
}

func newMemAlarmStore() *memAlarmStore {
	return &memAlarmStore{alarms: make(map[uuid.UUID]*models.Alarm)}
}

func (m *memAlarmStore) InsertAlarm(_ context.Context, alarm *models.Alarm) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	cp := *alarm
	m.alarms[alarm.ID] = &cp
	return nil
}

func (m *memAlarmStore) UpdateAlarmState(_ context.Context, id uuid.UUID, state models.AlarmState, isActive bool) error {
	a, ok := m.alarms[id]
	if !ok {
		return ErrAlarmNotFound
	}
	a.State = state
	a.IsActive = isActive
	return nil
}

func (m *memAlarmStore) MissingReferences(_ context.Context, _, _, _ uuid.UUID) (bool, bool, bool, error) {
	return m.missingDevice, m.missingParameter, m.missingRule, nil
}

func (m *memAlarmStore) active(ruleID, paramID uuid.UUID) *models.Alarm {
	for _, a := range m.alarms {
		if a.RuleID == ruleID && a.ParameterID == paramID && a.State == models.AlarmStateActive {
			cp := *a
			return &cp
		}
	}
	return nil
}

func fixture() (*models.Rule, *models.Parameter, *models.Device) {
	device := &models.Device{ID: uuid.New(), Name: "Pump-1"}
	param := &models.Parameter{ID: uuid.New(), DeviceID: device.ID, Name: "Pressure", CurrentValue: 4.5, Device: device}
	rule := &models.Rule{
		ID:                uuid.New(),
		ParameterID:       param.ID,
		Description:       "High pressure",
		RecommendedAction: "Open relief valve",
		Severity:          models.SeverityHigh,
		Priority:          2,
	}
	return rule, param, device
}

func TestReconcileCreate(t *testing.T) {
	rule, param, device := fixture()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	action := Reconcile(ReconcileInput{Rule: rule, Parameter: param, Device: device, Triggered: true, Now: now})
	if action.Kind != ActionCreate {
		t.Fatalf("expected create, got %s", action.Kind)
	}

	a := action.Alarm
	if a.ID == uuid.Nil {
		t.Error("expected alarm id")
	}
	if a.State != models.AlarmStateActive || !a.IsActive {
		t.Errorf("expected ACTIVE/isActive, got %s/%v", a.State, a.IsActive)
	}
	if a.CurrentValue != 4.5 || !a.TriggeredAt.Equal(now) {
		t.Errorf("expected value 4.5 at %v, got %v at %v", now, a.CurrentValue, a.TriggeredAt)
	}
	if a.RuleID != rule.ID || a.ParameterID != param.ID || a.DeviceID != device.ID {
		t.Error("expected alarm to reference rule, parameter and device")
	}
	if want := "Pressure: High pressure triggered at 4.5"; a.Message != want {
		t.Errorf("expected message %q, got %q", want, a.Message)
	}
	if a.Description != "High pressure" || a.RecommendedAction != "Open relief valve" {
		t.Error("expected description and recommended action captured from rule")
	}
	if a.Severity != models.SeverityHigh || a.Priority != 2 {
		t.Error("expected severity and priority captured from rule")
	}
}

func TestAlarmMessageDefaultDescription(t *testing.T) {
	rule, param, _ := fixture()
	rule.Description = ""
	param.CurrentValue = 12

	if got, want := AlarmMessage(rule, param), "Pressure: Rule triggered triggered at 12"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestReconcileTable(t *testing.T) {
	rule, param, device := fixture()
	active := &models.Alarm{ID: uuid.New(), State: models.AlarmStateActive, IsActive: true}
	acked := &models.Alarm{ID: uuid.New(), State: models.AlarmStateAck}
	inhibited := &models.Device{ID: device.ID, Inhibit: true}

	tests := []struct {
		name      string
		device    *models.Device
		triggered bool
		existing  *models.Alarm
		want      ActionKind
	}{
		{"triggered without alarm", device, true, nil, ActionCreate},
		{"triggered with active alarm", device, true, active, ActionNoOp},
		{"cleared with active alarm", device, false, active, ActionReturnToNormal},
		{"cleared without alarm", device, false, nil, ActionNoOp},
		{"inhibited and triggered", inhibited, true, nil, ActionNoOp},
		{"inhibited with active alarm cleared", inhibited, false, active, ActionNoOp},
		{"non-active existing is ignored", device, false, acked, ActionNoOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := Reconcile(ReconcileInput{
				Rule: rule, Parameter: param, Device: tt.device,
				Triggered: tt.triggered, Existing: tt.existing, Now: time.Now(),
			})
			if action.Kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, action.Kind)
			}
		})
	}
}

// runPair drives evaluate -> reconcile -> apply for one pair, the way the
// evaluation cycle does.
func runPair(t *testing.T, store *memAlarmStore, rule *models.Rule, param *models.Parameter, triggered bool) Action {
	t.Helper()
	action := Reconcile(ReconcileInput{
		Rule: rule, Parameter: param, Device: param.Device, Triggered: triggered,
		Existing: store.active(rule.ID, param.ID), Now: time.Now(),
	})
	if err := Apply(context.Background(), store, action); err != nil {
		t.Fatalf("apply %s: %v", action.Kind, err)
	}
	return action
}

func TestLifecycleIdempotentAcrossCycles(t *testing.T) {
	rule, param, _ := fixture()
	store := newMemAlarmStore()

	runPair(t, store, rule, param, true)
	runPair(t, store, rule, param, true)

	if len(store.alarms) != 1 {
		t.Errorf("expected exactly one alarm, got %d", len(store.alarms))
	}
}

func TestLifecycleReturnToNormal(t *testing.T) {
	rule, param, _ := fixture()
	store := newMemAlarmStore()

	created := runPair(t, store, rule, param, true)
	param.CurrentValue = 1
	cleared := runPair(t, store, rule, param, false)

	if cleared.Kind != ActionReturnToNormal {
		t.Fatalf("expected return to normal, got %s", cleared.Kind)
	}
	stored := store.alarms[created.Alarm.ID]
	if stored.State != models.AlarmStateRTN || stored.IsActive {
		t.Errorf("expected RTN/inactive, got %s/%v", stored.State, stored.IsActive)
	}
	if len(store.alarms) != 1 {
		t.Errorf("expected no second alarm, got %d", len(store.alarms))
	}
	if cleared.Alarm.State != models.AlarmStateRTN {
		t.Error("expected applied action to reflect new state")
	}

	// Condition comes back: a fresh alarm is raised.
	param.CurrentValue = 9
	if again := runPair(t, store, rule, param, true); again.Kind != ActionCreate {
		t.Errorf("expected new alarm after RTN, got %s", again.Kind)
	}
	if len(store.alarms) != 2 {
		t.Errorf("expected two alarms in history, got %d", len(store.alarms))
	}
}

func TestLifecycleInhibitedLeavesActiveAlarm(t *testing.T) {
	rule, param, device := fixture()
	store := newMemAlarmStore()

	created := runPair(t, store, rule, param, true)

	device.Inhibit = true
	runPair(t, store, rule, param, false)
	runPair(t, store, rule, param, true)

	if len(store.alarms) != 1 {
		t.Errorf("expected no new alarm while inhibited, got %d", len(store.alarms))
	}
	if got := store.alarms[created.Alarm.ID]; got.State != models.AlarmStateActive || !got.IsActive {
		t.Errorf("expected alarm untouched while inhibited, got %s", got.State)
	}
}

func TestApplyPersistenceConflict(t *testing.T) {
	rule, param, device := fixture()
	store := newMemAlarmStore()
	store.insertErr = fmt.Errorf("insert alarm: %w", ErrReferenceMissing)
	store.missingRule = true

	action := Reconcile(ReconcileInput{Rule: rule, Parameter: param, Device: device, Triggered: true, Now: time.Now()})
	err := Apply(context.Background(), store, action)

	var pc *PersistenceConflict
	if !errors.As(err, &pc) {
		t.Fatalf("expected PersistenceConflict, got %v", err)
	}
	if !pc.MissingRule || pc.MissingDevice || pc.MissingParameter {
		t.Errorf("expected only rule missing, got device=%v parameter=%v rule=%v",
			pc.MissingDevice, pc.MissingParameter, pc.MissingRule)
	}
	if refs := pc.MissingReferences(); len(refs) != 1 || refs[0] != "rule "+rule.ID.String() {
		t.Errorf("unexpected missing references: %v", refs)
	}
	if !errors.Is(err, ErrReferenceMissing) {
		t.Error("expected conflict to wrap the store error")
	}
}

func TestApplyTransportErrorPassesThrough(t *testing.T) {
	rule, param, device := fixture()
	store := newMemAlarmStore()
	store.insertErr = &TransportError{Op: "insert alarm", Err: errors.New("connection refused")}

	action := Reconcile(ReconcileInput{Rule: rule, Parameter: param, Device: device, Triggered: true, Now: time.Now()})
	err := Apply(context.Background(), store, action)
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestApplyNoOpWritesNothing(t *testing.T) {
	store := newMemAlarmStore()
	store.insertErr = errors.New("must not be called")

	if err := Apply(context.Background(), store, Action{Kind: ActionNoOp}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewEvent(t *testing.T) {
	rule, param, device := fixture()
	rule.Name = "pressure-high"
	action := Reconcile(ReconcileInput{Rule: rule, Parameter: param, Device: device, Triggered: true, Now: time.Now()})

	event := NewEvent(action, rule, param, time.Now())
	if event == nil || event.Kind != EventRaised {
		t.Fatalf("expected raised event, got %+v", event)
	}
	if event.DeviceName != "Pump-1" || event.RuleName != "pressure-high" {
		t.Errorf("unexpected names: device=%q rule=%q", event.DeviceName, event.RuleName)
	}
	if got := event.StateTransition(); got != "none -> ACTIVE" {
		t.Errorf("unexpected transition %q", got)
	}

	if NewEvent(Action{Kind: ActionNoOp}, rule, param, time.Now()) != nil {
		t.Error("expected no event for no-op")
	}
}
