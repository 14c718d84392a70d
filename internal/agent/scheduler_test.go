package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/models"
)

// fakeStore is an in-memory CycleStore.
type fakeStore struct {
	mu      sync.Mutex
	params  []models.Parameter
	alarms  map[uuid.UUID]*models.Alarm
	listErr error
	findErr error
	insErr  error

	// panicRule panics FindActiveAlarm for that rule.
	panicRule uuid.UUID
}

func newFakeStore(params ...models.Parameter) *fakeStore {
	return &fakeStore{params: params, alarms: make(map[uuid.UUID]*models.Alarm)}
}

func (f *fakeStore) ListRules(context.Context) ([]models.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rules []models.Rule
	for _, p := range f.params {
		rules = append(rules, p.Rules...)
	}
	return rules, nil
}

func (f *fakeStore) ListParametersWithRulesAndDevice(context.Context) ([]models.Parameter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Parameter, len(f.params))
	copy(out, f.params)
	return out, nil
}

func (f *fakeStore) FindActiveAlarm(_ context.Context, ruleID, parameterID uuid.UUID) (*models.Alarm, error) {
	if ruleID == f.panicRule {
		panic("corrupt row")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, a := range f.alarms {
		if a.RuleID == ruleID && a.ParameterID == parameterID && a.State == models.AlarmStateActive {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertAlarm(_ context.Context, a *models.Alarm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insErr != nil {
		return f.insErr
	}
	copied := *a
	f.alarms[a.ID] = &copied
	return nil
}

func (f *fakeStore) UpdateAlarmState(_ context.Context, id uuid.UUID, state models.AlarmState, isActive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alarms[id]
	if !ok {
		return alerts.ErrAlarmNotFound
	}
	a.State = state
	a.IsActive = isActive
	return nil
}

func (f *fakeStore) setValue(parameterID uuid.UUID, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.params {
		if f.params[i].ID == parameterID {
			f.params[i].CurrentValue = v
		}
	}
}

func (f *fakeStore) countState(state models.AlarmState) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.alarms {
		if a.State == state {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*alerts.Event
	err    error
}

func (r *recordingNotifier) Notify(e *alerts.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingNotifier) kinds() []alerts.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alerts.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func pumpParameter(value float64, inhibit bool, rules ...models.Rule) models.Parameter {
	device := &models.Device{ID: uuid.New(), Name: "Pump-1", Inhibit: inhibit}
	param := models.Parameter{
		ID:           uuid.New(),
		DeviceID:     device.ID,
		Name:         "Pressure",
		CurrentValue: value,
		Device:       device,
	}
	for _, r := range rules {
		r.ParameterID = param.ID
		param.Rules = append(param.Rules, r)
	}
	return param
}

func expressionRule(name, expr string) models.Rule {
	return models.Rule{ID: uuid.New(), Name: name, Expression: expr, Severity: models.SeverityHigh}
}

func newTestScheduler(store *fakeStore, notifiers ...Notifier) *Scheduler {
	return NewScheduler(SchedulerConfig{Interval: time.Hour}, store, alerts.NewEngine(store), nil, notifiers...)
}

func TestRunCycle_RaiseThenClear(t *testing.T) {
	param := pumpParameter(150, false, expressionRule("high", "Pressure > 100"))
	store := newFakeStore(param)
	notifier := &recordingNotifier{}
	s := newTestScheduler(store, notifier)
	ctx := context.Background()

	report := s.RunCycle(ctx)
	if report.Err != nil {
		t.Fatalf("RunCycle() error = %v", report.Err)
	}
	if report.Created != 1 || report.Active != 1 || report.Evaluated != 1 {
		t.Fatalf("first cycle = %+v, want 1 created, 1 active, 1 evaluated", report)
	}

	// Still triggered: no second alarm.
	report = s.RunCycle(ctx)
	if report.Created != 0 || report.Active != 1 {
		t.Errorf("second cycle = %+v, want no new alarm", report)
	}
	if got := store.countState(models.AlarmStateActive); got != 1 {
		t.Errorf("active alarms = %d, want 1", got)
	}

	store.setValue(param.ID, 50)
	report = s.RunCycle(ctx)
	if report.Cleared != 1 || report.Active != 0 {
		t.Errorf("third cycle = %+v, want 1 cleared, 0 active", report)
	}
	if got := store.countState(models.AlarmStateRTN); got != 1 {
		t.Errorf("RTN alarms = %d, want 1", got)
	}

	kinds := notifier.kinds()
	if len(kinds) != 2 || kinds[0] != alerts.EventRaised || kinds[1] != alerts.EventCleared {
		t.Errorf("events = %v, want [raised cleared]", kinds)
	}
	if s.Cycles().Count() != 3 {
		t.Errorf("tracked cycles = %d, want 3", s.Cycles().Count())
	}
}

func TestRunCycle_SkipsInhibitedDevice(t *testing.T) {
	param := pumpParameter(150, true,
		expressionRule("high", "Pressure > 100"),
		expressionRule("very high", "Pressure > 140"))
	store := newFakeStore(param)
	s := newTestScheduler(store)

	report := s.RunCycle(context.Background())
	if report.Skipped != 2 || report.Evaluated != 0 || report.Created != 0 {
		t.Errorf("report = %+v, want 2 skipped and nothing evaluated", report)
	}
	if len(store.alarms) != 0 {
		t.Errorf("alarms = %d, want 0", len(store.alarms))
	}
}

func TestRunCycle_BadRuleDoesNotHaltCycle(t *testing.T) {
	param := pumpParameter(150, false,
		expressionRule("broken", "Pressure > && 3"),
		expressionRule("unbound", "Temperature > 10"),
		expressionRule("high", "Pressure > 100"))
	store := newFakeStore(param)
	s := newTestScheduler(store)

	report := s.RunCycle(context.Background())
	if report.Err != nil {
		t.Fatalf("RunCycle() error = %v", report.Err)
	}
	if report.Failures != 2 {
		t.Errorf("failures = %d, want 2", report.Failures)
	}
	if report.Created != 1 {
		t.Errorf("created = %d, want 1", report.Created)
	}
}

func TestRunCycle_ListFailureAborts(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("database is locked")
	s := newTestScheduler(store)

	report := s.RunCycle(context.Background())
	if report.Err == nil {
		t.Fatal("RunCycle() expected error")
	}
	if !alerts.IsTransport(report.Err) {
		t.Errorf("error %v is not a transport error", report.Err)
	}
}

func TestRunCycle_TransportFailureStopsCycle(t *testing.T) {
	store := newFakeStore(
		pumpParameter(150, false, expressionRule("a", "Pressure > 100")),
		pumpParameter(150, false, expressionRule("b", "Pressure > 100")))
	store.findErr = errors.New("connection reset")
	s := newTestScheduler(store)

	report := s.RunCycle(context.Background())
	if !alerts.IsTransport(report.Err) {
		t.Fatalf("report.Err = %v, want transport error", report.Err)
	}
	if report.Failures != 1 {
		t.Errorf("failures = %d, want 1", report.Failures)
	}
}

func TestRunCycle_RecoversPanic(t *testing.T) {
	bad := expressionRule("bad", "Pressure > 100")
	store := newFakeStore(pumpParameter(150, false, bad, expressionRule("good", "Pressure > 100")))
	store.panicRule = bad.ID
	s := newTestScheduler(store)

	report := s.RunCycle(context.Background())
	if report.Failures != 1 || report.Created != 1 {
		t.Errorf("report = %+v, want 1 failure and 1 created", report)
	}
}

func TestRunCycle_PersistenceConflict(t *testing.T) {
	store := newFakeStore(pumpParameter(150, false, expressionRule("high", "Pressure > 100")))
	store.insErr = alerts.ErrReferenceMissing
	notifier := &recordingNotifier{}
	s := newTestScheduler(store, notifier)

	report := s.RunCycle(context.Background())
	if report.Err != nil {
		t.Fatalf("RunCycle() error = %v", report.Err)
	}
	if report.Failures != 1 || report.Created != 0 {
		t.Errorf("report = %+v, want 1 failure and nothing created", report)
	}
	if len(notifier.kinds()) != 0 {
		t.Errorf("events = %v, want none", notifier.kinds())
	}
}

func TestRunCycle_NotifierErrorIgnored(t *testing.T) {
	store := newFakeStore(pumpParameter(150, false, expressionRule("high", "Pressure > 100")))
	failing := &recordingNotifier{err: errors.New("feed down")}
	second := &recordingNotifier{}
	s := newTestScheduler(store, failing, second)

	report := s.RunCycle(context.Background())
	if report.Created != 1 || report.Failures != 0 {
		t.Errorf("report = %+v, want 1 created and no failures", report)
	}
	if len(second.kinds()) != 1 {
		t.Errorf("second notifier got %d events, want 1", len(second.kinds()))
	}
}

func TestRunCycle_CancelledBetweenPairs(t *testing.T) {
	store := newFakeStore(pumpParameter(150, false, expressionRule("high", "Pressure > 100")))
	s := newTestScheduler(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := s.RunCycle(ctx)
	if !errors.Is(report.Err, context.Canceled) {
		t.Errorf("report.Err = %v, want context.Canceled", report.Err)
	}
	if report.Evaluated != 0 {
		t.Errorf("evaluated = %d, want 0", report.Evaluated)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	store := newFakeStore(pumpParameter(150, false, expressionRule("high", "Pressure > 100")))
	s := newTestScheduler(store)

	done := make(chan CycleReport, 1)
	s.OnCycle = func(r CycleReport) {
		select {
		case done <- r:
		default:
		}
	}

	s.Start()
	select {
	case r := <-done:
		if r.Created != 1 {
			t.Errorf("initial cycle created = %d, want 1", r.Created)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("initial cycle did not run")
	}
	s.Stop()
}

func TestScheduler_RefreshRules(t *testing.T) {
	store := newFakeStore(pumpParameter(1, false, expressionRule("high", "Pressure > 100")))
	engine := alerts.NewEngine(store)
	s := NewScheduler(SchedulerConfig{}, store, engine, nil)

	if err := s.RefreshRules(context.Background()); err != nil {
		t.Fatalf("RefreshRules() error = %v", err)
	}
	snap := engine.Snapshot()
	if snap == nil || snap.Len() != 1 || snap.Version() != 1 {
		t.Fatalf("snapshot = %+v, want 1 rule at version 1", snap)
	}
	if s.config.Interval != DefaultEvaluationInterval {
		t.Errorf("interval = %v, want default", s.config.Interval)
	}
}
