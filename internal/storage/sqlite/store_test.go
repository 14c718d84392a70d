package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/metrics"
	"github.com/willibrandon/devicealarm/internal/models"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "alarm_store_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	store, err := NewStore(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open database: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

// seed creates one device with one parameter and one rule.
func seed(t *testing.T, s *Store) (*models.Device, *models.Parameter, *models.Rule) {
	t.Helper()
	ctx := context.Background()

	max := 20.0
	min := 10.0
	device := &models.Device{ID: uuid.New(), Name: "Pump-1", DeviceType: "Pump"}
	param := &models.Parameter{ID: uuid.New(), DeviceID: device.ID, Name: "Pressure", Unit: "bar", CurrentValue: 15}
	rule := &models.Rule{
		ID: uuid.New(), ParameterID: param.ID, Name: "pressure-range", Min: &min, Max: &max,
		Description: "Pressure in range", Severity: models.SeverityHigh, Priority: 3,
	}

	if err := s.UpsertDevice(ctx, device); err != nil {
		t.Fatalf("UpsertDevice failed: %v", err)
	}
	if err := s.UpsertParameter(ctx, param); err != nil {
		t.Fatalf("UpsertParameter failed: %v", err)
	}
	if err := s.UpsertRule(ctx, rule); err != nil {
		t.Fatalf("UpsertRule failed: %v", err)
	}
	return device, param, rule
}

func TestCatalogStore_ListParametersWithRulesAndDevice(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	device, param, rule := seed(t, store)

	params, err := store.ListParametersWithRulesAndDevice(context.Background())
	if err != nil {
		t.Fatalf("ListParametersWithRulesAndDevice failed: %v", err)
	}
	if len(params) != 1 {
		t.Fatalf("expected 1 parameter, got %d", len(params))
	}

	p := params[0]
	if p.ID != param.ID || p.Name != "Pressure" || p.CurrentValue != 15 {
		t.Errorf("unexpected parameter: %+v", p)
	}
	if p.Device == nil || p.Device.ID != device.ID || p.Device.Name != "Pump-1" {
		t.Errorf("expected device resolved, got %+v", p.Device)
	}
	if len(p.Rules) != 1 || p.Rules[0].ID != rule.ID {
		t.Fatalf("expected rule resolved, got %+v", p.Rules)
	}
	r := p.Rules[0]
	if r.Min == nil || *r.Min != 10 || r.Max == nil || *r.Max != 20 {
		t.Errorf("expected bounds 10..20, got %v..%v", r.Min, r.Max)
	}
	if r.Severity != models.SeverityHigh || r.Priority != 3 {
		t.Errorf("unexpected severity/priority: %s/%d", r.Severity, r.Priority)
	}
}

func TestCatalogStore_NullBounds(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, param, _ := seed(t, store)
	ctx := context.Background()

	exprRule := &models.Rule{ID: uuid.New(), ParameterID: param.ID, Expression: "Pressure > 3"}
	if err := store.UpsertRule(ctx, exprRule); err != nil {
		t.Fatalf("UpsertRule failed: %v", err)
	}

	rules, err := store.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	for _, r := range rules {
		if r.ID == exprRule.ID && (r.Min != nil || r.Max != nil) {
			t.Errorf("expected nil bounds, got %v/%v", r.Min, r.Max)
		}
	}
}

func TestCatalogStore_UpdateParameterValue(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	device, param, _ := seed(t, store)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

	if err := store.UpdateParameterValue(ctx, device.ID, param.ID, 42.5, at); err != nil {
		t.Fatalf("UpdateParameterValue failed: %v", err)
	}

	got, err := store.GetParameter(ctx, param.ID)
	if err != nil {
		t.Fatalf("GetParameter failed: %v", err)
	}
	if got.CurrentValue != 42.5 || !got.UpdatedAt.Equal(at) {
		t.Errorf("expected 42.5 at %v, got %v at %v", at, got.CurrentValue, got.UpdatedAt)
	}

	err = store.UpdateParameterValue(ctx, uuid.New(), param.ID, 1, at)
	if !errors.Is(err, alerts.ErrParameterNotFound) {
		t.Errorf("expected ErrParameterNotFound for wrong device, got %v", err)
	}
}

func TestCatalogStore_UpsertParameterKeepsValue(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	device, param, _ := seed(t, store)
	ctx := context.Background()

	if err := store.UpdateParameterValue(ctx, device.ID, param.ID, 99, time.Now()); err != nil {
		t.Fatalf("UpdateParameterValue failed: %v", err)
	}

	param.Unit = "psi"
	param.CurrentValue = 0
	if err := store.UpsertParameter(ctx, param); err != nil {
		t.Fatalf("UpsertParameter failed: %v", err)
	}

	got, err := store.GetParameter(ctx, param.ID)
	if err != nil {
		t.Fatalf("GetParameter failed: %v", err)
	}
	if got.Unit != "psi" || got.CurrentValue != 99 {
		t.Errorf("expected unit updated and value kept, got %q %v", got.Unit, got.CurrentValue)
	}
}

func TestCatalogStore_SetDeviceInhibit(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	device, _, _ := seed(t, store)
	ctx := context.Background()

	if err := store.SetDeviceInhibit(ctx, device.ID, true); err != nil {
		t.Fatalf("SetDeviceInhibit failed: %v", err)
	}
	params, err := store.ListParametersWithRulesAndDevice(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !params[0].Device.Inhibit {
		t.Error("expected device inhibited")
	}

	if err := store.SetDeviceInhibit(ctx, uuid.New(), true); !errors.Is(err, alerts.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestAlarmStore_InsertFindUpdate(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, param, rule := seed(t, store)
	ctx := context.Background()

	alarm := alerts.NewAlarm(rule, param, time.Now())
	if err := store.InsertAlarm(ctx, alarm); err != nil {
		t.Fatalf("InsertAlarm failed: %v", err)
	}

	found, err := store.FindActiveAlarm(ctx, rule.ID, param.ID)
	if err != nil {
		t.Fatalf("FindActiveAlarm failed: %v", err)
	}
	if found == nil || found.ID != alarm.ID {
		t.Fatalf("expected alarm %s, got %+v", alarm.ID, found)
	}
	if found.Message != alarm.Message || found.Severity != models.SeverityHigh || !found.IsActive {
		t.Errorf("alarm fields not round-tripped: %+v", found)
	}

	if err := store.UpdateAlarmState(ctx, alarm.ID, models.AlarmStateRTN, false); err != nil {
		t.Fatalf("UpdateAlarmState failed: %v", err)
	}

	found, err = store.FindActiveAlarm(ctx, rule.ID, param.ID)
	if err != nil {
		t.Fatalf("FindActiveAlarm failed: %v", err)
	}
	if found != nil {
		t.Errorf("expected no active alarm after RTN, got %+v", found)
	}

	got, err := store.GetAlarm(ctx, alarm.ID)
	if err != nil {
		t.Fatalf("GetAlarm failed: %v", err)
	}
	if got.State != models.AlarmStateRTN || got.IsActive || got.ClearedAt == nil {
		t.Errorf("expected RTN/inactive/cleared, got %s/%v/%v", got.State, got.IsActive, got.ClearedAt)
	}

	if err := store.UpdateAlarmState(ctx, uuid.New(), models.AlarmStateRTN, false); !errors.Is(err, alerts.ErrAlarmNotFound) {
		t.Errorf("expected ErrAlarmNotFound, got %v", err)
	}
}

func TestAlarmStore_OneActivePerPair(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, param, rule := seed(t, store)
	ctx := context.Background()

	if err := store.InsertAlarm(ctx, alerts.NewAlarm(rule, param, time.Now())); err != nil {
		t.Fatalf("InsertAlarm failed: %v", err)
	}
	if err := store.InsertAlarm(ctx, alerts.NewAlarm(rule, param, time.Now())); err == nil {
		t.Error("expected second ACTIVE alarm for the same pair to be rejected")
	}
}

func TestAlarmStore_ForeignKeyConflict(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, param, rule := seed(t, store)
	ctx := context.Background()

	if err := store.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}

	action := alerts.Action{Kind: alerts.ActionCreate, Alarm: alerts.NewAlarm(rule, param, time.Now())}
	err := alerts.Apply(ctx, store, action)

	var pc *alerts.PersistenceConflict
	if !errors.As(err, &pc) {
		t.Fatalf("expected PersistenceConflict, got %v", err)
	}
	if !pc.MissingRule || pc.MissingParameter || pc.MissingDevice {
		t.Errorf("expected only rule missing, got device=%v parameter=%v rule=%v",
			pc.MissingDevice, pc.MissingParameter, pc.MissingRule)
	}
}

func TestAlarmStore_Acknowledge(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, param, rule := seed(t, store)
	ctx := context.Background()

	alarm := alerts.NewAlarm(rule, param, time.Now())
	if err := store.InsertAlarm(ctx, alarm); err != nil {
		t.Fatalf("InsertAlarm failed: %v", err)
	}

	acked, err := store.AcknowledgeAlarm(ctx, alarm.ID, "operator", time.Now())
	if err != nil {
		t.Fatalf("AcknowledgeAlarm failed: %v", err)
	}
	if acked.State != models.AlarmStateAck || acked.IsActive || acked.AcknowledgedBy != "operator" || acked.AcknowledgedAt == nil {
		t.Errorf("unexpected acknowledged alarm: %+v", acked)
	}

	if _, err := store.AcknowledgeAlarm(ctx, alarm.ID, "operator", time.Now()); !errors.Is(err, alerts.ErrAlreadyAcknowledged) {
		t.Errorf("expected ErrAlreadyAcknowledged, got %v", err)
	}

	// An acknowledged alarm no longer blocks a new ACTIVE alarm.
	if found, _ := store.FindActiveAlarm(ctx, rule.ID, param.ID); found != nil {
		t.Error("ACK alarm must not be reported as ACTIVE")
	}

	if _, err := store.AcknowledgeAlarm(ctx, uuid.New(), "x", time.Now()); !errors.Is(err, alerts.ErrAlarmNotFound) {
		t.Errorf("expected ErrAlarmNotFound, got %v", err)
	}
}

func TestAlarmStore_AcknowledgeRTN(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, param, rule := seed(t, store)
	ctx := context.Background()

	alarm := alerts.NewAlarm(rule, param, time.Now())
	if err := store.InsertAlarm(ctx, alarm); err != nil {
		t.Fatalf("InsertAlarm failed: %v", err)
	}
	if err := store.UpdateAlarmState(ctx, alarm.ID, models.AlarmStateRTN, false); err != nil {
		t.Fatalf("UpdateAlarmState failed: %v", err)
	}

	acked, err := store.AcknowledgeAlarm(ctx, alarm.ID, "", time.Now())
	if err != nil {
		t.Fatalf("AcknowledgeAlarm failed: %v", err)
	}
	if acked.State != models.AlarmStateAckRTN {
		t.Errorf("expected ACKRTN, got %s", acked.State)
	}
}

func TestAlarmStore_ListAndPrune(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, param, rule := seed(t, store)
	ctx := context.Background()
	now := time.Now()

	old := alerts.NewAlarm(rule, param, now.Add(-48*time.Hour))
	if err := store.InsertAlarm(ctx, old); err != nil {
		t.Fatalf("InsertAlarm failed: %v", err)
	}
	if err := store.UpdateAlarmState(ctx, old.ID, models.AlarmStateRTN, false); err != nil {
		t.Fatalf("UpdateAlarmState failed: %v", err)
	}
	current := alerts.NewAlarm(rule, param, now)
	if err := store.InsertAlarm(ctx, current); err != nil {
		t.Fatalf("InsertAlarm failed: %v", err)
	}

	all, err := store.ListAlarms(ctx, models.AlarmFilter{})
	if err != nil {
		t.Fatalf("ListAlarms failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != current.ID {
		t.Fatalf("expected 2 alarms newest first, got %d", len(all))
	}

	active, err := store.ListAlarms(ctx, models.AlarmFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListAlarms failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != current.ID {
		t.Errorf("expected only the active alarm, got %d", len(active))
	}

	limited, err := store.ListAlarms(ctx, models.AlarmFilter{Limit: 1, ParameterID: param.ID})
	if err != nil {
		t.Fatalf("ListAlarms failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}

	deleted, err := store.PruneAlarms(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneAlarms failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 pruned alarm, got %d", deleted)
	}
	if _, err := store.GetAlarm(ctx, current.ID); err != nil {
		t.Errorf("active alarm must survive pruning: %v", err)
	}
}

func TestSampleStore_SaveAndHistory(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, param, _ := seed(t, store)
	ctx := context.Background()
	now := time.Now()

	for i, v := range []float64{1, 2, 3} {
		dp := metrics.NewDataPointAt(now.Add(time.Duration(i-3)*time.Minute), v)
		if err := store.SaveSample(ctx, param.ID, dp); err != nil {
			t.Fatalf("SaveSample failed: %v", err)
		}
	}

	points, err := store.SampleHistory(ctx, param.ID, now.Add(-150*time.Second), 0)
	if err != nil {
		t.Fatalf("SampleHistory failed: %v", err)
	}
	if len(points) != 2 || points[0].Value != 2 || points[1].Value != 3 {
		t.Errorf("expected [2 3], got %+v", points)
	}

	deleted, err := store.PruneSamples(ctx, now.Add(-150*time.Second))
	if err != nil {
		t.Fatalf("PruneSamples failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 pruned sample, got %d", deleted)
	}

	if err := store.SaveSample(ctx, param.ID, metrics.DataPoint{}); err == nil {
		t.Error("expected error for invalid data point")
	}
}

func TestStatusStore_SaveGetDelete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	got, err := store.GetStatus(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected no status, got %+v (%v)", got, err)
	}

	status := &models.AgentStatus{
		PID:            4242,
		StartTime:      time.Now().Add(-time.Hour),
		LastCycle:      time.Now(),
		Version:        "1.0.0",
		Cycles:         360,
		ErrorCount:     2,
		LastError:      "boom",
		AvgCycleMillis: 12.5,
	}
	if err := store.SaveStatus(ctx, status); err != nil {
		t.Fatalf("SaveStatus failed: %v", err)
	}

	got, err = store.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if got.PID != 4242 || got.Cycles != 360 || got.LastError != "boom" || got.AvgCycleMillis != 12.5 {
		t.Errorf("unexpected status: %+v", got)
	}
	if !got.StartTime.Equal(status.StartTime) {
		t.Errorf("expected start time %v, got %v", status.StartTime, got.StartTime)
	}

	if err := store.DeleteStatus(ctx); err != nil {
		t.Fatalf("DeleteStatus failed: %v", err)
	}
	if got, _ := store.GetStatus(ctx); got != nil {
		t.Error("expected status deleted")
	}
}
