package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/metrics"
	"github.com/willibrandon/devicealarm/internal/models"
)

func TestSubjects(t *testing.T) {
	device := uuid.MustParse("7f1b2c3d-0000-4000-8000-000000000001")
	param := uuid.MustParse("7f1b2c3d-0000-4000-8000-000000000002")
	alarm := uuid.MustParse("7f1b2c3d-0000-4000-8000-000000000003")

	assert.Equal(t, "plant.7f1b2c3d-0000-4000-8000-000000000001.7f1b2c3d-0000-4000-8000-000000000002.currentValue",
		ValueSubject("plant", device, param))
	assert.Equal(t, "plant.*.*.currentValue", AllValuesSubject("plant"))
	assert.Equal(t, "plant."+device.String()+".*.currentValue", DeviceValuesSubject("plant", device))
	assert.Equal(t, "plant."+device.String()+"."+param.String()+"."+alarm.String(),
		AlarmSubject("plant", device, param, alarm))
	assert.True(t, strings.HasSuffix(AckSubject("plant", device, param, alarm), alarm.String()+".Ack"))

	gotDevice, gotParam, err := ParseValueSubject(ValueSubject("plant", device, param))
	require.NoError(t, err)
	assert.Equal(t, device, gotDevice)
	assert.Equal(t, param, gotParam)
}

func TestParseValueSubject_Invalid(t *testing.T) {
	id := uuid.New().String()
	for _, subject := range []string{
		"plant.x.y.currentValue",
		"plant." + id + "." + id + ".other",
		"plant." + id + ".currentValue",
		"plant." + id + ".not-a-uuid.currentValue",
	} {
		_, _, err := ParseValueSubject(subject)
		assert.Error(t, err, subject)
	}
}

func TestParseValue(t *testing.T) {
	received := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sent := time.Date(2025, 3, 1, 11, 59, 58, 0, time.UTC)

	tests := []struct {
		name     string
		payload  string
		want     float64
		wantTime time.Time
		wantUnit string
		wantErr  bool
	}{
		{"json", `{"Value": 21.5, "Timestamp": "2025-03-01T11:59:58Z", "Unit": "C"}`, 21.5, sent, "C", false},
		{"json lowercase keys", `{"value": 3, "unit": "bar"}`, 3, received, "bar", false},
		{"bare float", " 42.25 ", 42.25, received, "", false},
		{"bare negative", "-7", -7, received, "", false},
		{"json without value", `{"Unit": "C"}`, 0, time.Time{}, "", true},
		{"broken json", `{"Value": `, 0, time.Time{}, "", true},
		{"text", "hot", 0, time.Time{}, "", true},
		{"empty", "   ", 0, time.Time{}, "", true},
		{"nan", "NaN", 0, time.Time{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseValue([]byte(tt.payload), received)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *msg.Value)
			assert.True(t, tt.wantTime.Equal(msg.Timestamp), "timestamp %v", msg.Timestamp)
			assert.Equal(t, tt.wantUnit, msg.Unit)
		})
	}
}

func TestNewAlarmMessage_Fields(t *testing.T) {
	rule := &models.Rule{ID: uuid.New(), Name: "high-pressure", Severity: models.SeverityHigh, Priority: 2,
		RecommendedAction: "Open relief valve"}
	param := &models.Parameter{ID: uuid.New(), DeviceID: uuid.New(), Name: "Pressure", CurrentValue: 9.5}
	action := alerts.Action{Kind: alerts.ActionCreate, Alarm: alerts.NewAlarm(rule, param, time.Now()), Value: 9.5}

	event := alerts.NewEvent(action, rule, param, time.Now())
	data, err := json.Marshal(NewAlarmMessage(event))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"AlarmId", "RuleId", "AlarmName", "Severity", "Priority", "CurrentValue",
		"TriggeredAt", "Message", "RecommendedAction", "IsActive"} {
		assert.Contains(t, decoded, key)
	}
	assert.Equal(t, "high-pressure", decoded["AlarmName"])
	assert.Equal(t, "High", decoded["Severity"])
	assert.Equal(t, true, decoded["IsActive"])
}

type memSink struct {
	mu      sync.Mutex
	known   map[uuid.UUID]bool
	values  map[uuid.UUID]float64
	samples []metrics.DataPoint
	err     error
}

func (m *memSink) UpdateParameterValue(_ context.Context, _, parameterID uuid.UUID, value float64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if !m.known[parameterID] {
		return alerts.ErrParameterNotFound
	}
	m.values[parameterID] = value
	return nil
}

func (m *memSink) SaveSample(_ context.Context, _ uuid.UUID, dp metrics.DataPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, dp)
	return nil
}

func TestSubscriber_Handle(t *testing.T) {
	device, param := uuid.New(), uuid.New()
	sink := &memSink{known: map[uuid.UUID]bool{param: true}, values: map[uuid.UUID]float64{}}
	sub := NewSubscriber(nil, "plant", sink, sink, nil)
	ctx := context.Background()

	sub.handle(ctx, ValueSubject("plant", device, param), []byte(`{"Value": 12.5}`))
	assert.Equal(t, 12.5, sink.values[param])
	require.Len(t, sink.samples, 1)
	assert.Equal(t, 12.5, sink.samples[0].Value)

	sub.handle(ctx, ValueSubject("plant", device, param), []byte("13"))
	assert.Equal(t, 13.0, sink.values[param])

	// Dropped: bad subject, bad payload, unknown parameter.
	sub.handle(ctx, "plant.a.b.currentValue", []byte("1"))
	sub.handle(ctx, ValueSubject("plant", device, param), []byte("warm"))
	sub.handle(ctx, ValueSubject("plant", device, uuid.New()), []byte("1"))
	assert.Equal(t, 13.0, sink.values[param])
	assert.Len(t, sink.samples, 2)

	sink.err = errors.New("disk full")
	sub.handle(ctx, ValueSubject("plant", device, param), []byte("99"))
	assert.Equal(t, 13.0, sink.values[param])
	assert.Len(t, sink.samples, 2, "no sample recorded when the value write fails")
}
