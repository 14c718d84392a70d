package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/models"
)

func raisedEvent() *alerts.Event {
	rule := &models.Rule{ID: uuid.New(), Name: "high-pressure", Severity: models.SeverityCritical, Priority: 1}
	param := &models.Parameter{ID: uuid.New(), DeviceID: uuid.New(), Name: "Pressure", CurrentValue: 12.5,
		Device: &models.Device{Name: "Pump-1"}}
	action := alerts.Action{Kind: alerts.ActionCreate, Alarm: alerts.NewAlarm(rule, param, time.Now()), Value: 12.5}
	return alerts.NewEvent(action, rule, param, time.Now())
}

func TestNewWebhookPayload(t *testing.T) {
	e := raisedEvent()
	p := NewWebhookPayload(e)

	if p.Event != "alarm_raised" {
		t.Errorf("Event = %q, want alarm_raised", p.Event)
	}
	if p.Alarm.ID != e.Alarm.ID || p.Alarm.Rule != "high-pressure" || p.Alarm.Device != "Pump-1" {
		t.Errorf("Alarm = %+v", p.Alarm)
	}
	if p.Alarm.State != "ACTIVE" || p.Alarm.Severity != "Critical" {
		t.Errorf("State/Severity = %s/%s", p.Alarm.State, p.Alarm.Severity)
	}
	if p.Alarm.PreviousState != "" {
		t.Errorf("PreviousState = %q, want empty for a raised alarm", p.Alarm.PreviousState)
	}
	if p.Agent.Version != Version {
		t.Errorf("Agent.Version = %q", p.Agent.Version)
	}
}

func TestCalculateBackoff(t *testing.T) {
	wd := NewWebhookDelivery(WebhookConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := wd.calculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWebhookDelivery_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	received := make(chan WebhookPayload, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var p WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wd := NewWebhookDelivery(WebhookConfig{
		URL:            srv.URL,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})
	wd.Start()
	defer wd.Stop()

	e := raisedEvent()
	if err := wd.Notify(e); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	select {
	case p := <-received:
		if p.Alarm.ID != e.Alarm.ID {
			t.Errorf("delivered alarm %s, want %s", p.Alarm.ID, e.Alarm.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestWebhookDelivery_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wd := NewWebhookDelivery(WebhookConfig{
		URL:            srv.URL,
		InitialBackoff: time.Millisecond,
	})

	err := wd.deliverWithRetry(NewWebhookPayload(raisedEvent()))
	if err == nil {
		t.Fatal("deliverWithRetry() expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestWebhookDelivery_QueueFull(t *testing.T) {
	wd := NewWebhookDelivery(WebhookConfig{URL: "http://127.0.0.1:1", QueueSize: 1})

	if err := wd.Notify(raisedEvent()); err != nil {
		t.Fatalf("first Notify() error = %v", err)
	}
	if err := wd.Notify(raisedEvent()); err != ErrWebhookQueueFull {
		t.Errorf("second Notify() error = %v, want ErrWebhookQueueFull", err)
	}
	if err := wd.Notify(nil); err != nil {
		t.Errorf("Notify(nil) error = %v", err)
	}
}
