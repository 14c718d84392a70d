package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/logger"
)

// ErrWebhookQueueFull is returned by Notify when the delivery queue is full.
var ErrWebhookQueueFull = errors.New("webhook queue full")

// errNotRetryable marks a response that retrying cannot fix.
var errNotRetryable = errors.New("not retryable")

// WebhookConfig holds configuration for webhook delivery.
type WebhookConfig struct {
	// URL is the webhook endpoint.
	URL string

	// MaxRetries is the maximum number of retry attempts (default: 3).
	MaxRetries int

	// InitialBackoff is the initial backoff duration (default: 1s).
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration (default: 30s).
	MaxBackoff time.Duration

	// Timeout is the HTTP request timeout (default: 10s).
	Timeout time.Duration

	// QueueSize bounds the pending deliveries (default: 100).
	QueueSize int
}

// DefaultWebhookConfig returns sensible defaults.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Timeout:        10 * time.Second,
		QueueSize:      100,
	}
}

// WebhookPayload is the JSON payload sent to the webhook endpoint.
type WebhookPayload struct {
	// Event is alarm_raised, alarm_cleared or alarm_acknowledged.
	Event string `json:"event"`

	Alarm WebhookAlarm `json:"alarm"`

	// Timestamp is when the webhook was generated.
	Timestamp time.Time `json:"timestamp"`

	Agent WebhookAgent `json:"agent"`
}

// WebhookAlarm contains alarm details.
type WebhookAlarm struct {
	ID                uuid.UUID `json:"id"`
	Rule              string    `json:"rule"`
	RuleID            uuid.UUID `json:"rule_id"`
	Parameter         string    `json:"parameter"`
	ParameterID       uuid.UUID `json:"parameter_id"`
	Device            string    `json:"device,omitempty"`
	DeviceID          uuid.UUID `json:"device_id"`
	State             string    `json:"state"`
	PreviousState     string    `json:"previous_state,omitempty"`
	Severity          string    `json:"severity"`
	Priority          int       `json:"priority"`
	Value             float64   `json:"value"`
	TriggeredAt       time.Time `json:"triggered_at"`
	Message           string    `json:"message,omitempty"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
}

// WebhookAgent contains agent metadata.
type WebhookAgent struct {
	Version  string `json:"version"`
	Hostname string `json:"hostname,omitempty"`
}

// NewWebhookPayload creates a webhook payload from an alarm event.
func NewWebhookPayload(e *alerts.Event) WebhookPayload {
	hostname, _ := os.Hostname()
	a := e.Alarm

	alarm := WebhookAlarm{
		ID:                a.ID,
		Rule:              e.RuleName,
		RuleID:            a.RuleID,
		Parameter:         e.ParameterName,
		ParameterID:       a.ParameterID,
		Device:            e.DeviceName,
		DeviceID:          a.DeviceID,
		State:             a.State.String(),
		Severity:          a.Severity.String(),
		Priority:          a.Priority,
		Value:             e.Value,
		TriggeredAt:       a.TriggeredAt,
		Message:           a.Message,
		RecommendedAction: a.RecommendedAction,
	}
	if e.PrevState != "" {
		alarm.PreviousState = e.PrevState.String()
	}

	return WebhookPayload{
		Event:     "alarm_" + string(e.Kind),
		Alarm:     alarm,
		Timestamp: time.Now().UTC(),
		Agent: WebhookAgent{
			Version:  Version,
			Hostname: hostname,
		},
	}
}

// WebhookDelivery posts alarm events to an HTTP endpoint in the background.
type WebhookDelivery struct {
	config WebhookConfig
	client *http.Client

	queue chan WebhookPayload
	wg    sync.WaitGroup
	once  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWebhookDelivery creates a new webhook delivery handler.
func NewWebhookDelivery(config WebhookConfig) *WebhookDelivery {
	defaults := DefaultWebhookConfig()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WebhookDelivery{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		queue:  make(chan WebhookPayload, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the webhook delivery worker.
func (wd *WebhookDelivery) Start() {
	wd.wg.Add(1)
	go wd.deliveryWorker()
}

// Stop delivers what is already queued, without retries, and waits for the
// worker to exit.
func (wd *WebhookDelivery) Stop() {
	wd.once.Do(func() {
		wd.cancel()
		wd.wg.Wait()
	})
}

// Notify queues an alarm event for delivery.
func (wd *WebhookDelivery) Notify(e *alerts.Event) error {
	if e == nil {
		return nil
	}
	payload := NewWebhookPayload(e)

	select {
	case wd.queue <- payload:
		logger.Debug("Webhook queued", "event", payload.Event, "alarm_id", payload.Alarm.ID)
		return nil
	default:
		logger.Warn("Webhook queue full, dropping", "event", payload.Event, "alarm_id", payload.Alarm.ID)
		return ErrWebhookQueueFull
	}
}

func (wd *WebhookDelivery) deliveryWorker() {
	defer wd.wg.Done()

	for {
		select {
		case <-wd.ctx.Done():
			for {
				select {
				case payload := <-wd.queue:
					if err := wd.deliver(context.Background(), payload); err != nil {
						logger.Warn("Webhook dropped on shutdown", "event", payload.Event, "error", err)
					}
				default:
					return
				}
			}
		case payload := <-wd.queue:
			if err := wd.deliverWithRetry(payload); err != nil {
				logger.Error("Webhook delivery failed",
					"event", payload.Event,
					"alarm_id", payload.Alarm.ID,
					"error", err)
			}
		}
	}
}

// deliverWithRetry attempts to deliver with exponential backoff.
func (wd *WebhookDelivery) deliverWithRetry(payload WebhookPayload) error {
	var lastErr error

	for attempt := 0; attempt <= wd.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := wd.calculateBackoff(attempt)
			logger.Debug("Webhook retry", "attempt", attempt, "max", wd.config.MaxRetries, "backoff", backoff)

			select {
			case <-wd.ctx.Done():
				return wd.ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := wd.deliver(wd.ctx, payload)
		if err == nil {
			if attempt > 0 {
				logger.Info("Webhook delivered after retry", "attempt", attempt+1, "alarm_id", payload.Alarm.ID)
			}
			return nil
		}
		if errors.Is(err, errNotRetryable) {
			return err
		}

		lastErr = err
		logger.Debug("Webhook attempt failed", "attempt", attempt+1, "error", err)
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns initialBackoff * 2^(attempt-1), capped at MaxBackoff.
func (wd *WebhookDelivery) calculateBackoff(attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(float64(wd.config.InitialBackoff) * multiplier)

	if backoff > wd.config.MaxBackoff {
		backoff = wd.config.MaxBackoff
	}
	return backoff
}

func (wd *WebhookDelivery) deliver(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wd.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "alarm-agent/"+Version)

	resp, err := wd.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return fmt.Errorf("HTTP %d: %s: %w", resp.StatusCode, string(respBody), errNotRetryable)
}
