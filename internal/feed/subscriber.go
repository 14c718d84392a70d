package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/logger"
	"github.com/willibrandon/devicealarm/internal/metrics"
)

// ValueSink stores the latest value of a parameter.
type ValueSink interface {
	UpdateParameterValue(ctx context.Context, deviceID, parameterID uuid.UUID, value float64, at time.Time) error
}

// SampleSink keeps the history of received values.
type SampleSink interface {
	SaveSample(ctx context.Context, parameterID uuid.UUID, dp metrics.DataPoint) error
}

// Subscriber receives parameter values for one solution and writes them to
// a ValueSink.
type Subscriber struct {
	conn     *nats.Conn
	solution string
	values   ValueSink
	samples  SampleSink
	metrics  *metrics.Metrics

	// now is replaced in tests.
	now func() time.Time

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewSubscriber creates a subscriber. samples and m may be nil.
func NewSubscriber(conn *nats.Conn, solution string, values ValueSink, samples SampleSink, m *metrics.Metrics) *Subscriber {
	return &Subscriber{
		conn:     conn,
		solution: solution,
		values:   values,
		samples:  samples,
		metrics:  m,
		now:      time.Now,
	}
}

// Start subscribes to every value subject of the solution. Messages are
// handled until ctx is cancelled or Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return fmt.Errorf("subscriber already started")
	}

	subject := AllValuesSubject(s.solution)
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		s.handle(ctx, msg.Subject, msg.Data)
	})
	if err != nil {
		return &alerts.TransportError{Op: "subscribe " + subject, Err: err}
	}
	s.sub = sub

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logger.Info("Subscribed to parameter values", "subject", subject)
	return nil
}

// Stop drains the subscription.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return
	}
	if err := s.sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		logger.Warn("Failed to drain value subscription", "error", err)
	}
	s.sub = nil
}

// handle processes one message. Unparseable subjects and payloads are
// logged and dropped.
func (s *Subscriber) handle(ctx context.Context, subject string, data []byte) {
	deviceID, parameterID, err := ParseValueSubject(subject)
	if err != nil {
		logger.Warn("Dropping message with unparseable subject", "subject", subject, "error", err)
		s.metrics.ObserveValue("bad_subject")
		return
	}

	msg, err := ParseValue(data, s.now())
	if err != nil {
		logger.Warn("Dropping unparseable value",
			"device_id", deviceID, "parameter_id", parameterID, "payload", string(data), "error", err)
		s.metrics.ObserveValue("bad_payload")
		return
	}

	value := *msg.Value
	if err := s.values.UpdateParameterValue(ctx, deviceID, parameterID, value, msg.Timestamp); err != nil {
		if errors.Is(err, alerts.ErrParameterNotFound) {
			logger.Debug("Value for unknown parameter", "device_id", deviceID, "parameter_id", parameterID)
			s.metrics.ObserveValue("unknown_parameter")
			return
		}
		logger.Error("Failed to store parameter value",
			"device_id", deviceID, "parameter_id", parameterID, "error", err)
		s.metrics.ObserveValue("error")
		return
	}

	if s.samples != nil {
		if err := s.samples.SaveSample(ctx, parameterID, metrics.NewDataPointAt(msg.Timestamp, value)); err != nil {
			logger.Warn("Failed to record sample", "parameter_id", parameterID, "error", err)
		}
	}

	logger.Debug("Updated parameter value",
		"device_id", deviceID, "parameter_id", parameterID, "value", value, "unit", msg.Unit)
	s.metrics.ObserveValue("ok")
}
