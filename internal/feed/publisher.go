package feed

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/logger"
	"github.com/willibrandon/devicealarm/internal/metrics"
	"github.com/willibrandon/devicealarm/internal/models"
)

// Publisher sends alarm transitions to the feed.
type Publisher struct {
	conn     *nats.Conn
	solution string
	metrics  *metrics.Metrics
}

// NewPublisher creates a publisher for one solution. m may be nil.
func NewPublisher(conn *nats.Conn, solution string, m *metrics.Metrics) *Publisher {
	return &Publisher{conn: conn, solution: solution, metrics: m}
}

// Notify publishes a raised or cleared alarm. Acknowledgements go to the
// Ack subject.
func (p *Publisher) Notify(e *alerts.Event) error {
	if e == nil {
		return nil
	}
	if e.Kind == alerts.EventAcknowledged {
		return p.PublishAck(&e.Alarm)
	}

	a := e.Alarm
	subject := AlarmSubject(p.solution, a.DeviceID, a.ParameterID, a.ID)
	if err := p.publish(subject, NewAlarmMessage(e)); err != nil {
		return err
	}

	p.metrics.ObservePublish(string(e.Kind))
	logger.Debug("Published alarm", "subject", subject, "event", e.Kind)
	return nil
}

// PublishAck publishes an acknowledged alarm.
func (p *Publisher) PublishAck(a *models.Alarm) error {
	msg := AckMessage{
		AlarmID:        a.ID,
		AcknowledgedBy: a.AcknowledgedBy,
		State:          a.State.String(),
	}
	if a.AcknowledgedAt != nil {
		msg.AcknowledgedAt = *a.AcknowledgedAt
	}

	subject := AckSubject(p.solution, a.DeviceID, a.ParameterID, a.ID)
	if err := p.publish(subject, msg); err != nil {
		return err
	}

	p.metrics.ObservePublish(string(alerts.EventAcknowledged))
	logger.Debug("Published alarm acknowledgement", "subject", subject)
	return nil
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return &alerts.TransportError{Op: "publish " + subject, Err: err}
	}
	return nil
}
