package feed

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/willibrandon/devicealarm/internal/config"
	"github.com/willibrandon/devicealarm/internal/logger"
)

// Connect dials the NATS server described by cfg. Disconnects and
// reconnects are logged; the client keeps reconnecting up to
// cfg.MaxReconnects times (forever when negative).
func Connect(cfg config.FeedConfig, name string) (*nats.Conn, error) {
	reconnectWait := cfg.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.PingInterval(30 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Feed disconnected", "error", err)
			} else {
				logger.Info("Feed disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Feed reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug("Feed connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("Feed error", "subject", subject, "error", err)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	logger.Info("Feed connected", "url", cfg.URL, "solution", cfg.SolutionID)
	return nc, nil
}
