// Package agent runs the device alarm evaluation daemon: the evaluation
// scheduler, the live-value feed, notifications, retention and status.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/config"
	"github.com/willibrandon/devicealarm/internal/feed"
	"github.com/willibrandon/devicealarm/internal/logger"
	"github.com/willibrandon/devicealarm/internal/metrics"
	"github.com/willibrandon/devicealarm/internal/storage"
)

// Version is set by ldflags during build
var Version = "dev"

// Agent is the alarm-agent daemon.
type Agent struct {
	config *config.Config

	store      storage.Store
	engine     *alerts.Engine
	metrics    *metrics.Metrics
	scheduler  *Scheduler
	retention  *RetentionManager
	status     *StatusTracker
	webhook    *WebhookDelivery
	feedConn   *nats.Conn
	subscriber *feed.Subscriber

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	pidFile  string
	started  time.Time
}

// New creates an agent for cfg. Nothing is opened until Start or RunOnce.
func New(cfg *config.Config) (*Agent, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
		pidFile: DefaultPIDFilePath(),
	}, nil
}

// SetPIDFile overrides the PID file path.
func (a *Agent) SetPIDFile(path string) {
	a.pidFile = path
}

// open builds every component without starting any loop.
func (a *Agent) open() error {
	a.started = time.Now()

	store, err := storage.Open(a.ctx, a.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store

	if a.config.Metrics.Enabled {
		a.metrics = metrics.New(prometheus.NewRegistry())
	}

	a.engine = alerts.NewEngine(store)

	var notifiers []Notifier
	if a.config.Feed.Enabled {
		conn, err := feed.Connect(a.config.Feed, "alarm-agent")
		if err != nil {
			return err
		}
		a.feedConn = conn
		if a.config.Feed.PublishAlarms {
			notifiers = append(notifiers, feed.NewPublisher(conn, a.config.Feed.SolutionID, a.metrics))
		}
	}
	if url := a.config.Alarms.WebhookURL; url != "" {
		cfg := DefaultWebhookConfig()
		cfg.URL = url
		a.webhook = NewWebhookDelivery(cfg)
		notifiers = append(notifiers, a.webhook)
	}

	a.scheduler = NewScheduler(SchedulerConfig{
		Interval:        a.config.Evaluation.Interval,
		RefreshInterval: a.config.Evaluation.RefreshInterval,
	}, store, a.engine, a.metrics, notifiers...)

	a.status = NewStatusTracker(store, a.scheduler.Cycles(), a.started)
	a.scheduler.OnCycle = a.recordCycle

	a.retention = NewRetentionManager(store, RetentionConfig{
		AlarmHistory: a.config.Alarms.HistoryRetention,
		Samples:      a.config.Alarms.SampleRetention,
	})

	if err := a.scheduler.RefreshRules(a.ctx); err != nil {
		logger.Error("Initial rule compilation failed, retrying on first cycle", "error", err)
	}
	return nil
}

// Start opens the store and starts the scheduler, feed, retention and
// metrics endpoint. It returns once everything is running.
func (a *Agent) Start() error {
	logger.Info("Starting alarm-agent", "version", Version, "pid", os.Getpid())

	if err := WritePIDFile(a.pidFile); err != nil {
		return err
	}

	if err := a.open(); err != nil {
		a.closeResources()
		_ = RemovePIDFile(a.pidFile)
		return err
	}

	if err := a.status.Save(a.ctx); err != nil {
		logger.Warn("Failed to write agent status", "error", err)
	}

	if a.metrics != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := metrics.Serve(a.ctx, a.config.Metrics.Listen, a.metrics.Registry()); err != nil {
				logger.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	if a.webhook != nil {
		a.webhook.Start()
	}

	if a.feedConn != nil {
		var samples feed.SampleSink
		if a.config.Feed.RecordSamples {
			samples = a.store
		}
		a.subscriber = feed.NewSubscriber(a.feedConn, a.config.Feed.SolutionID, a.store, samples, a.metrics)
		if err := a.subscriber.Start(a.ctx); err != nil {
			a.Stop()
			return err
		}
	}

	a.retention.Start()
	a.scheduler.Start()

	a.wg.Add(1)
	go a.handleReload()

	logger.Info("Agent started",
		"driver", a.config.Storage.Driver,
		"interval", a.config.Evaluation.Interval,
		"feed", a.config.Feed.Enabled,
		"metrics", a.config.Metrics.Enabled)
	return nil
}

// handleReload recompiles rules on SIGHUP.
func (a *Agent) handleReload() {
	defer a.wg.Done()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-hup:
			logger.Info("Received SIGHUP, recompiling rules")
			if err := a.Refresh(a.ctx); err != nil {
				logger.Error("Rule refresh failed", "error", err)
			}
		}
	}
}

// Refresh recompiles every rule.
func (a *Agent) Refresh(ctx context.Context) error {
	if a.scheduler == nil {
		return errors.New("agent not started")
	}
	return a.scheduler.RefreshRules(ctx)
}

func (a *Agent) recordCycle(report CycleReport) {
	if msg := logger.LastError(); msg != "" {
		a.status.SetLastError(msg)
	}
	if err := a.status.Record(context.WithoutCancel(a.ctx), report); err != nil {
		logger.Warn("Failed to update agent status", "error", err)
	}
}

// RunOnce opens the store, runs one evaluation cycle and closes everything.
func (a *Agent) RunOnce(ctx context.Context) (CycleReport, error) {
	if err := a.open(); err != nil {
		a.closeResources()
		return CycleReport{}, err
	}
	defer a.closeResources()

	if a.webhook != nil {
		a.webhook.Start()
	}

	report := a.scheduler.RunCycle(ctx)
	if a.feedConn != nil {
		if err := a.feedConn.Flush(); err != nil {
			logger.Warn("Failed to flush feed", "error", err)
		}
	}
	return report, report.Err
}

// Stop shuts the agent down, waiting up to five seconds for in-flight work.
func (a *Agent) Stop() error {
	a.stopOnce.Do(func() {
		logger.Info("Stopping alarm-agent")
		a.cancel()

		done := make(chan struct{})
		go func() {
			if a.scheduler != nil {
				a.scheduler.Stop()
			}
			if a.retention != nil {
				a.retention.Stop()
			}
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn("Shutdown timeout, forcing exit")
		}

		if a.subscriber != nil {
			a.subscriber.Stop()
		}

		// A missing status row marks a clean shutdown.
		if a.status != nil {
			if err := a.status.Clear(context.Background()); err != nil {
				logger.Warn("Failed to clear agent status", "error", err)
			}
		}

		a.closeResources()

		if err := RemovePIDFile(a.pidFile); err != nil {
			logger.Warn("Failed to remove PID file", "error", err)
		}
		logger.Info("Agent stopped")
	})
	return nil
}

// closeResources releases the webhook, feed connection and store.
func (a *Agent) closeResources() {
	if a.webhook != nil {
		a.webhook.Stop()
	}
	if a.feedConn != nil {
		if err := a.feedConn.Drain(); err != nil {
			a.feedConn.Close()
		}
		a.feedConn = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
		a.store = nil
	}
}

// Wait blocks until the agent is stopped.
func (a *Agent) Wait() {
	<-a.ctx.Done()
}

// Context returns the agent's context.
func (a *Agent) Context() context.Context {
	return a.ctx
}

// Config returns the agent's configuration.
func (a *Agent) Config() *config.Config {
	return a.config
}
