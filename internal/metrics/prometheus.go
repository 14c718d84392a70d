package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/willibrandon/devicealarm/internal/logger"
)

const namespace = "devicealarm"

// Metrics holds the agent's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	evaluations     *prometheus.CounterVec
	actions         *prometheus.CounterVec
	errors          *prometheus.CounterVec
	activeAlarms    prometheus.Gauge
	compiledRules   prometheus.Gauge
	failedRules     prometheus.Gauge
	snapshotVersion prometheus.Gauge
	valuesReceived  *prometheus.CounterVec
	published       *prometheus.CounterVec
}

// New creates and registers the agent metrics on registry. A nil registry
// returns nil metrics.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		registry: registry,

		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Completed evaluation cycles",
		}),

		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one evaluation cycle",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),

		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "evaluations_total",
			Help:      "Rule evaluations by result",
		}, []string{"result"}),

		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alarms",
			Name:      "actions_total",
			Help:      "Alarm lifecycle actions applied",
		}, []string{"action"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "errors_total",
			Help:      "Errors by kind",
		}, []string{"kind"}),

		activeAlarms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alarms",
			Name:      "active",
			Help:      "Alarms currently ACTIVE after the last cycle",
		}),

		compiledRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "compiled",
			Help:      "Rules in the current snapshot",
		}),

		failedRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "invalid",
			Help:      "Rules in the current snapshot that failed to compile",
		}),

		snapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "snapshot_version",
			Help:      "Version of the current rule snapshot",
		}),

		valuesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "values_received_total",
			Help:      "Parameter values received from the feed by result",
		}, []string{"result"}),

		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "alarms_published_total",
			Help:      "Alarm notifications published by event kind",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.evaluations,
		m.actions,
		m.errors,
		m.activeAlarms,
		m.compiledRules,
		m.failedRules,
		m.snapshotVersion,
		m.valuesReceived,
		m.published,
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCycle records one completed cycle.
func (m *Metrics) ObserveCycle(d time.Duration, active int) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.activeAlarms.Set(float64(active))
}

// ObserveEvaluation counts a rule evaluation. result is one of
// "triggered", "clear" or "error".
func (m *Metrics) ObserveEvaluation(result string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(result).Inc()
}

// ObserveAction counts an applied lifecycle action.
func (m *Metrics) ObserveAction(action string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action).Inc()
}

// ObserveError counts an error of the given kind.
func (m *Metrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// ObserveSnapshot records the shape of a freshly built rule snapshot.
func (m *Metrics) ObserveSnapshot(version uint64, compiled, failed int) {
	if m == nil {
		return
	}
	m.snapshotVersion.Set(float64(version))
	m.compiledRules.Set(float64(compiled))
	m.failedRules.Set(float64(failed))
}

// ObserveValue counts a value received from the feed.
func (m *Metrics) ObserveValue(result string) {
	if m == nil {
		return
	}
	m.valuesReceived.WithLabelValues(result).Inc()
}

// ObservePublish counts an alarm notification sent.
func (m *Metrics) ObservePublish(event string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(event).Inc()
}

// Serve exposes the registry on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
