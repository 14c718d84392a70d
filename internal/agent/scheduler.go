package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/logger"
	"github.com/willibrandon/devicealarm/internal/metrics"
	"github.com/willibrandon/devicealarm/internal/models"
)

// DefaultEvaluationInterval is used when the scheduler is given no interval.
const DefaultEvaluationInterval = 10 * time.Second

// CycleStore is the part of the store an evaluation cycle touches.
type CycleStore interface {
	alerts.AlarmWriter
	ListParametersWithRulesAndDevice(ctx context.Context) ([]models.Parameter, error)
	FindActiveAlarm(ctx context.Context, ruleID, parameterID uuid.UUID) (*models.Alarm, error)
}

// Notifier receives applied alarm transitions.
type Notifier interface {
	Notify(e *alerts.Event) error
}

// CycleReport summarizes one evaluation cycle.
type CycleReport struct {
	Started    time.Time
	Duration   time.Duration
	Parameters int

	// Evaluated counts rule and parameter pairs that reached the evaluator.
	Evaluated int

	// Skipped counts pairs on inhibited devices.
	Skipped int

	Created  int
	Cleared  int
	Failures int

	// Active is the number of pairs left with an ACTIVE alarm.
	Active int

	// Err is set when the cycle was aborted.
	Err error
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Interval between cycles (default: 10s).
	Interval time.Duration

	// RefreshInterval recompiles rules periodically. Zero disables it.
	RefreshInterval time.Duration
}

// Scheduler runs evaluation cycles over every device parameter and rule.
type Scheduler struct {
	config    SchedulerConfig
	store     CycleStore
	engine    *alerts.Engine
	notifiers []Notifier
	metrics   *metrics.Metrics
	cycles    *metrics.CycleTracker

	// OnCycle is called after every cycle started by the loop.
	OnCycle func(CycleReport)

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. m may be nil.
func NewScheduler(cfg SchedulerConfig, store CycleStore, engine *alerts.Engine, m *metrics.Metrics, notifiers ...Notifier) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultEvaluationInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:    cfg,
		store:     store,
		engine:    engine,
		notifiers: notifiers,
		metrics:   m,
		cycles:    metrics.NewCycleTracker(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Cycles returns the cycle duration tracker.
func (s *Scheduler) Cycles() *metrics.CycleTracker {
	return s.cycles
}

// Start runs one cycle immediately and then one per interval.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.evaluationLoop()

	if s.config.RefreshInterval > 0 {
		s.wg.Add(1)
		go s.refreshLoop()
	}

	logger.Info("Scheduler started",
		"interval", s.config.Interval,
		"refresh_interval", s.config.RefreshInterval)
}

// Stop cancels the loop and waits for the cycle in progress to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

func (s *Scheduler) evaluationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.runAndReport()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runAndReport()
		}
	}
}

func (s *Scheduler) runAndReport() {
	report := s.RunCycle(s.ctx)
	if s.OnCycle != nil {
		s.OnCycle(report)
	}
}

func (s *Scheduler) refreshLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshRules(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Periodic rule refresh failed", "error", err)
			}
		}
	}
}

// RefreshRules recompiles every rule into a new snapshot.
func (s *Scheduler) RefreshRules(ctx context.Context) error {
	snap, err := s.engine.Refresh(ctx)
	if err != nil {
		s.metrics.ObserveError("transport")
		return err
	}
	s.metrics.ObserveSnapshot(snap.Version(), snap.Len(), snap.Failed())
	return nil
}

// RunCycle evaluates every rule of every parameter once. Cancelling ctx
// stops the cycle between pairs; a pair already being reconciled finishes
// its writes.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{Started: s.now()}
	defer func() {
		report.Duration = s.now().Sub(report.Started)
		s.cycles.Add(report.Duration)
		s.metrics.ObserveCycle(report.Duration, report.Active)
	}()

	params, err := s.store.ListParametersWithRulesAndDevice(ctx)
	if err != nil {
		report.Err = &alerts.TransportError{Op: "list parameters", Err: err}
		s.metrics.ObserveError("transport")
		logger.Error("Evaluation cycle aborted", "error", report.Err)
		return report
	}
	report.Parameters = len(params)

	writeCtx := context.WithoutCancel(ctx)

	for i := range params {
		param := params[i]

		if param.Device != nil && param.Device.Inhibit {
			report.Skipped += len(param.Rules)
			logger.Debug("Skipping inhibited device",
				"device_id", param.DeviceID,
				"parameter_id", param.ID,
				"rules", len(param.Rules))
			continue
		}

		for j := range param.Rules {
			if err := ctx.Err(); err != nil {
				report.Err = err
				logger.Info("Evaluation cycle interrupted", "parameter_id", param.ID)
				return report
			}

			rule := param.Rules[j]
			if err := s.processPair(writeCtx, &rule, &param, &report); err != nil {
				report.Failures++
				s.logFailure(err, &rule, &param)
				if alerts.IsTransport(err) {
					report.Err = err
					logger.Error("Evaluation cycle aborted", "error", err)
					return report
				}
			}
		}
	}

	logger.Debug("Evaluation cycle complete",
		"parameters", report.Parameters,
		"evaluated", report.Evaluated,
		"skipped", report.Skipped,
		"created", report.Created,
		"cleared", report.Cleared,
		"failures", report.Failures)
	return report
}

// processPair reconciles one rule against one parameter. A panic is
// recovered and returned as an error.
func (s *Scheduler) processPair(ctx context.Context, rule *models.Rule, param *models.Parameter, report *CycleReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ObserveError("panic")
			err = fmt.Errorf("panic evaluating rule %s: %v", rule.ID, r)
		}
	}()

	existing, err := s.store.FindActiveAlarm(ctx, rule.ID, param.ID)
	if err != nil {
		s.metrics.ObserveError("transport")
		return &alerts.TransportError{Op: "find active alarm", Err: err}
	}
	if existing != nil {
		report.Active++
	}

	report.Evaluated++
	verdict, err := s.engine.Evaluate(ctx, rule, param)
	if err != nil {
		s.metrics.ObserveEvaluation("error")
		s.metrics.ObserveError(errorKind(err))
		return err
	}
	if verdict.Triggered {
		s.metrics.ObserveEvaluation("triggered")
	} else {
		s.metrics.ObserveEvaluation("clear")
	}

	action := alerts.Reconcile(alerts.ReconcileInput{
		Rule:      rule,
		Parameter: param,
		Device:    param.Device,
		Triggered: verdict.Triggered,
		Existing:  existing,
		Now:       s.now(),
	})
	if action.Kind == alerts.ActionNoOp {
		return nil
	}

	if err := alerts.Apply(ctx, s.store, action); err != nil {
		s.metrics.ObserveError(errorKind(err))
		return err
	}
	s.metrics.ObserveAction(action.Kind.String())

	switch action.Kind {
	case alerts.ActionCreate:
		report.Created++
		report.Active++
		logger.Info("Alarm raised",
			"alarm_id", action.Alarm.ID,
			"rule", rule.DisplayName(),
			"parameter", param.Name,
			"value", action.Value,
			"severity", action.Alarm.Severity.String())
	case alerts.ActionReturnToNormal:
		report.Cleared++
		report.Active--
		logger.Info("Alarm returned to normal",
			"alarm_id", action.Alarm.ID,
			"rule", rule.DisplayName(),
			"parameter", param.Name,
			"value", action.Value)
	}

	s.notify(alerts.NewEvent(action, rule, param, s.now()))
	return nil
}

func (s *Scheduler) notify(event *alerts.Event) {
	if event == nil {
		return
	}
	for _, n := range s.notifiers {
		if err := n.Notify(event); err != nil {
			s.metrics.ObserveError("notify")
			logger.Warn("Alarm notification failed",
				"alarm_id", event.Alarm.ID,
				"event", string(event.Kind),
				"error", err)
		}
	}
}

func (s *Scheduler) logFailure(err error, rule *models.Rule, param *models.Parameter) {
	attrs := []any{
		"rule_id", rule.ID,
		"parameter_id", param.ID,
		"device_id", param.DeviceID,
		"error", err,
	}

	var conflict *alerts.PersistenceConflict
	if errors.As(err, &conflict) {
		attrs = append(attrs, "missing", conflict.MissingReferences())
		logger.Error("Alarm write rejected", attrs...)
		return
	}

	var missing *alerts.MissingBindingError
	if errors.As(err, &missing) {
		logger.Warn("Rule references unbound parameters", append(attrs, "missing", missing.Missing)...)
		return
	}

	var compile *alerts.CompilationError
	if errors.As(err, &compile) {
		logger.Debug("Skipping rule that does not compile", attrs...)
		return
	}

	logger.Error("Rule evaluation failed", attrs...)
}

// errorKind labels err for the errors metric.
func errorKind(err error) string {
	var (
		compile  *alerts.CompilationError
		missing  *alerts.MissingBindingError
		conflict *alerts.PersistenceConflict
	)
	switch {
	case errors.As(err, &compile):
		return "compile"
	case errors.As(err, &missing):
		return "binding"
	case errors.As(err, &conflict):
		return "persistence"
	case alerts.IsTransport(err):
		return "transport"
	default:
		return "evaluate"
	}
}
