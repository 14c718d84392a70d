package agent

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/willibrandon/devicealarm/internal/metrics"
	"github.com/willibrandon/devicealarm/internal/models"
)

// StatusStore persists the singleton agent status row.
type StatusStore interface {
	SaveStatus(ctx context.Context, status *models.AgentStatus) error
	GetStatus(ctx context.Context) (*models.AgentStatus, error)
	DeleteStatus(ctx context.Context) error
}

// StatusTracker accumulates cycle results into the agent status row.
type StatusTracker struct {
	store  StatusStore
	cycles *metrics.CycleTracker

	mu     sync.Mutex
	status models.AgentStatus
}

// NewStatusTracker creates a tracker for the current process.
func NewStatusTracker(store StatusStore, cycles *metrics.CycleTracker, started time.Time) *StatusTracker {
	return &StatusTracker{
		store:  store,
		cycles: cycles,
		status: models.AgentStatus{
			PID:       os.Getpid(),
			StartTime: started.UTC(),
			LastCycle: started.UTC(),
			Version:   Version,
		},
	}
}

// Record folds a cycle report into the status and saves it.
func (t *StatusTracker) Record(ctx context.Context, report CycleReport) error {
	return t.store.SaveStatus(ctx, t.apply(report))
}

func (t *StatusTracker) apply(report CycleReport) *models.AgentStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Cycles++
	t.status.LastCycle = report.Started.Add(report.Duration).UTC()
	t.status.ErrorCount += int64(report.Failures)
	if report.Err != nil {
		if report.Failures == 0 {
			t.status.ErrorCount++
		}
		t.status.LastError = report.Err.Error()
	}
	if t.cycles != nil {
		t.status.AvgCycleMillis = t.cycles.AverageMillis()
	}

	snapshot := t.status
	return &snapshot
}

// SetLastError records an error that did not abort a cycle.
func (t *StatusTracker) SetLastError(msg string) {
	if msg == "" {
		return
	}
	t.mu.Lock()
	t.status.LastError = msg
	t.mu.Unlock()
}

// Save writes the current status without recording a cycle.
func (t *StatusTracker) Save(ctx context.Context) error {
	t.mu.Lock()
	snapshot := t.status
	t.mu.Unlock()
	return t.store.SaveStatus(ctx, &snapshot)
}

// Clear deletes the status row. A missing row after shutdown marks a clean
// stop.
func (t *StatusTracker) Clear(ctx context.Context) error {
	return t.store.DeleteStatus(ctx)
}

// IsHealthy reports whether status shows a cycle within maxStaleness of now.
func IsHealthy(status *models.AgentStatus, maxStaleness time.Duration, now time.Time) bool {
	if status == nil {
		return false
	}
	return now.Sub(status.LastCycle) <= maxStaleness
}
