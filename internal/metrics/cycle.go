package metrics

import (
	"sync"
	"time"

	"github.com/VividCortex/ewma"
)

// CycleTracker keeps a moving average of cycle durations for the status
// report.
type CycleTracker struct {
	mu   sync.Mutex
	avg  ewma.MovingAverage
	last time.Duration
	n    int64
}

// NewCycleTracker creates a tracker averaging over roughly the last 30 cycles.
func NewCycleTracker() *CycleTracker {
	return &CycleTracker{avg: ewma.NewMovingAverage(30)}
}

// Add records one cycle duration.
func (t *CycleTracker) Add(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.avg.Add(float64(d) / float64(time.Millisecond))
	t.last = d
	t.n++
}

// AverageMillis returns the moving average in milliseconds, or the last
// duration while the average still reads zero.
func (t *CycleTracker) AverageMillis() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v := t.avg.Value(); v != 0 {
		return v
	}
	if t.n == 0 {
		return 0
	}
	return float64(t.last) / float64(time.Millisecond)
}

// Count returns how many cycles were recorded.
func (t *CycleTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}
