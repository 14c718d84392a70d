package agent

import (
	"context"
	"sync"
	"time"

	"github.com/willibrandon/devicealarm/internal/logger"
)

// Pruner deletes history older than a cutoff.
type Pruner interface {
	// PruneAlarms deletes RTN and ACKRTN alarms triggered before cutoff.
	PruneAlarms(ctx context.Context, cutoff time.Time) (int64, error)
	PruneSamples(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionConfig holds how long each kind of history is kept. A zero
// duration keeps that history forever.
type RetentionConfig struct {
	AlarmHistory time.Duration
	Samples      time.Duration

	// Interval between prune passes (default: 1h).
	Interval time.Duration
}

// RetentionManager prunes cleared alarms and feed samples on an hourly ticker.
type RetentionManager struct {
	store  Pruner
	config RetentionConfig
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type retentionTarget struct {
	name      string
	retention func(RetentionConfig) time.Duration
	prune     func(Pruner, context.Context, time.Time) (int64, error)
}

var retentionTargets = []retentionTarget{
	{
		name:      "alarms",
		retention: func(c RetentionConfig) time.Duration { return c.AlarmHistory },
		prune:     Pruner.PruneAlarms,
	},
	{
		name:      "samples",
		retention: func(c RetentionConfig) time.Duration { return c.Samples },
		prune:     Pruner.PruneSamples,
	},
}

// NewRetentionManager creates a new RetentionManager.
func NewRetentionManager(store Pruner, cfg RetentionConfig) *RetentionManager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetentionManager{
		store:  store,
		config: cfg,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start prunes once immediately and then on every interval.
func (rm *RetentionManager) Start() {
	logger.Info("Starting retention manager",
		"alarm_history", rm.config.AlarmHistory,
		"samples", rm.config.Samples)

	rm.PruneNow(rm.ctx)

	rm.wg.Add(1)
	go rm.run()
}

// Stop shuts down the retention manager.
func (rm *RetentionManager) Stop() {
	rm.cancel()
	rm.wg.Wait()
}

func (rm *RetentionManager) run() {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-rm.ctx.Done():
			return
		case <-ticker.C:
			rm.PruneNow(rm.ctx)
		}
	}
}

// PruneNow runs one prune pass and returns the rows deleted per target.
func (rm *RetentionManager) PruneNow(ctx context.Context) map[string]int64 {
	pruned := make(map[string]int64, len(retentionTargets))

	for _, target := range retentionTargets {
		retention := target.retention(rm.config)
		if retention <= 0 {
			continue
		}

		n, err := target.prune(rm.store, ctx, rm.now().Add(-retention))
		if err != nil {
			logger.Error("Failed to prune history", "target", target.name, "error", err)
			continue
		}
		pruned[target.name] = n
		if n > 0 {
			logger.Debug("Pruned history", "target", target.name, "rows", n, "retention", retention)
		}
	}
	return pruned
}
