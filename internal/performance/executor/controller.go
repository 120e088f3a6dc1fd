package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// controller is the reconciliation loop shared by RampingVUs and
// ConstantVUs. The two differ only in how the target and phase are derived
// from elapsed time.
type controller struct {
	typ      Type
	schedule *Schedule
	target   func(elapsed time.Duration) int
	stage    func(elapsed time.Duration) int
	phase    func(elapsed time.Duration) metrics.Phase

	clock  Clock
	logger *zap.Logger
	onTick func(TickStats)

	metrics *metrics.Engine

	startTime time.Time
	mu        sync.RWMutex

	activeVUs    atomic.Int32
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	finished     atomic.Bool
}

func newController(typ Type, opts []Option) *controller {
	c := &controller{
		typ:    typ,
		clock:  realClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Type returns the executor type.
func (c *controller) Type() Type {
	return c.typ
}

func (c *controller) init(schedule *Schedule) error {
	if schedule.Type() != c.typ {
		return fmt.Errorf("invalid schedule type: expected %s, got %s", c.typ, schedule.Type())
	}
	if err := schedule.Validate(); err != nil {
		return err
	}
	c.schedule = schedule
	c.logger = c.logger.With(zap.String("component", "scheduler"), zap.String("executor", string(c.typ)))
	return nil
}

// Run reconciles the pool until the schedule ends or ctx is cancelled,
// then drains.
func (c *controller) Run(ctx context.Context, pool *performance.Pool, metricsEngine *metrics.Engine) error {
	if c.schedule == nil {
		return fmt.Errorf("executor not initialized")
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("executor already running")
	}
	defer c.running.Store(false)

	c.mu.Lock()
	c.metrics = metricsEngine
	c.startTime = c.clock.Now()
	c.mu.Unlock()
	c.currentStage.Store(-1)

	total := c.schedule.TotalDuration()
	c.logger.Info("schedule started",
		zap.Duration("duration", total),
		zap.Int("maxVUs", c.schedule.MaxVUs()),
		zap.Int("stages", len(c.schedule.Stages)))

	ticker := time.NewTicker(c.schedule.tickInterval())
	defer ticker.Stop()

	// With the real clock a timer ends the schedule on time; an injected
	// clock ends it from the tick that first observes elapsed >= total.
	var endC <-chan time.Time
	if _, ok := c.clock.(realClock); ok {
		end := time.NewTimer(total)
		defer end.Stop()
		endC = end.C
	}

	// Reconcile immediately so the first VUs do not wait a full tick
	c.reconcile(pool, 0)

	interrupted := false
loop:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			break loop
		case <-endC:
			c.reconcile(pool, total)
			break loop
		case <-ticker.C:
			elapsed := c.elapsed()
			if elapsed >= total {
				c.reconcile(pool, total)
				break loop
			}
			c.reconcile(pool, elapsed)
		}
	}

	c.drain(pool, interrupted)
	return nil
}

// reconcile moves the pool to the target for elapsed.
func (c *controller) reconcile(pool *performance.Pool, elapsed time.Duration) {
	target := c.target(elapsed)
	stage := c.stage(elapsed)

	if prev := c.currentStage.Swap(int32(stage)); int(prev) != stage && stage >= 0 {
		fields := []zap.Field{
			zap.Int("stage", stage),
			zap.Duration("elapsed", elapsed),
		}
		if stage < len(c.schedule.Stages) {
			st := c.schedule.Stages[stage]
			fields = append(fields, zap.Int("target", st.Target), zap.Duration("stageDuration", st.Duration))
			if st.Name != "" {
				fields = append(fields, zap.String("name", st.Name))
			}
		}
		c.logger.Info("stage started", fields...)
	}

	active := pool.Scale(target)

	c.targetVUs.Store(int32(target))
	c.activeVUs.Store(int32(active))
	c.metrics.SetTargetVUs(target)
	c.metrics.SetActiveVUs(active)
	c.metrics.SetPhase(c.phase(elapsed))

	if c.onTick != nil {
		c.onTick(TickStats{
			Elapsed:   elapsed,
			TargetVUs: target,
			ActiveVUs: active,
			Stage:     stage,
		})
	}
}

// drain stops every VU, waits up to GracefulStop for in-flight iterations,
// then cancels whatever is left and waits for it.
func (c *controller) drain(pool *performance.Pool, interrupted bool) {
	c.metrics.SetPhase(metrics.PhaseDraining)
	grace := c.schedule.gracefulStop()

	running := pool.Running()
	if interrupted {
		c.logger.Info("run interrupted, draining VUs", zap.Int("running", running), zap.Duration("gracefulStop", grace))
	} else {
		c.logger.Info("schedule finished, draining VUs", zap.Int("running", running), zap.Duration("gracefulStop", grace))
	}

	start := time.Now()
	overrun := pool.Shutdown(grace)
	if overrun > 0 {
		c.metrics.AddWarning(fmt.Sprintf("%d VUs did not finish their iteration within gracefulStop (%s) and were interrupted", overrun, grace))
	}

	c.activeVUs.Store(0)
	c.targetVUs.Store(0)
	c.metrics.SetActiveVUs(0)
	c.metrics.SetTargetVUs(0)
	c.metrics.SetPhase(metrics.PhaseDone)
	c.finished.Store(true)

	c.logger.Info("drain complete",
		zap.Duration("took", time.Since(start)),
		zap.Int("interrupted", overrun))
}

func (c *controller) elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.startTime.IsZero() {
		return 0
	}
	return c.clock.Now().Sub(c.startTime)
}

// GetProgress returns current progress (0.0 to 1.0).
func (c *controller) GetProgress() float64 {
	if c.finished.Load() {
		return 1.0
	}
	if c.schedule == nil {
		return 0.0
	}
	total := c.schedule.TotalDuration()
	if total == 0 {
		return 1.0
	}
	progress := float64(c.elapsed()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (c *controller) GetActiveVUs() int {
	return int(c.activeVUs.Load())
}

// GetStats returns executor statistics.
func (c *controller) GetStats() *Stats {
	c.mu.RLock()
	startTime := c.startTime
	metricsEngine := c.metrics
	c.mu.RUnlock()

	stats := &Stats{
		StartTime:    startTime,
		CurrentTime:  c.clock.Now(),
		Elapsed:      c.elapsed(),
		ActiveVUs:    int(c.activeVUs.Load()),
		TargetVUs:    int(c.targetVUs.Load()),
		CurrentStage: int(c.currentStage.Load()),
	}
	if c.schedule != nil {
		stats.TotalDuration = c.schedule.TotalDuration()
		stats.TotalStages = len(c.schedule.Stages)
		if i := stats.CurrentStage; i >= 0 && i < len(c.schedule.Stages) {
			stats.CurrentStageName = c.schedule.Stages[i].Name
		}
	}
	if metricsEngine != nil {
		stats.Iterations = metricsEngine.IterationCounts().Started
	}
	return stats
}
