// Package engine runs a load test: it validates the schedule and scenario,
// drives VUs along the schedule and returns the final metrics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/scenario"
)

// ErrAlreadyRunning is returned when Run is called on a busy engine.
var ErrAlreadyRunning = errors.New("engine is already running")

// Options configures an Engine. Every field is optional.
type Options struct {
	// Sender sends the scenario's requests. Defaults to an httpclient.Client
	// with default settings.
	Sender httpclient.Sender

	// Thresholds evaluated against the final metrics
	Thresholds *Thresholds

	// CheckSink receives every check result as it is recorded
	CheckSink metrics.CheckSink

	// OnTick observes every scheduler reconciliation
	OnTick func(executor.TickStats)

	Logger *zap.Logger
}

// Engine is the run controller.
//
// It coordinates:
//   - Schedule, scenario and threshold validation
//   - The scheduler and its VU pool
//   - Metrics collection and threshold evaluation
//
// Example usage:
//
//	eng := engine.New(engine.Options{Logger: logger})
//	result, err := eng.Run(ctx, schedule, scenario.Canonical("http://localhost:8080"))
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	opts   Options
	logger *zap.Logger

	metricsEngine atomic.Pointer[metrics.Engine]
	executor      atomic.Pointer[executor.Executor]

	mu      sync.Mutex
	running bool
}

// New creates an engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		opts:   opts,
		logger: logger,
	}
}

// Run executes the scenario along the schedule and returns the final
// metrics.
//
// Every configuration error is returned before the first VU is spawned.
// Cancelling ctx is an operator abort: VUs stop and get GracefulStop to
// finish their iteration, then the partial result is returned. Run never
// leaves VU goroutines behind.
func (e *Engine) Run(ctx context.Context, schedule *executor.Schedule, sc *scenario.Scenario) (*metrics.RunMetrics, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if schedule == nil {
		return nil, fmt.Errorf("invalid schedule: schedule is nil")
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	if err := e.opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	sender := e.opts.Sender
	if sender == nil {
		client := httpclient.New(httpclient.DefaultConfig())
		defer client.CloseIdleConnections()
		sender = client
	}

	metricsEngine := metrics.NewEngineWithConfig(metrics.EngineConfig{CheckSink: e.opts.CheckSink})
	logger := e.logger.With(zap.String("run_id", metricsEngine.RunID()))

	scenarioExec, err := scenario.NewExecutor(sc, sender, metricsEngine, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	sched, err := executor.New(ctx, schedule,
		executor.WithLogger(logger),
		executor.WithOnTick(e.opts.OnTick))
	if err != nil {
		return nil, err
	}

	pool := performance.NewPool(ctx, performance.PoolConfig{
		Runner:   scenarioExec,
		Observer: metricsEngine,
		Pacing:   schedule.Pause.Pacing(),
		Logger:   logger,
	})

	metricsEngine.Start()
	e.metricsEngine.Store(metricsEngine)
	e.executor.Store(&sched)

	logger.Info("run started",
		zap.String("scenario", sc.Name),
		zap.String("executor", string(sched.Type())),
		zap.Duration("duration", schedule.TotalDuration()),
		zap.Int("maxVUs", schedule.MaxVUs()),
		zap.Strings("steps", scenarioExec.StepNames()))

	if err := sched.Run(ctx, pool, metricsEngine); err != nil {
		return nil, fmt.Errorf("scheduler failed: %w", err)
	}

	if ctx.Err() != nil {
		metricsEngine.AddWarning("run interrupted before the schedule completed")
	}

	result := metricsEngine.Snapshot()
	result.EndTime = time.Now()
	result.Thresholds = e.opts.Thresholds.Evaluate(result)
	for _, tr := range result.Thresholds {
		if !tr.Passed {
			result.Passed = false
			break
		}
	}

	checks := result.ChecksTotal()
	logger.Info("run finished",
		zap.Duration("elapsed", result.Elapsed),
		zap.Int64("iterations", result.Iterations.Completed),
		zap.Int64("aborted", result.Iterations.Aborted),
		zap.Int64("requests", result.Requests.Total),
		zap.Int64("checksPassed", checks.Passed),
		zap.Int64("checksFailed", checks.Failed),
		zap.Bool("passed", result.Passed))

	return result, nil
}

// Snapshot returns the live metrics of the current (or last) run, or nil
// before the first run.
func (e *Engine) Snapshot() *metrics.RunMetrics {
	m := e.metricsEngine.Load()
	if m == nil {
		return nil
	}
	return m.Snapshot()
}

// Stats returns the scheduler statistics of the current (or last) run.
func (e *Engine) Stats() *executor.Stats {
	exec := e.executor.Load()
	if exec == nil {
		return nil
	}
	return (*exec).GetStats()
}

// GetProgress returns the schedule progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	exec := e.executor.Load()
	if exec == nil {
		return 0.0
	}
	return (*exec).GetProgress()
}

// IsRunning returns true while Run is executing.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}
