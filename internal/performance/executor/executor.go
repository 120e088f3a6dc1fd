// Package executor drives the VU count of a run along its schedule.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// Executor defines the interface for VU scheduling strategies.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Run reconciles the pool against the schedule until it ends or ctx is
	// cancelled, then drains every VU. Run returns only after every VU
	// goroutine has exited.
	Run(ctx context.Context, pool *performance.Pool, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor statistics.
	GetStats() *Stats
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Iteration stats
	Iterations int64 `json:"iterations"`

	// Stage info (ramping only)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// TickStats is passed to the OnTick hook after every reconciliation.
type TickStats struct {
	Elapsed   time.Duration
	TargetVUs int
	ActiveVUs int
	Stage     int
}

// Clock is the time source used to measure elapsed schedule time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures an executor.
type Option func(*controller)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the time source. The clock decides targets, stages and
// when the schedule ends; reconciliation still runs on a wall-time ticker and
// the graceful-stop bound is wall time.
func WithClock(clock Clock) Option {
	return func(c *controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithOnTick registers a hook called after every reconciliation.
func WithOnTick(fn func(TickStats)) Option {
	return func(c *controller) {
		c.onTick = fn
	}
}

// New creates and initializes the executor for the schedule's mode.
func New(ctx context.Context, schedule *Schedule, opts ...Option) (Executor, error) {
	if schedule == nil {
		return nil, fmt.Errorf("schedule is nil")
	}

	var exec interface {
		Executor
		Init(ctx context.Context, schedule *Schedule) error
	}
	switch schedule.Type() {
	case TypeRampingVUs:
		exec = NewRampingVUs(opts...)
	default:
		exec = NewConstantVUs(opts...)
	}

	if err := exec.Init(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}
	return exec, nil
}
