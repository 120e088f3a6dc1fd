package executor

import (
	"context"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// RampingVUs ramps VU count up and down according to stages.
//
// Targets are linearly interpolated inside each stage and reconciled every
// TickInterval, so load changes smoothly instead of in stage-sized steps.
// Excess VUs are retired oldest first and finish the iteration they are in.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 200    # Ramp from 0 to 200 VUs over 30s
//	  - duration: 1m
//	    target: 200    # Stay at 200 VUs for 1 minute
//	  - duration: 10s
//	    target: 0      # Ramp down to 0 VUs over 10s
type RampingVUs struct {
	*controller
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs(opts ...Option) *RampingVUs {
	e := &RampingVUs{controller: newController(TypeRampingVUs, opts)}
	e.target = e.calculateTargetVUs
	e.stage = e.stageAt
	e.phase = e.phaseAt
	return e
}

// Init initializes the executor with the schedule.
func (e *RampingVUs) Init(ctx context.Context, schedule *Schedule) error {
	return e.init(schedule)
}

func (e *RampingVUs) calculateTargetVUs(elapsed time.Duration) int {
	return TargetAt(e.schedule.Stages, elapsed)
}

func (e *RampingVUs) stageAt(elapsed time.Duration) int {
	return StageAt(e.schedule.Stages, elapsed)
}

// phaseAt derives the phase from the direction of the active stage.
func (e *RampingVUs) phaseAt(elapsed time.Duration) metrics.Phase {
	stages := e.schedule.Stages
	idx := StageAt(stages, elapsed)
	if idx < 0 {
		return metrics.PhaseInit
	}

	prevTarget := 0
	if idx > 0 {
		prevTarget = stages[idx-1].Target
	}

	switch target := stages[idx].Target; {
	case target > prevTarget:
		return metrics.PhaseRampUp
	case target < prevTarget:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

var _ Executor = (*RampingVUs)(nil)
