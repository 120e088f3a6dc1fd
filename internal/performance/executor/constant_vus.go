package executor

import (
	"context"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// ConstantVUs runs a fixed number of VUs for a duration.
//
// Each VU runs iterations back to back (closed model), optionally with a
// pause between them. It shares the reconciliation loop with RampingVUs;
// the target is VUs until Duration elapses and 0 afterwards.
type ConstantVUs struct {
	*controller
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs(opts ...Option) *ConstantVUs {
	e := &ConstantVUs{controller: newController(TypeConstantVUs, opts)}
	e.target = e.calculateTargetVUs
	e.stage = func(time.Duration) int { return -1 }
	e.phase = func(time.Duration) metrics.Phase { return metrics.PhaseSteady }
	return e
}

// Init initializes the executor with the schedule.
func (e *ConstantVUs) Init(ctx context.Context, schedule *Schedule) error {
	return e.init(schedule)
}

func (e *ConstantVUs) calculateTargetVUs(elapsed time.Duration) int {
	if elapsed < e.schedule.Duration {
		return e.schedule.VUs
	}
	return 0
}

var _ Executor = (*ConstantVUs)(nil)
