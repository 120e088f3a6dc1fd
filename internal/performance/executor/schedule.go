package executor

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/wesleyorama2/surge/internal/performance"
)

const (
	// DefaultGracefulStop bounds how long retiring VUs may take to finish
	// their last iteration at the end of a run.
	DefaultGracefulStop = 30 * time.Second

	// DefaultTickInterval is how often the VU count is reconciled.
	DefaultTickInterval = 100 * time.Millisecond
)

// Stage defines one segment of a ramping schedule.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Schedule describes how many VUs run over time.
//
// A schedule has exactly one mode: Stages (ramping) or VUs with Duration
// (fixed).
type Schedule struct {
	// Stages for ramping mode. The target at the start of stage i is the
	// target of stage i-1, and 0 for the first stage.
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// VUs and Duration for fixed mode
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Pause between iterations of the same VU
	Pause *PacingConfig `json:"pause,omitempty" yaml:"pause,omitempty"`

	// GracefulStop bounds the final drain (default 30s)
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// TickInterval is the reconciliation granularity (default 100ms)
	TickInterval time.Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`
}

// Type returns the executor type implied by the schedule's mode.
func (s *Schedule) Type() Type {
	if len(s.Stages) > 0 {
		return TypeRampingVUs
	}
	return TypeConstantVUs
}

// Validate checks the schedule.
func (s *Schedule) Validate() error {
	ramping := len(s.Stages) > 0
	fixed := s.VUs != 0 || s.Duration != 0

	switch {
	case ramping && fixed:
		return &ValidationError{Field: "stages", Message: "stages cannot be combined with vus/duration"}
	case !ramping && !fixed:
		return &ValidationError{Field: "stages", Message: "either stages or vus with duration is required"}
	}

	if ramping {
		for i, st := range s.Stages {
			if st.Duration < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
			}
			if st.Target < 0 {
				return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
			}
		}
		if s.TotalDuration() <= 0 {
			return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
		}
	} else {
		if s.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if s.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
	}

	if s.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	if s.TickInterval < 0 {
		return &ValidationError{Field: "tickInterval", Message: "tickInterval must be >= 0"}
	}
	if s.Pause != nil {
		if err := s.Pause.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TotalDuration returns how long VUs are scheduled, excluding the drain.
func (s *Schedule) TotalDuration() time.Duration {
	if len(s.Stages) == 0 {
		return s.Duration
	}
	var total time.Duration
	for _, stage := range s.Stages {
		total += stage.Duration
	}
	return total
}

// MaxVUs returns the highest VU count the schedule asks for.
func (s *Schedule) MaxVUs() int {
	if len(s.Stages) == 0 {
		return s.VUs
	}
	maxVUs := 0
	for _, stage := range s.Stages {
		if stage.Target > maxVUs {
			maxVUs = stage.Target
		}
	}
	return maxVUs
}

func (s *Schedule) gracefulStop() time.Duration {
	if s.GracefulStop == 0 {
		return DefaultGracefulStop
	}
	return s.GracefulStop
}

func (s *Schedule) tickInterval() time.Duration {
	if s.TickInterval == 0 {
		return DefaultTickInterval
	}
	return s.TickInterval
}

// TargetAt returns the VU target at elapsed time into the stages.
//
// Inside a stage the target is linearly interpolated from the previous
// stage's target and rounded to the nearest integer. Zero-duration stages
// jump straight to their target. Past the last stage the last target holds.
func TargetAt(stages []Stage, elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := 0

	for _, stage := range stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}
		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return prevTarget
}

// StageAt returns the index of the stage active at elapsed, or the last
// index once every stage has ended. Returns -1 for no stages.
func StageAt(stages []Stage, elapsed time.Duration) int {
	var stageEnd time.Duration
	for i, stage := range stages {
		stageEnd += stage.Duration
		if elapsed < stageEnd {
			return i
		}
	}
	return len(stages) - 1
}

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// PacingConfig controls time between iterations.
type PacingConfig struct {
	// Type of pacing: "none", "constant", "random"
	Type PacingType `json:"type" yaml:"type"`

	// Duration for constant pacing
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min duration for random pacing
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max duration for random pacing
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// Validate checks the pacing configuration.
func (p *PacingConfig) Validate() error {
	switch p.Type {
	case PacingNone, "":
	case PacingConstant:
		if p.Duration < 0 {
			return &ValidationError{Field: "pause.duration", Message: "duration must be >= 0"}
		}
	case PacingRandom:
		if p.Min < 0 || p.Max < p.Min {
			return &ValidationError{Field: "pause", Message: "random pause needs 0 <= min <= max"}
		}
	default:
		return &ValidationError{Field: "pause.type", Message: "unknown pause type: " + string(p.Type)}
	}
	return nil
}

// Pacing returns the per-iteration pause function, or nil for none.
func (p *PacingConfig) Pacing() performance.Pacing {
	if p == nil {
		return nil
	}
	switch p.Type {
	case PacingConstant:
		if p.Duration <= 0 {
			return nil
		}
		d := p.Duration
		return func(time.Duration) time.Duration { return d }
	case PacingRandom:
		lo, hi := p.Min, p.Max
		return func(time.Duration) time.Duration {
			if hi <= lo {
				return lo
			}
			return lo + time.Duration(rand.Int63n(int64(hi-lo)))
		}
	}
	return nil
}

// ValidationError represents a schedule validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
