// Package performance runs virtual users: long-lived workers that execute a
// scenario iteration after iteration until they are retired.
package performance

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/performance/scenario"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is created but its loop has not started.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running iterations.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop after its
	// current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU loop has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IterationRunner runs one scenario iteration. *scenario.Executor implements it.
type IterationRunner interface {
	RunIteration(ctx context.Context, vu int, iteration int64) scenario.IterationResult
}

// IterationObserver is told when iterations start and finish.
// *metrics.Engine implements it.
type IterationObserver interface {
	IterationStarted()
	IterationFinished(aborted bool)
}

// Pacing returns how long a VU pauses after an iteration that took
// iterationDuration. Nil means no pause.
type Pacing func(iterationDuration time.Duration) time.Duration

// VirtualUser is a single simulated user.
//
// A VU loops over scenario iterations until RequestStop is called (it then
// finishes the iteration in flight) or its context is cancelled (the
// iteration in flight is interrupted). Each iteration gets a fresh state;
// nothing carries over between iterations.
type VirtualUser struct {
	// ID is unique within a run and assigned in spawn order
	ID int

	runner   IterationRunner
	observer IterationObserver
	pacing   Pacing
	logger   *zap.Logger

	state     atomic.Int32
	iteration atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewVirtualUser creates a VU. It does nothing until Run is called.
func NewVirtualUser(id int, runner IterationRunner, observer IterationObserver, pacing Pacing, logger *zap.Logger) *VirtualUser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VirtualUser{
		ID:       id,
		runner:   runner,
		observer: observer,
		pacing:   pacing,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started so far.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Done is closed when the VU loop has exited.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// Run executes iterations until the VU is stopped or ctx is cancelled.
// It must be called at most once.
func (vu *VirtualUser) Run(ctx context.Context) {
	defer vu.markStopped()

	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		// Stopped before it ever started
		return
	}

	for {
		if vu.stopRequested() || ctx.Err() != nil {
			return
		}

		n := vu.iteration.Add(1)
		vu.observer.IterationStarted()
		result := vu.runner.RunIteration(ctx, vu.ID, n)

		if result.Cancelled {
			return
		}
		vu.observer.IterationFinished(result.Aborted)
		if result.Aborted {
			vu.logger.Debug("iteration aborted",
				zap.Int("vu", vu.ID),
				zap.Int64("iteration", n),
				zap.String("step", result.AbortStep),
				zap.Int("stepsExecuted", result.StepsExecuted),
				zap.String("reason", result.AbortReason))
		}

		if vu.pacing == nil {
			continue
		}
		if pause := vu.pacing(result.Duration); pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-vu.stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (vu *VirtualUser) stopRequested() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop asks the VU to exit after its current iteration.
// It is safe to call more than once.
func (vu *VirtualUser) RequestStop() {
	for {
		current := vu.state.Load()
		if current == int32(VUStateStopping) || current == int32(VUStateStopped) {
			return
		}
		if vu.state.CompareAndSwap(current, int32(VUStateStopping)) {
			close(vu.stopCh)
			return
		}
	}
}

// WaitForStop waits for the VU loop to exit.
//
// Returns true if it exited within the timeout.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	close(vu.doneCh)
}
