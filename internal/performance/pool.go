package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Runner executes iterations for every VU
	Runner IterationRunner

	// Observer is told about iteration starts and finishes
	Observer IterationObserver

	// Pacing between iterations (optional)
	Pacing Pacing

	Logger *zap.Logger
}

// Pool owns the VUs of a run.
//
// VUs are kept in spawn order so Retire always stops the oldest ones first.
// A retired VU leaves the active set immediately but its goroutine keeps
// running until the iteration in flight finishes; Wait covers those too.
//
// Worker goroutines run under a context that is detached from the one
// passed to NewPool. Cancelling the parent does not interrupt iterations;
// only Cancel does.
type Pool struct {
	config PoolConfig
	logger *zap.Logger

	// Active VUs, oldest first
	vus   []*VirtualUser
	vusMu sync.Mutex

	nextID  int
	running atomic.Int32

	workerCtx    context.Context
	cancelWorker context.CancelFunc
	wg           sync.WaitGroup
}

// NewPool creates an empty pool.
func NewPool(parent context.Context, config PoolConfig) *Pool {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Pool{
		config:       config,
		logger:       logger.With(zap.String("component", "pool")),
		workerCtx:    ctx,
		cancelWorker: cancel,
	}
}

// Spawn starts n new VUs and returns how many are active afterwards.
func (p *Pool) Spawn(n int) int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()

	for i := 0; i < n; i++ {
		p.nextID++
		vu := NewVirtualUser(p.nextID, p.config.Runner, p.config.Observer, p.config.Pacing, p.config.Logger)
		p.vus = append(p.vus, vu)

		p.wg.Add(1)
		p.running.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.running.Add(-1)
			vu.Run(p.workerCtx)
		}()
	}
	return len(p.vus)
}

// Retire asks the n oldest active VUs to stop after their current
// iteration and returns how many are active afterwards.
func (p *Pool) Retire(n int) int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()

	if n > len(p.vus) {
		n = len(p.vus)
	}
	for _, vu := range p.vus[:n] {
		vu.RequestStop()
	}
	p.vus = append(p.vus[:0:0], p.vus[n:]...)
	return len(p.vus)
}

// Scale spawns or retires VUs until exactly target are active.
func (p *Pool) Scale(target int) int {
	if target < 0 {
		target = 0
	}
	current := p.Active()
	switch {
	case target > current:
		return p.Spawn(target - current)
	case target < current:
		return p.Retire(current - target)
	}
	return current
}

// Active returns the number of VUs that have not been retired.
func (p *Pool) Active() int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()
	return len(p.vus)
}

// Running returns the number of VU goroutines that have not exited,
// including retired VUs still finishing an iteration.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// ActiveIDs returns the IDs of the active VUs, oldest first.
func (p *Pool) ActiveIDs() []int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()
	ids := make([]int, len(p.vus))
	for i, vu := range p.vus {
		ids[i] = vu.ID
	}
	return ids
}

// StopAll retires every active VU.
func (p *Pool) StopAll() {
	p.Retire(p.Active())
}

// Wait blocks until every VU goroutine has exited or the timeout expires.
// Returns true if all exited.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Cancel interrupts every iteration in flight.
func (p *Pool) Cancel() {
	p.cancelWorker()
}

// Shutdown stops every VU, giving in-flight iterations up to grace to
// finish. VUs still running after that are cancelled. Shutdown returns
// once every VU goroutine has exited, reporting how many had to be
// cancelled.
func (p *Pool) Shutdown(grace time.Duration) int {
	p.StopAll()

	overrun := 0
	if !p.Wait(grace) {
		overrun = p.Running()
		p.logger.Warn("graceful stop exceeded, cancelling VUs",
			zap.Duration("gracefulStop", grace),
			zap.Int("running", overrun))
	}
	p.Cancel()
	p.wg.Wait()
	return overrun
}
