package executor_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/surge/internal/performance"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/scenario"
)

// sleepRunner stands in for the scenario executor: each iteration takes a
// fixed time and honours cancellation.
type sleepRunner struct {
	delay time.Duration
	calls atomic.Int64
}

func (r *sleepRunner) RunIteration(ctx context.Context, vu int, iteration int64) scenario.IterationResult {
	r.calls.Add(1)
	select {
	case <-ctx.Done():
		return scenario.IterationResult{Cancelled: true}
	case <-time.After(r.delay):
	}
	return scenario.IterationResult{StepsExecuted: 1, Duration: r.delay}
}

func newTestPool(runner performance.IterationRunner, m *metrics.Engine) *performance.Pool {
	return performance.NewPool(context.Background(), performance.PoolConfig{
		Runner:   runner,
		Observer: m,
	})
}

type tickLog struct {
	mu    sync.Mutex
	ticks []executor.TickStats
}

func (l *tickLog) record(s executor.TickStats) {
	l.mu.Lock()
	l.ticks = append(l.ticks, s)
	l.mu.Unlock()
}

func (l *tickLog) all() []executor.TickStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]executor.TickStats(nil), l.ticks...)
}

func TestNewRampingVUs(t *testing.T) {
	e := executor.NewRampingVUs()
	if e == nil {
		t.Fatal("NewRampingVUs() returned nil")
	}
	if e.Type() != executor.TypeRampingVUs {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypeRampingVUs)
	}
}

func TestRampingVUs_Init_InvalidType(t *testing.T) {
	e := executor.NewRampingVUs()
	err := e.Init(context.Background(), &executor.Schedule{VUs: 2, Duration: time.Second})
	if err == nil {
		t.Fatal("Init() expected error for a fixed schedule, got nil")
	}
}

func TestRampingVUs_Init_Invalid(t *testing.T) {
	e := executor.NewRampingVUs()
	err := e.Init(context.Background(), &executor.Schedule{Stages: []executor.Stage{{Duration: time.Second, Target: -3}}})
	if err == nil {
		t.Fatal("Init() expected validation error, got nil")
	}
}

func TestRampingVUs_Run_NotInitialized(t *testing.T) {
	m := metrics.NewEngine()
	e := executor.NewRampingVUs()
	if err := e.Run(context.Background(), newTestPool(&sleepRunner{}, m), m); err == nil {
		t.Fatal("Run() without Init should fail")
	}
}

func TestRampingVUs_Run_FollowsStages(t *testing.T) {
	m := metrics.NewEngine()
	runner := &sleepRunner{delay: 5 * time.Millisecond}
	pool := newTestPool(runner, m)

	var log tickLog
	e := executor.NewRampingVUs(executor.WithOnTick(log.record))

	schedule := &executor.Schedule{
		Stages: []executor.Stage{
			{Duration: 300 * time.Millisecond, Target: 6},
			{Duration: 200 * time.Millisecond, Target: 6},
			{Duration: 300 * time.Millisecond, Target: 0},
		},
		TickInterval: 20 * time.Millisecond,
		GracefulStop: time.Second,
	}
	if err := e.Init(context.Background(), schedule); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), pool, m); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 800*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("Run() took %v, want about 800ms", elapsed)
	}

	ticks := log.all()
	if len(ticks) < 10 {
		t.Fatalf("only %d ticks recorded", len(ticks))
	}

	peak := 0
	for _, tick := range ticks {
		// Scaling is synchronous: after every tick the pool matches the target
		if tick.ActiveVUs != tick.TargetVUs {
			t.Errorf("at %v active = %d, target = %d", tick.Elapsed, tick.ActiveVUs, tick.TargetVUs)
		}
		if want := executor.TargetAt(schedule.Stages, tick.Elapsed); tick.TargetVUs != want {
			t.Errorf("at %v target = %d, want %d", tick.Elapsed, tick.TargetVUs, want)
		}
		if tick.ActiveVUs > peak {
			peak = tick.ActiveVUs
		}
	}
	if peak != 6 {
		t.Errorf("peak VUs = %d, want 6", peak)
	}

	last := ticks[len(ticks)-1]
	if last.TargetVUs != 0 || last.ActiveVUs != 0 {
		t.Errorf("final tick = %+v, want 0 VUs", last)
	}

	if pool.Running() != 0 {
		t.Errorf("%d VU goroutines still running after Run", pool.Running())
	}
	if m.GetActiveVUs() != 0 {
		t.Errorf("metrics active VUs = %d, want 0", m.GetActiveVUs())
	}
	if m.GetPhase() != metrics.PhaseDone {
		t.Errorf("phase = %v, want done", m.GetPhase())
	}
	if runner.calls.Load() == 0 {
		t.Error("no iterations ran")
	}

	snap := m.Snapshot()
	if snap.PeakVUs != 6 {
		t.Errorf("PeakVUs = %d, want 6", snap.PeakVUs)
	}
	if len(snap.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", snap.Warnings)
	}
}

// manualClock only moves when the test advances it.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRampingVUs_Run_InjectedClock(t *testing.T) {
	m := metrics.NewEngine()
	pool := newTestPool(&sleepRunner{delay: time.Millisecond}, m)

	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var sawPeak atomic.Bool
	e := executor.NewRampingVUs(
		executor.WithClock(clock),
		executor.WithOnTick(func(s executor.TickStats) {
			if s.TargetVUs == 4 && s.ActiveVUs == 4 {
				sawPeak.Store(true)
			}
		}))

	// Two hours of wall time if the schedule ignored the clock
	schedule := &executor.Schedule{
		Stages: []executor.Stage{
			{Duration: time.Hour, Target: 4},
			{Duration: time.Hour, Target: 0},
		},
		TickInterval: 5 * time.Millisecond,
		GracefulStop: time.Second,
	}
	if err := e.Init(context.Background(), schedule); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), pool, m) }()

	time.Sleep(20 * time.Millisecond)
	clock.Advance(time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for !sawPeak.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !sawPeak.Load() {
		t.Fatal("target never reached 4 after advancing the clock to the end of stage 1")
	}

	clock.Advance(2 * time.Hour)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not finish after the clock passed the end of the schedule")
	}

	if got := e.GetActiveVUs(); got != 0 {
		t.Errorf("active VUs after Run = %d, want 0", got)
	}
	if got := e.GetProgress(); got != 1.0 {
		t.Errorf("progress after Run = %v, want 1", got)
	}
}

func TestRampingVUs_Run_Phases(t *testing.T) {
	m := metrics.NewEngine()
	pool := newTestPool(&sleepRunner{delay: time.Millisecond}, m)

	e := executor.NewRampingVUs()
	schedule := &executor.Schedule{
		Stages: []executor.Stage{
			{Duration: 100 * time.Millisecond, Target: 2},
			{Duration: 100 * time.Millisecond, Target: 2},
			{Duration: 100 * time.Millisecond, Target: 0},
		},
		TickInterval: 10 * time.Millisecond,
	}
	if err := e.Init(context.Background(), schedule); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	e.Run(context.Background(), pool, m)

	var phases []metrics.Phase
	for _, change := range m.GetPhaseHistory() {
		phases = append(phases, change.Phase)
	}
	want := []metrics.Phase{metrics.PhaseRampUp, metrics.PhaseSteady, metrics.PhaseRampDown, metrics.PhaseDraining, metrics.PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}
}

func TestRampingVUs_Run_ContextCancel(t *testing.T) {
	m := metrics.NewEngine()
	runner := &sleepRunner{delay: 10 * time.Millisecond}
	pool := newTestPool(runner, m)

	e := executor.NewRampingVUs()
	schedule := &executor.Schedule{
		Stages:       []executor.Stage{{Duration: 0, Target: 5}, {Duration: time.Minute, Target: 5}},
		TickInterval: 10 * time.Millisecond,
	}
	if err := e.Init(context.Background(), schedule); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	e.Run(ctx, pool, m)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() took %v after cancellation", elapsed)
	}

	if pool.Running() != 0 {
		t.Errorf("%d VU goroutines leaked", pool.Running())
	}
	if runner.calls.Load() < 5 {
		t.Errorf("calls = %d, want every VU to have iterated", runner.calls.Load())
	}

	// An operator abort still lets in-flight iterations finish
	iters := m.IterationCounts()
	if iters.Started != iters.Completed {
		t.Errorf("started %d, completed %d; cancellation should drain gracefully", iters.Started, iters.Completed)
	}
	if e.GetProgress() != 1.0 {
		t.Errorf("GetProgress() = %v after Run, want 1", e.GetProgress())
	}
}

func TestRampingVUs_Run_DrainOverrun(t *testing.T) {
	m := metrics.NewEngine()
	pool := newTestPool(&sleepRunner{delay: time.Hour}, m)

	e := executor.NewRampingVUs()
	schedule := &executor.Schedule{
		Stages:       []executor.Stage{{Duration: 0, Target: 3}, {Duration: 100 * time.Millisecond, Target: 3}},
		TickInterval: 10 * time.Millisecond,
		GracefulStop: 50 * time.Millisecond,
	}
	if err := e.Init(context.Background(), schedule); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	e.Run(context.Background(), pool, m)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run() took %v, want graceful stop to bound the drain", elapsed)
	}

	if pool.Running() != 0 {
		t.Errorf("%d VU goroutines leaked", pool.Running())
	}

	snap := m.Snapshot()
	if len(snap.Warnings) != 1 || !strings.Contains(snap.Warnings[0], "3 VUs") {
		t.Errorf("warnings = %v, want one drain overrun warning for 3 VUs", snap.Warnings)
	}
	if snap.Iterations.Completed != 0 {
		t.Errorf("completed = %d, want 0", snap.Iterations.Completed)
	}
}

func TestRampingVUs_GetStats(t *testing.T) {
	m := metrics.NewEngine()
	pool := newTestPool(&sleepRunner{delay: 5 * time.Millisecond}, m)

	e := executor.NewRampingVUs()
	schedule := &executor.Schedule{
		Stages: []executor.Stage{
			{Duration: 100 * time.Millisecond, Target: 4, Name: "warmup"},
			{Duration: 300 * time.Millisecond, Target: 4, Name: "hold"},
		},
		TickInterval: 10 * time.Millisecond,
	}
	if err := e.Init(context.Background(), schedule); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), pool, m)
		close(done)
	}()

	time.Sleep(250 * time.Millisecond)
	stats := e.GetStats()
	if stats.CurrentStage != 1 || stats.CurrentStageName != "hold" {
		t.Errorf("stage = %d %q, want 1 \"hold\"", stats.CurrentStage, stats.CurrentStageName)
	}
	if stats.ActiveVUs != 4 || stats.TargetVUs != 4 {
		t.Errorf("active/target = %d/%d, want 4/4", stats.ActiveVUs, stats.TargetVUs)
	}
	if stats.TotalStages != 2 || stats.TotalDuration != 400*time.Millisecond {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Iterations == 0 {
		t.Error("Iterations = 0 mid-run")
	}
	if p := e.GetProgress(); p <= 0.4 || p >= 0.9 {
		t.Errorf("GetProgress() = %v, want about 0.6", p)
	}

	<-done
}
