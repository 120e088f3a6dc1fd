// Package metrics records checks, iterations and request latencies for a
// load test run.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
)

// Recorder is the write side used by the scenario executor.
type Recorder interface {
	RecordCheck(name string, passed bool)
	RecordRequest(step string, latency time.Duration, bytes int64, transportErr bool)
}

// Engine collects and aggregates run metrics.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Check tallies are per-name atomic
// counters behind a read-mostly map, so RecordCheck only takes the write
// lock the first time a name is seen. Histograms are not thread-safe and
// are guarded by their own mutex.
type Engine struct {
	runID string

	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	stepHists   map[string]*hdrhistogram.Histogram
	stepHistsMu sync.Mutex

	checks   map[string]*checkCounter
	checksMu sync.RWMutex

	totalRequests   atomic.Int64
	transportErrors atomic.Int64
	totalBytes      atomic.Int64

	iterStarted   atomic.Int64
	iterCompleted atomic.Int64
	iterAborted   atomic.Int64

	activeVUs atomic.Int32
	targetVUs atomic.Int32
	peakVUs   atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	warnings   []string
	warningsMu sync.Mutex

	startTime time.Time
	config    EngineConfig
}

type checkCounter struct {
	passed atomic.Int64
	failed atomic.Int64
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// CheckSink optionally receives every check as it is recorded.
	CheckSink CheckSink
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase
	Timestamp time.Time
	Requests  int64
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	return &Engine{
		runID:        uuid.NewString(),
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		stepHists:    make(map[string]*hdrhistogram.Histogram),
		checks:       make(map[string]*checkCounter),
		currentPhase: PhaseInit,
		startTime:    time.Now(),
		config:       config,
	}
}

// RunID returns the unique identifier of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// Start resets the engine clock. It is not synchronized with Snapshot and
// must be called before the engine is shared with other goroutines.
func (e *Engine) Start() {
	e.startTime = time.Now()
}

// RecordCheck records the outcome of a named check.
func (e *Engine) RecordCheck(name string, passed bool) {
	c := e.counter(name)
	if passed {
		c.passed.Add(1)
	} else {
		c.failed.Add(1)
	}

	if e.config.CheckSink != nil {
		e.config.CheckSink.OnCheck(CheckResult{Name: name, Passed: passed, Timestamp: time.Now()})
	}
}

func (e *Engine) counter(name string) *checkCounter {
	e.checksMu.RLock()
	c, ok := e.checks[name]
	e.checksMu.RUnlock()
	if ok {
		return c
	}

	e.checksMu.Lock()
	defer e.checksMu.Unlock()
	if c, ok = e.checks[name]; !ok {
		c = &checkCounter{}
		e.checks[name] = c
	}
	return c
}

// RecordRequest records one request sent by a scenario step. Requests that
// failed at the transport level have no meaningful latency and only bump
// the error counter.
func (e *Engine) RecordRequest(step string, latency time.Duration, bytes int64, transportErr bool) {
	e.totalRequests.Add(1)
	if transportErr {
		e.transportErrors.Add(1)
		return
	}
	e.totalBytes.Add(bytes)

	latencyMicros := e.clamp(latency.Microseconds())

	// HDR histogram RecordValue is NOT thread-safe
	e.latencyHistMu.Lock()
	e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	if step == "" {
		return
	}

	e.stepHistsMu.Lock()
	hist, ok := e.stepHists[step]
	if !ok {
		hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
		e.stepHists[step] = hist
	}
	hist.RecordValue(latencyMicros)
	e.stepHistsMu.Unlock()
}

func (e *Engine) clamp(v int64) int64 {
	if v < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return v
}

// IterationStarted counts a started iteration.
func (e *Engine) IterationStarted() {
	e.iterStarted.Add(1)
}

// IterationFinished counts a finished iteration. Aborted iterations are
// counted separately and are not completed.
func (e *Engine) IterationFinished(aborted bool) {
	if aborted {
		e.iterAborted.Add(1)
		return
	}
	e.iterCompleted.Add(1)
}

// IterationCounts returns the iteration counters without taking a full
// snapshot.
func (e *Engine) IterationCounts() IterationStats {
	return IterationStats{
		Started:   e.iterStarted.Load(),
		Completed: e.iterCompleted.Load(),
		Aborted:   e.iterAborted.Load(),
	}
}

// SetActiveVUs updates the live VU count and tracks the peak.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
	for {
		peak := e.peakVUs.Load()
		if int32(count) <= peak || e.peakVUs.CompareAndSwap(peak, int32(count)) {
			return
		}
	}
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// SetTargetVUs stores the scheduler's current target.
func (e *Engine) SetTargetVUs(count int) {
	e.targetVUs.Store(int32(count))
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// AddWarning attaches a non-fatal warning to the run.
func (e *Engine) AddWarning(msg string) {
	e.warningsMu.Lock()
	e.warnings = append(e.warnings, msg)
	e.warningsMu.Unlock()
}

// CheckNames returns the recorded check names in sorted order.
func (e *Engine) CheckNames() []string {
	e.checksMu.RLock()
	names := make([]string, 0, len(e.checks))
	for name := range e.checks {
		names = append(names, name)
	}
	e.checksMu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot returns a point-in-time copy of all metrics. The returned value
// shares no memory with the engine.
func (e *Engine) Snapshot() *RunMetrics {
	now := time.Now()

	e.latencyHistMu.Lock()
	latency := latencyStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	e.stepHistsMu.Lock()
	steps := make(map[string]LatencyStats, len(e.stepHists))
	for name, hist := range e.stepHists {
		steps[name] = latencyStats(hist)
	}
	e.stepHistsMu.Unlock()

	e.checksMu.RLock()
	checks := make(map[string]CheckCounts, len(e.checks))
	for name, c := range e.checks {
		checks[name] = CheckCounts{Passed: c.passed.Load(), Failed: c.failed.Load()}
	}
	e.checksMu.RUnlock()

	e.warningsMu.Lock()
	var warnings []string
	if len(e.warnings) > 0 {
		warnings = append([]string(nil), e.warnings...)
	}
	e.warningsMu.Unlock()

	elapsed := now.Sub(e.startTime)
	total := e.totalRequests.Load()
	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total) / elapsed.Seconds()
	}

	return &RunMetrics{
		RunID:     e.runID,
		StartTime: e.startTime,
		Timestamp: now,
		Elapsed:   elapsed,
		Iterations: IterationStats{
			Started:   e.iterStarted.Load(),
			Completed: e.iterCompleted.Load(),
			Aborted:   e.iterAborted.Load(),
		},
		Checks: checks,
		Requests: RequestStats{
			Total:           total,
			TransportErrors: e.transportErrors.Load(),
			TotalBytes:      e.totalBytes.Load(),
		},
		Latency:   latency,
		Steps:     steps,
		RPS:       rps,
		ActiveVUs: int(e.activeVUs.Load()),
		TargetVUs: int(e.targetVUs.Load()),
		PeakVUs:   int(e.peakVUs.Load()),
		Phase:     e.GetPhase(),
		Warnings:  warnings,
		Passed:    true,
	}
}

func latencyStats(hist *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(hist.StdDev() * float64(time.Microsecond)),
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}
