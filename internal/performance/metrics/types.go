package metrics

import "time"

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the phase before the scheduler starts.
	PhaseInit Phase = "init"

	// PhaseRampUp is the ramp-up phase when load is increasing
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the steady-state phase at target load
	PhaseSteady Phase = "steady"

	// PhaseRampDown is the ramp-down phase when load is decreasing
	PhaseRampDown Phase = "ramp-down"

	// PhaseDraining is entered once the schedule is over and VUs are
	// finishing their last iteration.
	PhaseDraining Phase = "draining"

	// PhaseDone indicates the test has completed
	PhaseDone Phase = "done"
)

// CheckResult is a single evaluated check.
type CheckResult struct {
	Name      string    `json:"name"`
	Passed    bool      `json:"passed"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckSink receives every recorded check. Implementations must be safe
// for concurrent use; they are called from VU goroutines.
type CheckSink interface {
	OnCheck(CheckResult)
}

// CheckSinkFunc adapts a function to CheckSink.
type CheckSinkFunc func(CheckResult)

// OnCheck implements CheckSink.
func (f CheckSinkFunc) OnCheck(r CheckResult) { f(r) }

// CheckCounts holds the pass/fail tally for one named check.
type CheckCounts struct {
	Passed int64 `json:"passed"`
	Failed int64 `json:"failed"`
}

// Total returns passed + failed.
func (c CheckCounts) Total() int64 {
	return c.Passed + c.Failed
}

// PassRate returns the fraction of passed evaluations, or 1 when the check
// never ran.
func (c CheckCounts) PassRate() float64 {
	total := c.Total()
	if total == 0 {
		return 1
	}
	return float64(c.Passed) / float64(total)
}

// IterationStats counts scenario iterations.
type IterationStats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Aborted   int64 `json:"aborted"`
}

// RequestStats counts requests sent by the scenario executor.
type RequestStats struct {
	Total           int64 `json:"total"`
	TransportErrors int64 `json:"transportErrors"`
	TotalBytes      int64 `json:"totalBytes"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// RunMetrics is an immutable point-in-time view of a run. The live
// snapshot and the final result share this type; the final one also
// carries EndTime, thresholds and the overall verdict.
type RunMetrics struct {
	RunID     string    `json:"runId"`
	StartTime time.Time `json:"startTime"`
	Timestamp time.Time `json:"timestamp"`
	EndTime   time.Time `json:"endTime,omitempty"`

	Elapsed time.Duration `json:"elapsed"`

	Iterations IterationStats          `json:"iterations"`
	Checks     map[string]CheckCounts  `json:"checks"`
	Requests   RequestStats            `json:"requests"`
	Latency    LatencyStats            `json:"latency"`
	Steps      map[string]LatencyStats `json:"steps,omitempty"`

	// RPS is requests per second over the elapsed time.
	RPS float64 `json:"rps"`

	ActiveVUs int   `json:"activeVUs"`
	TargetVUs int   `json:"targetVUs"`
	PeakVUs   int   `json:"peakVUs"`
	Phase     Phase `json:"phase"`

	Warnings []string `json:"warnings,omitempty"`

	Thresholds []ThresholdResult `json:"thresholds,omitempty"`
	Passed     bool              `json:"passed"`
}

// ChecksTotal returns the pass/fail tally over every named check.
func (m *RunMetrics) ChecksTotal() CheckCounts {
	var total CheckCounts
	for _, c := range m.Checks {
		total.Passed += c.Passed
		total.Failed += c.Failed
	}
	return total
}

// ErrorRate returns the fraction of requests that failed at the transport
// level. Status-level failures are judged by checks.
func (m *RunMetrics) ErrorRate() float64 {
	if m.Requests.Total == 0 {
		return 0
	}
	return float64(m.Requests.TransportErrors) / float64(m.Requests.Total)
}
