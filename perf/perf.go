package perf

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance/config"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
	"github.com/wesleyorama2/surge/internal/performance/scenario"
)

type (
	// TestConfig is a parsed test file.
	TestConfig = config.TestConfig
	// Result is the final metrics of a run.
	Result = metrics.RunMetrics
	// CheckResult is a single evaluated check.
	CheckResult = metrics.CheckResult
	// Schedule describes how many VUs run over time.
	Schedule = executor.Schedule
	// Stage is one segment of a ramping schedule.
	Stage = executor.Stage
	// Scenario is the request sequence every VU iterates.
	Scenario = scenario.Scenario
	// Step is one request of a scenario.
	Step = scenario.Step
	// Thresholds are pass/fail criteria on the final metrics.
	Thresholds = engine.Thresholds
	// Sender sends the scenario's HTTP requests.
	Sender = httpclient.Sender
)

// LoadConfig reads a YAML or JSON test file.
func LoadConfig(path string) (*TestConfig, error) {
	return config.LoadConfig(path)
}

// ParseConfig parses test file contents; the filename extension selects
// the format.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	return config.ParseConfig(data, filename)
}

// Canonical returns the user-counter scenario against baseURL.
func Canonical(baseURL string) *Scenario {
	return scenario.Canonical(baseURL)
}

// Option configures a Runner.
type Option func(*Runner)

// WithSender replaces the HTTP client built from the test settings.
func WithSender(s Sender) Option {
	return func(r *Runner) {
		r.sender = s
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithCheckSink receives every check as it is recorded.
func WithCheckSink(fn func(CheckResult)) Option {
	return func(r *Runner) {
		r.checkSink = metrics.CheckSinkFunc(fn)
	}
}

// Runner runs tests. A Runner runs one test at a time.
type Runner struct {
	config    *TestConfig
	sender    Sender
	logger    *zap.Logger
	checkSink metrics.CheckSink

	eng atomic.Pointer[engine.Engine]
}

// NewRunner creates a runner for cfg. cfg may be nil when only RunScenario
// is used.
func NewRunner(cfg *TestConfig, opts ...Option) *Runner {
	r := &Runner{config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run validates the configuration and runs it.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.config == nil {
		return nil, fmt.Errorf("runner has no test configuration")
	}
	plan, err := r.config.Build()
	if err != nil {
		return nil, err
	}

	sender := r.sender
	if sender == nil {
		client := httpclient.New(plan.Client)
		defer client.CloseIdleConnections()
		sender = client
	}

	return r.run(ctx, sender, plan.Thresholds, plan.Schedule, plan.Scenario)
}

// RunScenario runs sc along schedule without a test file. Thresholds from
// the runner's configuration apply when it has one.
func (r *Runner) RunScenario(ctx context.Context, schedule *Schedule, sc *Scenario) (*Result, error) {
	var thresholds *Thresholds
	if r.config != nil {
		thresholds = r.config.Thresholds
	}
	return r.run(ctx, r.sender, thresholds, schedule, sc)
}

func (r *Runner) run(ctx context.Context, sender Sender, thresholds *Thresholds, schedule *Schedule, sc *Scenario) (*Result, error) {
	eng := engine.New(engine.Options{
		Sender:     sender,
		Thresholds: thresholds,
		CheckSink:  r.checkSink,
		Logger:     r.logger,
	})
	r.eng.Store(eng)
	return eng.Run(ctx, schedule, sc)
}

// Snapshot returns the live metrics of the current or last run, or nil
// before the first run.
func (r *Runner) Snapshot() *Result {
	eng := r.eng.Load()
	if eng == nil {
		return nil
	}
	return eng.Snapshot()
}

// RunTest runs cfg with default options.
func RunTest(ctx context.Context, cfg *TestConfig) (*Result, error) {
	return NewRunner(cfg).Run(ctx)
}
