package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// compiledStep is a Step with its checks and extractors prepared, and the
// state keys it needs from earlier steps.
type compiledStep struct {
	*Step
	checks     []*check
	extractors []*extractor
	requires   []string
}

// Executor runs one iteration of a scenario at a time. It holds no
// per-iteration state and is shared by every VU.
type Executor struct {
	scenario *Scenario
	steps    []*compiledStep
	sender   httpclient.Sender
	recorder metrics.Recorder
	logger   *zap.Logger
}

// IterationResult describes how an iteration ended.
type IterationResult struct {
	// StepsExecuted counts steps whose request was attempted, including
	// the one that caused an abort.
	StepsExecuted int

	// Aborted is set when a load-bearing step failed or a step's required
	// state was missing.
	Aborted     bool
	AbortStep   string
	AbortReason string

	// Cancelled is set when the context ended mid-iteration.
	Cancelled bool

	Duration time.Duration
}

// Compile validates a scenario without building an executor.
func Compile(sc *Scenario) error {
	_, err := compile(sc)
	return err
}

// NewExecutor validates the scenario and prepares it for execution.
// Every configuration problem is reported here, before any VU runs.
func NewExecutor(sc *Scenario, sender httpclient.Sender, recorder metrics.Recorder, logger *zap.Logger) (*Executor, error) {
	if sender == nil {
		return nil, errors.New("scenario: sender is required")
	}
	if recorder == nil {
		return nil, errors.New("scenario: recorder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	steps, err := compile(sc)
	if err != nil {
		return nil, err
	}

	return &Executor{
		scenario: sc,
		steps:    steps,
		sender:   sender,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "scenario"), zap.String("scenario", sc.Name)),
	}, nil
}

func compile(sc *Scenario) ([]*compiledStep, error) {
	if sc == nil {
		return nil, &ConfigError{Message: "scenario is nil"}
	}
	if len(sc.Steps) == 0 {
		return nil, &ConfigError{Message: "at least one step is required"}
	}

	var errs []error
	names := make(map[string]bool, len(sc.Steps))
	// keys produced by extraction in steps seen so far
	produced := make(map[string]bool)
	steps := make([]*compiledStep, 0, len(sc.Steps))

	for i, step := range sc.Steps {
		if step == nil {
			errs = append(errs, &ConfigError{Message: fmt.Sprintf("step %d is nil", i+1)})
			continue
		}
		if step.Name == "" {
			errs = append(errs, &ConfigError{Message: fmt.Sprintf("step %d has no name", i+1)})
			continue
		}
		if names[step.Name] {
			errs = append(errs, &ConfigError{Step: step.Name, Message: "duplicate step name"})
		}
		names[step.Name] = true

		cs := &compiledStep{Step: step}

		method := strings.ToUpper(step.Method)
		if !validMethods[method] {
			errs = append(errs, &ConfigError{Step: step.Name, Field: "method", Message: fmt.Sprintf("invalid HTTP method %q", step.Method)})
		}
		if step.URL == "" {
			errs = append(errs, &ConfigError{Step: step.Name, Field: "url", Message: "url is required"})
		}

		for _, ref := range step.references() {
			switch {
			case builtinKeys[ref]:
			case produced[ref]:
				cs.requires = append(cs.requires, ref)
			default:
				if _, ok := sc.Variables[ref]; !ok {
					errs = append(errs, &ConfigError{Step: step.Name, Field: "{{" + ref + "}}",
						Message: "references a value that is neither a variable nor extracted by an earlier step"})
				}
			}
		}

		for j, spec := range step.Checks {
			c, err := compileCheck(step.Name, spec)
			if err != nil {
				errs = append(errs, &ConfigError{Step: step.Name, Field: fmt.Sprintf("checks[%d]", j), Message: err.Error()})
				continue
			}
			cs.checks = append(cs.checks, c)
		}
		if len(step.Checks) == 0 {
			cs.checks = []*check{defaultCheck(step.Name)}
		}

		for j, spec := range step.Extract {
			x, err := compileExtractor(spec)
			if err != nil {
				errs = append(errs, &ConfigError{Step: step.Name, Field: fmt.Sprintf("extract[%d]", j), Message: err.Error()})
				continue
			}
			cs.extractors = append(cs.extractors, x)
		}
		// Produced keys become visible to later steps only
		for _, x := range cs.extractors {
			produced[x.name] = true
		}

		steps = append(steps, cs)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return steps, nil
}

// Scenario returns the scenario definition.
func (e *Executor) Scenario() *Scenario {
	return e.scenario
}

// StepNames returns the step names in execution order.
func (e *Executor) StepNames() []string {
	names := make([]string, len(e.steps))
	for i, s := range e.steps {
		names[i] = s.Name
	}
	return names
}

// CheckNames returns every check name the scenario can record.
func (e *Executor) CheckNames() []string {
	var names []string
	for _, s := range e.steps {
		for _, c := range s.checks {
			names = append(names, c.name)
		}
	}
	return names
}

// RunIteration executes every step once, in order, threading a fresh
// State between them.
//
// A load-bearing step whose primary check fails (or whose declared
// extraction yields nothing) aborts the iteration. A step that needs state
// an earlier step failed to produce aborts it as well, before sending.
// Other failures are recorded and the next step runs.
func (e *Executor) RunIteration(ctx context.Context, vu int, iteration int64) IterationResult {
	start := time.Now()
	state := NewState(vu, iteration)
	result := IterationResult{}

	finish := func() IterationResult {
		result.Duration = time.Since(start)
		return result
	}

	for i, step := range e.steps {
		if ctx.Err() != nil {
			result.Cancelled = true
			return finish()
		}

		if missing := missingKeys(step.requires, state); len(missing) > 0 {
			result.Aborted = true
			result.AbortStep = step.Name
			result.AbortReason = fmt.Sprintf("missing state %s", strings.Join(missing, ", "))
			return finish()
		}

		result.StepsExecuted++
		resp, err := e.sender.Send(ctx, e.buildRequest(step, state))
		if err != nil && ctx.Err() != nil {
			// Hard stop; the outcome says nothing about the target
			result.Cancelled = true
			return finish()
		}

		if err != nil {
			e.recorder.RecordRequest(step.Name, 0, 0, true)
			e.logger.Debug("transport error",
				zap.Int("vu", vu),
				zap.String("step", step.Name),
				zap.Error(err))
		} else {
			e.recorder.RecordRequest(step.Name, resp.Latency, int64(len(resp.Body)), false)
		}

		primaryPassed := false
		for j, c := range step.checks {
			passed := c.eval(resp)
			e.recorder.RecordCheck(c.name, passed)
			if j == 0 {
				primaryPassed = passed
			}
		}

		if primaryPassed {
			for _, x := range step.extractors {
				value, ok := x.extract(resp)
				if !ok {
					if step.LoadBearing {
						result.Aborted = true
						result.AbortStep = step.Name
						result.AbortReason = fmt.Sprintf("could not extract %s", x.name)
						return finish()
					}
					continue
				}
				state[x.name] = value
			}
		} else if step.LoadBearing {
			result.Aborted = true
			result.AbortStep = step.Name
			if err != nil {
				result.AbortReason = err.Error()
			} else {
				result.AbortReason = fmt.Sprintf("check %q failed with status %d", step.checks[0].name, resp.StatusCode)
			}
			return finish()
		}

		if step.ThinkTime > 0 && i < len(e.steps)-1 {
			select {
			case <-ctx.Done():
				result.Cancelled = true
				return finish()
			case <-time.After(step.ThinkTime):
			}
		}
	}

	return finish()
}

func (e *Executor) buildRequest(step *compiledStep, state State) *httpclient.Request {
	req := &httpclient.Request{
		Method: strings.ToUpper(step.Method),
		URL:    resolve(step.URL, state, e.scenario.Variables),
		Body:   resolve(step.Body, state, e.scenario.Variables),
	}
	if len(step.Headers) > 0 {
		req.Headers = make(map[string]string, len(step.Headers))
		for k, v := range step.Headers {
			req.Headers[k] = resolve(v, state, e.scenario.Variables)
		}
	}
	return req
}

func missingKeys(keys []string, state State) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := state[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}
