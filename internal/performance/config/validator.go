package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/surge/internal/performance/scenario"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field path of every error, in order.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		fields[i] = err.Field
	}
	return fields
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem
// found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateSettings(&c.Settings, errs)
	validateSchedule(&c.Schedule, errs)
	validateScenario(&c.Scenario, errs)

	if err := c.Thresholds.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			errs.Add("thresholds", line)
		}
	}

	// Only compile when the structure is sound, otherwise the same problem
	// is reported twice.
	if !errs.HasErrors() {
		sc, err := c.BuildScenario()
		if err == nil {
			err = scenario.Compile(sc)
		}
		addScenarioErrors(err, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", "scheme must be http or https")
		}
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.MaxRPS < 0 {
		errs.Add("settings.maxRps", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}

func validateSchedule(s *ScheduleConfig, errs *ValidationErrors) {
	ramping := len(s.Stages) > 0
	fixed := s.VUs != 0 || s.Duration != ""

	switch {
	case ramping && fixed:
		errs.Add("schedule", "stages cannot be combined with vus/duration")
	case !ramping && !fixed:
		errs.Add("schedule", "either stages or vus with duration is required")
	case ramping:
		var total int64
		before := len(errs.Errors)
		for i, stage := range s.Stages {
			total += validateStage(fmt.Sprintf("schedule.stages[%d]", i), &stage, errs)
		}
		if total == 0 && len(errs.Errors) == before {
			errs.Add("schedule.stages", "total stage duration must be greater than 0")
		}
	default:
		if s.VUs <= 0 {
			errs.Add("schedule.vus", "vus must be greater than 0")
		}
		if s.Duration == "" {
			errs.Add("schedule.duration", "duration is required with vus")
		} else if d, err := ParseDurationString(s.Duration); err != nil {
			errs.Add("schedule.duration", fmt.Sprintf("invalid duration: %v", err))
		} else if d <= 0 {
			errs.Add("schedule.duration", "duration must be greater than 0")
		}
	}

	validateOptionalDuration("schedule.gracefulStop", s.GracefulStop, errs)
	validateOptionalDuration("schedule.tickInterval", s.TickInterval, errs)

	if s.Pause != nil {
		validatePacing("schedule.pause", s.Pause, errs)
	}
}

// validateStage returns the parsed stage duration, or 0 when invalid.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) int64 {
	var d int64
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if dur, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if dur < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	} else {
		d = int64(dur)
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
	return d
}

func validateOptionalDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(field, "cannot be negative")
	}
}

func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	switch pacing.Type {
	case "none":
	case "constant":
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		} else if _, err := ParseDurationString(pacing.Duration); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		}
	case "random":
		minDur, minErr := ParseDurationString(pacing.Min)
		maxDur, maxErr := ParseDurationString(pacing.Max)
		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		} else if minErr != nil {
			errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", minErr))
		}
		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		} else if maxErr != nil {
			errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", maxErr))
		}
		if minErr == nil && maxErr == nil && minDur > maxDur {
			errs.Add(prefix, "min must be less than or equal to max")
		}
	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}
}

func validateScenario(sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Steps) == 0 {
		errs.Add("scenario.steps", "at least one step is required")
	}

	seen := make(map[string]bool, len(sc.Steps))
	for i, step := range sc.Steps {
		prefix := fmt.Sprintf("scenario.steps[%d]", i)
		if seen[step.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate step name: %s", step.Name))
		}
		seen[step.Name] = true
		validateStep(prefix, &step, errs)
	}
}

func validateStep(prefix string, step *StepConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	if step.Method == "" {
		errs.Add(prefix+".method", "method is required")
	} else if !validMethods[strings.ToUpper(step.Method)] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", step.Method))
	}

	if step.URL == "" {
		errs.Add(prefix+".url", "url is required")
	}

	validateOptionalDuration(prefix+".thinkTime", step.ThinkTime, errs)

	validChecks := map[string]bool{
		string(scenario.CheckStatus):       true,
		string(scenario.CheckJSONPath):     true,
		string(scenario.CheckSchema):       true,
		string(scenario.CheckDuration):     true,
		string(scenario.CheckBodyContains): true,
	}
	for i, check := range step.Checks {
		field := fmt.Sprintf("%s.checks[%d]", prefix, i)
		if check.Type == "" {
			errs.Add(field+".type", "type is required")
		} else if !validChecks[check.Type] {
			errs.Add(field+".type", fmt.Sprintf("invalid check type: %s", check.Type))
		}
	}

	validSources := map[string]bool{"body": true, "header": true, "status": true}
	for i, extract := range step.Extract {
		field := fmt.Sprintf("%s.extract[%d]", prefix, i)
		if extract.Name == "" {
			errs.Add(field+".name", "name is required")
		}
		if extract.Source == "" {
			errs.Add(field+".source", "source is required")
		} else if !validSources[extract.Source] {
			errs.Add(field+".source", fmt.Sprintf("invalid source: %s", extract.Source))
		}
	}
}

// addScenarioErrors flattens the scenario compiler's errors into errs.
func addScenarioErrors(err error, errs *ValidationErrors) {
	if err == nil {
		return
	}

	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			addScenarioErrors(e, errs)
		}
		return
	}

	var cfgErr *scenario.ConfigError
	if errors.As(err, &cfgErr) {
		field := "scenario"
		if cfgErr.Step != "" {
			field = fmt.Sprintf("scenario.steps[%s]", cfgErr.Step)
		}
		if cfgErr.Field != "" {
			field += "." + cfgErr.Field
		}
		errs.Add(field, cfgErr.Message)
		return
	}
	errs.Add("scenario", err.Error())
}
