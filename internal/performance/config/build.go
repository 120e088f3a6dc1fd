package config

import (
	"fmt"

	"github.com/wesleyorama2/surge/internal/httpclient"
	"github.com/wesleyorama2/surge/internal/performance/engine"
	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/scenario"
)

// Plan is a validated configuration converted to the engine's types.
type Plan struct {
	Name       string
	Schedule   *executor.Schedule
	Scenario   *scenario.Scenario
	Client     httpclient.Config
	Thresholds *engine.Thresholds
}

// Build validates the configuration and converts it into a Plan.
func (c *TestConfig) Build() (*Plan, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	schedule, err := c.BuildSchedule()
	if err != nil {
		return nil, err
	}
	sc, err := c.BuildScenario()
	if err != nil {
		return nil, err
	}

	return &Plan{
		Name:       c.Name,
		Schedule:   schedule,
		Scenario:   sc,
		Client:     c.ClientConfig(),
		Thresholds: c.Thresholds,
	}, nil
}

// BuildSchedule converts the schedule section.
func (c *TestConfig) BuildSchedule() (*executor.Schedule, error) {
	s := &c.Schedule
	schedule := &executor.Schedule{VUs: s.VUs}

	var err error
	for i, st := range s.Stages {
		stage := executor.Stage{Target: st.Target, Name: st.Name}
		if stage.Duration, err = ParseDurationString(st.Duration); err != nil {
			return nil, fmt.Errorf("schedule.stages[%d].duration: %w", i, err)
		}
		schedule.Stages = append(schedule.Stages, stage)
	}

	if schedule.Duration, err = ParseDurationString(s.Duration); err != nil {
		return nil, fmt.Errorf("schedule.duration: %w", err)
	}
	if schedule.GracefulStop, err = ParseDurationString(s.GracefulStop); err != nil {
		return nil, fmt.Errorf("schedule.gracefulStop: %w", err)
	}
	if schedule.TickInterval, err = ParseDurationString(s.TickInterval); err != nil {
		return nil, fmt.Errorf("schedule.tickInterval: %w", err)
	}

	if p := s.Pause; p != nil {
		pacing := &executor.PacingConfig{Type: executor.PacingType(p.Type)}
		if pacing.Duration, err = ParseDurationString(p.Duration); err != nil {
			return nil, fmt.Errorf("schedule.pause.duration: %w", err)
		}
		if pacing.Min, err = ParseDurationString(p.Min); err != nil {
			return nil, fmt.Errorf("schedule.pause.min: %w", err)
		}
		if pacing.Max, err = ParseDurationString(p.Max); err != nil {
			return nil, fmt.Errorf("schedule.pause.max: %w", err)
		}
		schedule.Pause = pacing
	}

	return schedule, nil
}

// BuildScenario converts the scenario section. settings.baseUrl is exposed
// as the baseUrl variable unless the variables override it.
func (c *TestConfig) BuildScenario() (*scenario.Scenario, error) {
	base := map[string]string{}
	if c.Settings.BaseURL != "" {
		base["baseUrl"] = c.Settings.BaseURL
	}

	sc := &scenario.Scenario{
		Name:      c.Scenario.Name,
		Variables: MergeVariables(base, c.Variables),
	}

	for i, stepCfg := range c.Scenario.Steps {
		think, err := ParseDurationString(stepCfg.ThinkTime)
		if err != nil {
			return nil, fmt.Errorf("scenario.steps[%d].thinkTime: %w", i, err)
		}

		step := &scenario.Step{
			Name:        stepCfg.Name,
			Method:      stepCfg.Method,
			URL:         stepCfg.URL,
			Headers:     stepCfg.Headers,
			Body:        stepCfg.Body,
			LoadBearing: stepCfg.LoadBearing,
			ThinkTime:   think,
		}
		for _, ch := range stepCfg.Checks {
			step.Checks = append(step.Checks, scenario.CheckSpec{
				Name:  ch.Name,
				Type:  scenario.CheckType(ch.Type),
				Value: ch.Value,
				Path:  ch.Path,
			})
		}
		for _, ex := range stepCfg.Extract {
			step.Extract = append(step.Extract, scenario.ExtractSpec{
				Name:   ex.Name,
				Source: ex.Source,
				Path:   ex.Path,
				Regex:  ex.Regex,
			})
		}
		sc.Steps = append(sc.Steps, step)
	}

	return sc, nil
}

// ClientConfig converts the settings section.
func (c *TestConfig) ClientConfig() httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = c.Settings.Timeout.GetDuration(DefaultTimeout)
	cfg.MaxRPS = c.Settings.MaxRPS
	cfg.MaxConnsPerHost = c.Settings.MaxConnectionsPerHost
	if c.Settings.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = c.Settings.MaxIdleConnsPerHost
	}
	if c.Settings.UserAgent != "" {
		cfg.UserAgent = c.Settings.UserAgent
	}
	cfg.Headers = c.Settings.Headers
	return cfg
}
