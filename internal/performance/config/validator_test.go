package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/performance/engine"
)

func validConfig() *TestConfig {
	cfg := &TestConfig{
		Name:     "valid",
		Settings: GlobalSettings{BaseURL: "http://localhost:8080"},
		Schedule: ScheduleConfig{
			Stages: []StageConfig{{Duration: "10s", Target: 5}, {Duration: "5s", Target: 0}},
		},
		Scenario: ScenarioConfig{
			Steps: []StepConfig{
				{
					Name:        "create",
					Method:      "POST",
					URL:         "{{baseUrl}}/api/v1/users",
					LoadBearing: true,
					Checks:      []CheckConfig{{Type: "status", Value: "201"}},
					Extract:     []ExtractConfig{{Name: "id", Source: "body", Path: "data.id"}},
				},
				{
					Name:   "delete",
					Method: "DELETE",
					URL:    "{{baseUrl}}/api/v1/users/{{id}}",
				},
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	fixed := validConfig()
	fixed.Schedule = ScheduleConfig{VUs: 2, Duration: "30", Pause: &PacingConfig{Type: "random", Min: "1s", Max: "2s"}}
	assert.NoError(t, fixed.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*TestConfig)
		wantFields []string
	}{
		{
			name:       "no schedule",
			modify:     func(c *TestConfig) { c.Schedule = ScheduleConfig{} },
			wantFields: []string{"schedule"},
		},
		{
			name: "mixed schedule",
			modify: func(c *TestConfig) {
				c.Schedule.VUs = 3
			},
			wantFields: []string{"schedule"},
		},
		{
			name: "bad stages",
			modify: func(c *TestConfig) {
				c.Schedule.Stages = []StageConfig{{Duration: "soon", Target: 1}, {Duration: "1s", Target: -1}, {Target: 2}}
			},
			wantFields: []string{"schedule.stages[0].duration", "schedule.stages[1].target", "schedule.stages[2].duration"},
		},
		{
			name: "zero length schedule",
			modify: func(c *TestConfig) {
				c.Schedule.Stages = []StageConfig{{Duration: "0s", Target: 10}}
			},
			wantFields: []string{"schedule.stages"},
		},
		{
			name: "fixed without vus",
			modify: func(c *TestConfig) {
				c.Schedule = ScheduleConfig{Duration: "1m"}
			},
			wantFields: []string{"schedule.vus"},
		},
		{
			name: "fixed without duration",
			modify: func(c *TestConfig) {
				c.Schedule = ScheduleConfig{VUs: 1}
			},
			wantFields: []string{"schedule.duration"},
		},
		{
			name: "bad drain and tick",
			modify: func(c *TestConfig) {
				c.Schedule.GracefulStop = "-5s"
				c.Schedule.TickInterval = "often"
			},
			wantFields: []string{"schedule.gracefulStop", "schedule.tickInterval"},
		},
		{
			name: "random pause inverted",
			modify: func(c *TestConfig) {
				c.Schedule.Pause = &PacingConfig{Type: "random", Min: "2s", Max: "1s"}
			},
			wantFields: []string{"schedule.pause"},
		},
		{
			name: "unknown pause",
			modify: func(c *TestConfig) {
				c.Schedule.Pause = &PacingConfig{Type: "poisson"}
			},
			wantFields: []string{"schedule.pause.type"},
		},
		{
			name: "constant pause without duration",
			modify: func(c *TestConfig) {
				c.Schedule.Pause = &PacingConfig{Type: "constant"}
			},
			wantFields: []string{"schedule.pause.duration"},
		},
		{
			name: "settings",
			modify: func(c *TestConfig) {
				c.Settings.BaseURL = "ftp://host"
				c.Settings.MaxRPS = -1
				c.Settings.MaxIdleConnsPerHost = -2
			},
			wantFields: []string{"settings.baseUrl", "settings.maxRps", "settings.maxIdleConnsPerHost"},
		},
		{
			name:       "no steps",
			modify:     func(c *TestConfig) { c.Scenario.Steps = nil },
			wantFields: []string{"scenario.steps"},
		},
		{
			name: "step structure",
			modify: func(c *TestConfig) {
				c.Scenario.Steps[1] = StepConfig{
					Name:      "create",
					Method:    "FETCH",
					ThinkTime: "later",
					Checks:    []CheckConfig{{Type: "speed"}},
					Extract:   []ExtractConfig{{Source: "cookie"}},
				}
			},
			wantFields: []string{
				"scenario.steps[1].name",
				"scenario.steps[1].method",
				"scenario.steps[1].url",
				"scenario.steps[1].thinkTime",
				"scenario.steps[1].checks[0].type",
				"scenario.steps[1].extract[0].name",
				"scenario.steps[1].extract[0].source",
			},
		},
		{
			name: "thresholds",
			modify: func(c *TestConfig) {
				c.Thresholds = &engine.Thresholds{HTTPReqDuration: []string{"p95 < fast"}}
			},
			wantFields: []string{"thresholds"},
		},
		{
			name: "undefined placeholder",
			modify: func(c *TestConfig) {
				c.Scenario.Steps[1].URL = "{{baseUrl}}/api/v1/users/{{userId}}"
			},
			wantFields: []string{"scenario.steps[delete].{{userId}}"},
		},
		{
			name: "extracted value used before it exists",
			modify: func(c *TestConfig) {
				c.Scenario.Steps[0], c.Scenario.Steps[1] = c.Scenario.Steps[1], c.Scenario.Steps[0]
			},
			wantFields: []string{"scenario.steps[delete].{{id}}"},
		},
		{
			name: "bad check value",
			modify: func(c *TestConfig) {
				c.Scenario.Steps[0].Checks = []CheckConfig{{Type: "duration", Value: "quick"}}
			},
			wantFields: []string{"scenario.steps[create].checks[0]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs), "want *ValidationErrors, got %T", err)
			assert.Equal(t, tt.wantFields, verrs.Fields(), err.Error())
		})
	}
}

func TestBuild_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Schedule = ScheduleConfig{}

	plan, err := cfg.Build()
	assert.Nil(t, plan)
	assert.Error(t, err)
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("schedule.vus", "vus must be greater than 0")
	assert.Equal(t, "validation error on field 'schedule.vus': vus must be greater than 0", errs.Error())

	errs.Add("", "something else")
	assert.Contains(t, errs.Error(), "2 validation errors:")
	assert.Contains(t, errs.Error(), "2. validation error: something else")
}
