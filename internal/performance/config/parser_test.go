package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/performance/executor"
	"github.com/wesleyorama2/surge/internal/performance/scenario"
)

const userCounterYAML = `
name: "user-counter"
settings:
  baseUrl: "http://localhost:8080"
  timeout: 10s
  maxRps: 500
variables:
  prefix: "load"
schedule:
  stages:
    - duration: 30s
      target: 200
    - duration: 1m
      target: 200
      name: hold
    - duration: 10
      target: 0
  pause:
    type: constant
    duration: 1s
  gracefulStop: 15s
scenario:
  steps:
    - name: create
      method: post
      url: "/api/v1/users"
      headers:
        Content-Type: application/json
      body: '{"username":"{{prefix}}-{{uniqueId}}"}'
      loadBearing: true
      checks:
        - name: "create user counter status is 201"
          type: status
          value: "201"
      extract:
        - name: id
          source: body
          path: data.id
    - name: increment
      method: PUT
      url: "{{baseUrl}}/api/v1/users/{{id}}/increment"
      thinkTime: 100ms
      checks:
        - type: status
          value: "200"
thresholds:
  http_req_duration:
    - "p95 < 500ms"
  checks:
    - "rate > 0.99"
`

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "fraction as seconds", input: "1.5", expected: 1500 * time.Millisecond},
		{name: "padded", input: " 5s ", expected: 5 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(userCounterYAML), "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, "user-counter", cfg.Name)
	assert.Equal(t, "http://localhost:8080", cfg.Settings.BaseURL)
	assert.Equal(t, Duration(10*time.Second), cfg.Settings.Timeout)
	assert.Equal(t, 500.0, cfg.Settings.MaxRPS)
	assert.Equal(t, "load", cfg.Variables["prefix"])

	require.Len(t, cfg.Schedule.Stages, 3)
	assert.Equal(t, "hold", cfg.Schedule.Stages[1].Name)
	assert.Equal(t, "10", cfg.Schedule.Stages[2].Duration)

	require.Len(t, cfg.Scenario.Steps, 2)
	create := cfg.Scenario.Steps[0]
	assert.Equal(t, "POST", create.Method, "methods are upper-cased")
	assert.Equal(t, "{{baseUrl}}/api/v1/users", create.URL, "relative URLs get the base URL")
	assert.True(t, create.LoadBearing)
	assert.Equal(t, "user-counter", cfg.Scenario.Name)

	require.NotNil(t, cfg.Thresholds)
	assert.Equal(t, []string{"p95 < 500ms"}, cfg.Thresholds.HTTPReqDuration)
	assert.Equal(t, []string{"rate > 0.99"}, cfg.Thresholds.Checks)

	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
		"name": "JSON Test Config",
		"settings": {"baseUrl": "https://api.example.com", "timeout": 5},
		"schedule": {"vus": 3, "duration": "1m"},
		"scenario": {
			"steps": [
				{"method": "GET", "url": "/health"}
			]
		}
	}`

	cfg, err := ParseConfig([]byte(jsonConfig), "test.json")
	require.NoError(t, err)

	assert.Equal(t, "JSON Test Config", cfg.Name)
	assert.Equal(t, Duration(5*time.Second), cfg.Settings.Timeout)
	assert.Equal(t, 3, cfg.Schedule.VUs)
	assert.Equal(t, "step-1", cfg.Scenario.Steps[0].Name)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_UnknownField(t *testing.T) {
	_, err := ParseConfig([]byte("name: x\nschedul:\n  vus: 1\n"), "test.yaml")
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`{"name": "x", "scenarios": {}}`), "test.json")
	assert.Error(t, err)
}

func TestParseConfig_EnvExpansion(t *testing.T) {
	t.Setenv("SURGE_TEST_BASE_URL", "http://target:9000")

	data := `
name: env
settings:
  baseUrl: "${SURGE_TEST_BASE_URL}"
variables:
  token: "${SURGE_TEST_UNSET_TOKEN:-anonymous}"
  raw: "${SURGE_TEST_UNSET_RAW}"
schedule: {vus: 1, duration: 1s}
scenario:
  steps:
    - url: /health
`
	cfg, err := ParseConfig([]byte(data), "env.yml")
	require.NoError(t, err)

	assert.Equal(t, "http://target:9000", cfg.Settings.BaseURL)
	assert.Equal(t, "anonymous", cfg.Variables["token"])
	assert.Equal(t, "${SURGE_TEST_UNSET_RAW}", cfg.Variables["raw"])
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user-counter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(userCounterYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "user-counter", cfg.Name)
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestApplyDefaults(t *testing.T) {
	cfg := &TestConfig{
		Name:     "Test",
		Schedule: ScheduleConfig{Pause: &PacingConfig{}},
		Scenario: ScenarioConfig{
			Steps: []StepConfig{
				{Method: "", URL: "/test"},
				{Name: "named", Method: "delete", URL: "http://host/x"},
			},
		},
	}

	ApplyDefaults(cfg)

	assert.Equal(t, Duration(DefaultTimeout), cfg.Settings.Timeout)
	assert.Contains(t, cfg.Settings.UserAgent, "surge/")
	assert.Equal(t, "Test", cfg.Scenario.Name)
	assert.Equal(t, "none", cfg.Schedule.Pause.Type)

	assert.Equal(t, "GET", cfg.Scenario.Steps[0].Method)
	assert.Equal(t, "step-1", cfg.Scenario.Steps[0].Name)
	assert.Equal(t, "/test", cfg.Scenario.Steps[0].URL, "no base URL to prefix")
	assert.Equal(t, "DELETE", cfg.Scenario.Steps[1].Method)
	assert.Equal(t, "named", cfg.Scenario.Steps[1].Name)
}

func TestMergeVariables(t *testing.T) {
	result := MergeVariables(
		map[string]string{"a": "1", "b": "2"},
		nil,
		map[string]string{"b": "3", "c": "4"},
	)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, result)
}

func TestBuild(t *testing.T) {
	cfg, err := ParseConfig([]byte(userCounterYAML), "test.yaml")
	require.NoError(t, err)

	plan, err := cfg.Build()
	require.NoError(t, err)

	assert.Equal(t, "user-counter", plan.Name)
	assert.Equal(t, []executor.Stage{
		{Duration: 30 * time.Second, Target: 200},
		{Duration: time.Minute, Target: 200, Name: "hold"},
		{Duration: 10 * time.Second, Target: 0},
	}, plan.Schedule.Stages)
	assert.Equal(t, 15*time.Second, plan.Schedule.GracefulStop)
	require.NotNil(t, plan.Schedule.Pause)
	assert.Equal(t, executor.PacingConstant, plan.Schedule.Pause.Type)
	assert.Equal(t, time.Second, plan.Schedule.Pause.Duration)
	assert.NoError(t, plan.Schedule.Validate())

	assert.Equal(t, "http://localhost:8080", plan.Scenario.Variables["baseUrl"])
	assert.Equal(t, "load", plan.Scenario.Variables["prefix"])
	require.Len(t, plan.Scenario.Steps, 2)
	inc := plan.Scenario.Steps[1]
	assert.Equal(t, 100*time.Millisecond, inc.ThinkTime)
	assert.Equal(t, []scenario.CheckSpec{{Type: scenario.CheckStatus, Value: "200"}}, inc.Checks)
	assert.Equal(t, []scenario.ExtractSpec{{Name: "id", Source: "body", Path: "data.id"}}, plan.Scenario.Steps[0].Extract)
	assert.NoError(t, scenario.Compile(plan.Scenario))

	assert.Equal(t, 10*time.Second, plan.Client.Timeout)
	assert.Equal(t, 500.0, plan.Client.MaxRPS)
	assert.Equal(t, cfg.Thresholds, plan.Thresholds)
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{`"30s"`, 30 * time.Second, false},
		{`"1m30s"`, 90 * time.Second, false},
		{`15`, 15 * time.Second, false},
		{`""`, 0, false},
		{`null`, 0, false},
		{`"soon"`, 0, true},
	}

	for _, tt := range tests {
		var d Duration
		err := d.UnmarshalJSON([]byte(tt.input))
		if (err != nil) != tt.wantErr {
			t.Errorf("UnmarshalJSON(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if time.Duration(d) != tt.want {
			t.Errorf("UnmarshalJSON(%s) = %v, want %v", tt.input, time.Duration(d), tt.want)
		}
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))
}
