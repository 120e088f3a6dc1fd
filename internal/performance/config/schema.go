// Package config provides configuration parsing and validation for load
// test files.
package config

import (
	"encoding/json"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/engine"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "user-counter"
//	settings:
//	  baseUrl: "http://localhost:8080"
//	  timeout: 10s
//	schedule:
//	  stages:
//	    - duration: 30s
//	      target: 200
//	    - duration: 10s
//	      target: 0
//	scenario:
//	  steps:
//	    - name: create
//	      method: POST
//	      url: "{{baseUrl}}/api/v1/users"
//	      loadBearing: true
type TestConfig struct {
	// Name labels the run in the summary and result files
	Name string `json:"name" yaml:"name"`

	// Description is free text
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains HTTP client settings
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are available to every step as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Schedule is the VU load profile
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`

	// Scenario is what each VU runs once per iteration
	Scenario ScenarioConfig `json:"scenario" yaml:"scenario"`

	// Thresholds decide the verdict of the run
	Thresholds *engine.Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// GlobalSettings contains HTTP client settings shared by every VU.
type GlobalSettings struct {
	// BaseURL is exposed as {{baseUrl}} and prefixed to relative step URLs
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxRPS caps the request rate across all VUs (0 = unlimited)
	MaxRPS float64 `json:"maxRps,omitempty" yaml:"maxRps,omitempty"`

	// MaxConnectionsPerHost caps open connections to one host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost sizes the keep-alive pool
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// UserAgent overrides the surge/<version> User-Agent
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are applied to every request before step headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScheduleConfig is either a list of stages or a fixed vus/duration pair.
type ScheduleConfig struct {
	// Stages defines the ramping profile
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// VUs is the fixed VU count (with Duration, instead of Stages)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration of the fixed profile (e.g., "30s", "2m")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Pause controls time between iterations of a VU
	Pause *PacingConfig `json:"pause,omitempty" yaml:"pause,omitempty"`

	// GracefulStop bounds the final drain
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// TickInterval is how often the scheduler reconciles the VU count
	TickInterval string `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`
}

// StageConfig defines a single stage of a ramping schedule.
type StageConfig struct {
	// Duration of the stage: Go syntax or bare seconds
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name shows up in progress output
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig is the pause a VU takes between two iterations.
type PacingConfig struct {
	// Type: none, constant or random
	Type string `json:"type" yaml:"type"`

	// Duration of a constant pause
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min and Max bound a random pause
	Min string `json:"min,omitempty" yaml:"min,omitempty"`
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// ScenarioConfig is the ordered list of steps.
type ScenarioConfig struct {
	// Name defaults to the test name
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Steps []StepConfig `json:"steps" yaml:"steps"`
}

// StepConfig defines a single HTTP request of the scenario.
type StepConfig struct {
	// Name for this step (used in check names and metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method defaults to GET
	Method string `json:"method" yaml:"method"`

	// URL may start with "/" to be resolved against settings.baseUrl
	URL string `json:"url" yaml:"url"`

	// Headers are merged over settings.headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is sent as is after {{var}} substitution. Values are inserted raw;
	// {{json var}} escapes them for use inside a JSON string.
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// LoadBearing steps abort the iteration when their primary check fails
	LoadBearing bool `json:"loadBearing,omitempty" yaml:"loadBearing,omitempty"`

	// ThinkTime is slept after the step unless it is the last one
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Checks validate the response. The first one is primary.
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Extract defines state extraction from the response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// CheckConfig defines a named response check.
type CheckConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type: "status", "jsonpath", "schema", "duration", "contains"
	Type string `json:"type" yaml:"type"`

	// Value is the expected value (for schema: the JSON schema document)
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the JSONPath for jsonpath checks
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ExtractConfig defines how to extract a state value from a response.
type ExtractConfig struct {
	// Name of the state key to store
	Name string `json:"name" yaml:"name"`

	// Source: body, header or status
	Source string `json:"source" yaml:"source"`

	// Path is the header name, or JSONPath for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Regex narrows the extracted value to its first capture group
	Regex string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings
// or bare seconds.
type Duration time.Duration

// GetDuration returns d, or defaultValue when d is zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
