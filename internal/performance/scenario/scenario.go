// Package scenario defines the ordered, stateful request sequence a VU runs
// once per iteration, and the executor that runs it.
package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Scenario defines what a VU executes during each iteration.
type Scenario struct {
	// Name of the scenario
	Name string `json:"name" yaml:"name"`

	// Variables available to all steps
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Steps to execute in order
	Steps []*Step `json:"steps" yaml:"steps"`
}

// Step defines a single HTTP request of the scenario.
type Step struct {
	// Name for this step (used in check names and metrics)
	Name string `json:"name" yaml:"name"`

	// HTTP method
	Method string `json:"method" yaml:"method"`

	// URL (supports {{var}} substitution)
	URL string `json:"url" yaml:"url"`

	// Headers (values support substitution)
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body (raw substitution; use {{json var}} inside JSON strings)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// LoadBearing steps abort the iteration when their primary check fails
	LoadBearing bool `json:"loadBearing,omitempty" yaml:"loadBearing,omitempty"`

	// Checks evaluated against the response. The first one is primary.
	Checks []CheckSpec `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Extract values from the response into the iteration state
	Extract []ExtractSpec `json:"extract,omitempty" yaml:"extract,omitempty"`

	// ThinkTime after this step (skipped after the last one)
	ThinkTime time.Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
}

// CheckType identifies how a check is evaluated.
type CheckType string

const (
	// CheckStatus passes when the status code is one of Value ("200" or "200,204").
	CheckStatus CheckType = "status"
	// CheckJSONPath passes when Path exists in the JSON body and, if Value
	// is set, equals it.
	CheckJSONPath CheckType = "jsonpath"
	// CheckSchema passes when the body validates against the JSON schema in Value.
	CheckSchema CheckType = "schema"
	// CheckDuration passes when the request latency is below Value.
	CheckDuration CheckType = "duration"
	// CheckBodyContains passes when the body contains Value.
	CheckBodyContains CheckType = "contains"
)

// CheckSpec defines a named assertion.
type CheckSpec struct {
	Name  string    `json:"name,omitempty" yaml:"name,omitempty"`
	Type  CheckType `json:"type" yaml:"type"`
	Value string    `json:"value,omitempty" yaml:"value,omitempty"`
	Path  string    `json:"path,omitempty" yaml:"path,omitempty"`
}

// ExtractSpec defines how to extract a state value from a response.
type ExtractSpec struct {
	// Name of the state key to set
	Name string `json:"name" yaml:"name"`

	// Source: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path: header name, or JSONPath for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Regex applied to the body (or extracted value); first group wins
	Regex string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// Builtin state keys seeded for every iteration.
const (
	KeyVU        = "vu"
	KeyIteration = "iteration"
	KeyUniqueID  = "uniqueId"
	KeyUUID      = "uuid"
)

var builtinKeys = map[string]bool{
	KeyVU:        true,
	KeyIteration: true,
	KeyUniqueID:  true,
	KeyUUID:      true,
}

// placeholderRe matches {{name}} and {{json name}}. Plain placeholders are
// substituted raw; the json form escapes the value for use inside a JSON
// string literal, e.g. {"username":"{{json name}}"}.
var placeholderRe = regexp.MustCompile(`\{\{\s*(json\s+)?([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// placeholders returns the distinct variable names referenced in s.
func placeholders(s string) []string {
	matches := placeholderRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		if !seen[m[2]] {
			seen[m[2]] = true
			names = append(names, m[2])
		}
	}
	return names
}

// references returns every placeholder used by the step.
func (s *Step) references() []string {
	parts := []string{s.URL, s.Body}
	for _, v := range s.Headers {
		parts = append(parts, v)
	}
	return placeholders(strings.Join(parts, "\n"))
}

// ConfigError reports an invalid scenario definition.
type ConfigError struct {
	Step    string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("scenario: %s", e.Message)
	}
	if e.Field == "" {
		return fmt.Sprintf("scenario step %q: %s", e.Step, e.Message)
	}
	return fmt.Sprintf("scenario step %q: %s: %s", e.Step, e.Field, e.Message)
}

// State is the per-iteration bag of values threaded between steps.
type State map[string]string

// NewState seeds a state for one iteration.
func NewState(vu int, iteration int64) State {
	return State{
		KeyVU:        fmt.Sprintf("%d", vu),
		KeyIteration: fmt.Sprintf("%d", iteration),
		KeyUniqueID:  NewUniqueID(vu),
		KeyUUID:      NewUUID(),
	}
}

// resolve replaces placeholders from the state, then from vars. Unknown
// names are left untouched.
func resolve(input string, state State, vars map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return placeholderRe.ReplaceAllStringFunc(input, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		name := sub[2]
		v, ok := state[name]
		if !ok {
			v, ok = vars[name]
		}
		if !ok {
			return m
		}
		if sub[1] != "" {
			return jsonEscape(v)
		}
		return v
	})
}

// jsonEscape returns v encoded as a JSON string without the quotes.
func jsonEscape(v string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return v
	}
	out := bytes.TrimSpace(buf.Bytes())
	return string(out[1 : len(out)-1])
}
