package scenario

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/surge/internal/httpclient"
)

// check is a CheckSpec compiled at setup time.
type check struct {
	name string
	typ  CheckType

	codes []int // nil means any 2xx

	path    string
	want    string
	hasWant bool

	schema *jsonschema.Schema

	maxLatency time.Duration
	contains   string
}

func defaultCheck(step string) *check {
	return &check{name: step + " status is 2xx", typ: CheckStatus}
}

func compileCheck(step string, spec CheckSpec) (*check, error) {
	c := &check{name: spec.Name, typ: spec.Type}

	switch spec.Type {
	case CheckStatus:
		if strings.TrimSpace(spec.Value) == "" {
			return nil, fmt.Errorf("status check requires a value")
		}
		for _, part := range strings.Split(spec.Value, ",") {
			code, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || code < 100 || code > 599 {
				return nil, fmt.Errorf("invalid status code %q", part)
			}
			c.codes = append(c.codes, code)
		}
		if c.name == "" {
			c.name = fmt.Sprintf("%s status is %s", step, spec.Value)
		}

	case CheckJSONPath:
		if spec.Path == "" {
			return nil, fmt.Errorf("jsonpath check requires a path")
		}
		c.path = toGJSONPath(spec.Path)
		c.want = spec.Value
		c.hasWant = spec.Value != ""
		if c.name == "" {
			if c.hasWant {
				c.name = fmt.Sprintf("%s %s is %s", step, spec.Path, spec.Value)
			} else {
				c.name = fmt.Sprintf("%s has %s", step, spec.Path)
			}
		}

	case CheckSchema:
		if spec.Value == "" {
			return nil, fmt.Errorf("schema check requires a schema")
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", strings.NewReader(spec.Value)); err != nil {
			return nil, fmt.Errorf("invalid schema: %w", err)
		}
		schema, err := compiler.Compile("schema.json")
		if err != nil {
			return nil, fmt.Errorf("invalid schema: %w", err)
		}
		c.schema = schema
		if c.name == "" {
			c.name = fmt.Sprintf("%s body matches schema", step)
		}

	case CheckDuration:
		d, err := time.ParseDuration(spec.Value)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid duration %q", spec.Value)
		}
		c.maxLatency = d
		if c.name == "" {
			c.name = fmt.Sprintf("%s duration < %s", step, spec.Value)
		}

	case CheckBodyContains:
		if spec.Value == "" {
			return nil, fmt.Errorf("contains check requires a value")
		}
		c.contains = spec.Value
		if c.name == "" {
			c.name = fmt.Sprintf("%s body contains %q", step, spec.Value)
		}

	default:
		return nil, fmt.Errorf("unknown check type %q", spec.Type)
	}

	return c, nil
}

// eval evaluates the check against a response. A nil response (transport
// error) always fails.
func (c *check) eval(resp *httpclient.Response) bool {
	if resp == nil {
		return false
	}

	switch c.typ {
	case CheckStatus:
		if c.codes == nil {
			return resp.StatusCode >= 200 && resp.StatusCode < 300
		}
		for _, code := range c.codes {
			if resp.StatusCode == code {
				return true
			}
		}
		return false

	case CheckJSONPath:
		if !gjson.ValidBytes(resp.Body) {
			return false
		}
		r := gjson.GetBytes(resp.Body, c.path)
		if !r.Exists() {
			return false
		}
		return !c.hasWant || r.String() == c.want

	case CheckSchema:
		var doc interface{}
		if err := json.Unmarshal(resp.Body, &doc); err != nil {
			return false
		}
		return c.schema.Validate(doc) == nil

	case CheckDuration:
		return resp.Latency < c.maxLatency

	case CheckBodyContains:
		return strings.Contains(string(resp.Body), c.contains)
	}
	return false
}

// extractor is an ExtractSpec compiled at setup time.
type extractor struct {
	name   string
	source string
	path   string
	re     *regexp.Regexp
}

func compileExtractor(spec ExtractSpec) (*extractor, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("extract requires a name")
	}
	x := &extractor{name: spec.Name, source: spec.Source}

	switch spec.Source {
	case "body", "":
		x.source = "body"
		if spec.Path != "" {
			x.path = toGJSONPath(spec.Path)
		}
	case "header":
		if spec.Path == "" {
			return nil, fmt.Errorf("header extract %q requires a path", spec.Name)
		}
		x.path = spec.Path
	case "status":
	default:
		return nil, fmt.Errorf("unknown extract source %q", spec.Source)
	}

	if spec.Regex != "" {
		re, err := regexp.Compile(spec.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid extract regex for %q: %w", spec.Name, err)
		}
		x.re = re
	}
	return x, nil
}

// extract returns the value and whether one was found.
func (x *extractor) extract(resp *httpclient.Response) (string, bool) {
	var value string

	switch x.source {
	case "body":
		if x.path == "" {
			value = string(resp.Body)
			break
		}
		r := gjson.GetBytes(resp.Body, x.path)
		if !r.Exists() || r.Type == gjson.Null {
			return "", false
		}
		value = r.String()
	case "header":
		value = resp.Headers.Get(x.path)
	case "status":
		value = strconv.Itoa(resp.StatusCode)
	}

	if x.re != nil {
		m := x.re.FindStringSubmatch(value)
		switch {
		case len(m) > 1:
			value = m[1]
		case len(m) == 1:
			value = m[0]
		default:
			return "", false
		}
	}

	return value, value != ""
}

// toGJSONPath converts a JSONPath expression ($.users[0].name) to the gjson
// path syntax (users.0.name). Plain gjson paths pass through unchanged.
func toGJSONPath(path string) string {
	if path == "$" {
		return "@this"
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	path = strings.NewReplacer("['", ".", "']", "", `["`, ".", `"]`, "", "[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}
