package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// ResultFormat is the encoding of a written result file.
type ResultFormat string

const (
	FormatJSON  ResultFormat = "json"
	FormatYAML  ResultFormat = "yaml"
	FormatJUnit ResultFormat = "junit"
)

// FormatForPath picks the result format from a file extension:
// .json, .yaml/.yml, or .xml for JUnit.
func FormatForPath(path string) (ResultFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".xml":
		return FormatJUnit, nil
	}
	return "", fmt.Errorf("unsupported result file extension %q (want .json, .yaml, .yml or .xml)", filepath.Ext(path))
}

// resultDocument is the JSON/YAML shape of a result file.
type resultDocument struct {
	Name   string              `json:"name" yaml:"name"`
	Result *metrics.RunMetrics `json:"result" yaml:"result"`
}

// JUnitTestSuites is the root element of a JUnit report.
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite groups the checks or the thresholds of a run.
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

// JUnitTestCase is one check or threshold.
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
}

// JUnitFailure describes why a test case failed.
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// WriteResult encodes the final result of a run.
func WriteResult(w io.Writer, format ResultFormat, name string, result *metrics.RunMetrics) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resultDocument{Name: name, Result: result})
	case FormatYAML:
		return writeYAML(w, resultDocument{Name: name, Result: result})
	case FormatJUnit:
		out, err := xml.MarshalIndent(junitSuites(name, result), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode JUnit XML: %w", err)
		}
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", out)
		return err
	}
	return fmt.Errorf("unknown result format %q", format)
}

// writeYAML encodes v with the same keys as its JSON form.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" && n.Value == "" {
		n.Style = yaml.DoubleQuotedStyle
	} else {
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// WriteResultFile writes the result to path, in the format its extension names.
func WriteResultFile(path, name string, result *metrics.RunMetrics) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create result file: %w", err)
	}
	if err := WriteResult(f, format, name, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// junitSuites reports every check as a test case failing when any of its
// evaluations failed, and every threshold as a test case.
func junitSuites(name string, result *metrics.RunMetrics) *JUnitTestSuites {
	elapsed := result.Elapsed.Seconds()
	timestamp := result.StartTime.UTC().Format("2006-01-02T15:04:05")

	checks := JUnitTestSuite{
		Name:      name + ".checks",
		Time:      elapsed,
		Timestamp: timestamp,
		SystemOut: fmt.Sprintf("runId=%s iterations=%d aborted=%d requests=%d peakVUs=%d",
			result.RunID, result.Iterations.Completed, result.Iterations.Aborted, result.Requests.Total, result.PeakVUs),
	}
	names := make([]string, 0, len(result.Checks))
	for n := range result.Checks {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		counts := result.Checks[n]
		tc := JUnitTestCase{Name: n, Classname: name}
		if counts.Failed > 0 {
			checks.Failures++
			tc.Failure = &JUnitFailure{
				Message: fmt.Sprintf("%d of %d evaluations failed", counts.Failed, counts.Total()),
				Type:    "check",
				Content: fmt.Sprintf("passed=%d failed=%d", counts.Passed, counts.Failed),
			}
		}
		checks.TestCases = append(checks.TestCases, tc)
	}
	checks.Tests = len(checks.TestCases)

	suites := &JUnitTestSuites{TestSuites: []JUnitTestSuite{checks}}

	if len(result.Thresholds) > 0 {
		thresholds := JUnitTestSuite{Name: name + ".thresholds", Time: elapsed, Timestamp: timestamp}
		for _, t := range result.Thresholds {
			tc := JUnitTestCase{Name: t.Metric + " " + t.Expression, Classname: name}
			if !t.Passed {
				thresholds.Failures++
				msg := t.Message
				if msg == "" {
					msg = "actual: " + t.Value
				}
				tc.Failure = &JUnitFailure{Message: msg, Type: "threshold", Content: t.Value}
			}
			thresholds.TestCases = append(thresholds.TestCases, tc)
		}
		thresholds.Tests = len(thresholds.TestCases)
		suites.TestSuites = append(suites.TestSuites, thresholds)
	}

	return suites
}
