package engine

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// Thresholds are pass/fail criteria evaluated against the final metrics.
//
// Each entry is an expression like "p95 < 500ms" or "rate > 0.99".
type Thresholds struct {
	// HTTPReqDuration: min, max, avg, med, p50, p90, p95, p99 against a duration
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed: rate of requests that failed at the transport level
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs: count or rate (per second)
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// Checks: rate of passed checks over all recorded checks
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Iterations: count (completed), rate (per second) or aborted
	Iterations []string `json:"iterations,omitempty" yaml:"iterations,omitempty"`
}

var thresholdExprRe = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// Validate parses every expression without evaluating it.
func (t *Thresholds) Validate() error {
	if t == nil {
		return nil
	}
	var errs []error
	check := func(metric string, exprs []string, allowed []string, isDuration bool) {
		for _, expr := range exprs {
			agg, op, value, err := parseThresholdExpression(expr)
			if err != nil {
				errs = append(errs, fmt.Errorf("thresholds.%s: %w", metric, err))
				continue
			}
			if !slices.Contains(allowed, agg) {
				errs = append(errs, fmt.Errorf("thresholds.%s: unsupported metric %q in %q", metric, agg, expr))
			}
			if !validOperator(op) {
				errs = append(errs, fmt.Errorf("thresholds.%s: unsupported operator %q in %q", metric, op, expr))
			}
			if isDuration {
				if _, err := time.ParseDuration(value); err != nil {
					errs = append(errs, fmt.Errorf("thresholds.%s: invalid duration in %q", metric, expr))
				}
			} else if _, err := strconv.ParseFloat(value, 64); err != nil {
				errs = append(errs, fmt.Errorf("thresholds.%s: invalid number in %q", metric, expr))
			}
		}
	}

	check("http_req_duration", t.HTTPReqDuration, []string{"min", "max", "avg", "med", "p50", "p90", "p95", "p99"}, true)
	check("http_req_failed", t.HTTPReqFailed, []string{"rate"}, false)
	check("http_reqs", t.HTTPReqs, []string{"count", "rate"}, false)
	check("checks", t.Checks, []string{"rate"}, false)
	check("iterations", t.Iterations, []string{"count", "rate", "aborted"}, false)

	return errors.Join(errs...)
}

// Evaluate evaluates every threshold against the snapshot.
func (t *Thresholds) Evaluate(snapshot *metrics.RunMetrics) []metrics.ThresholdResult {
	if t == nil {
		return nil
	}

	var results []metrics.ThresholdResult
	for _, expr := range t.HTTPReqDuration {
		results = append(results, evaluateDurationThreshold(expr, snapshot))
	}
	for _, expr := range t.HTTPReqFailed {
		results = append(results, evaluateFailedThreshold(expr, snapshot))
	}
	for _, expr := range t.HTTPReqs {
		results = append(results, evaluateRequestsThreshold(expr, snapshot))
	}
	for _, expr := range t.Checks {
		results = append(results, evaluateChecksThreshold(expr, snapshot))
	}
	for _, expr := range t.Iterations {
		results = append(results, evaluateIterationsThreshold(expr, snapshot))
	}
	return results
}

func evaluateDurationThreshold(expr string, snapshot *metrics.RunMetrics) metrics.ThresholdResult {
	result := metrics.ThresholdResult{
		Metric:     "http_req_duration",
		Expression: expr,
	}

	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	var actualValue time.Duration
	switch metric {
	case "min":
		actualValue = snapshot.Latency.Min
	case "max":
		actualValue = snapshot.Latency.Max
	case "avg":
		actualValue = snapshot.Latency.Mean
	case "med", "p50":
		actualValue = snapshot.Latency.P50
	case "p90":
		actualValue = snapshot.Latency.P90
	case "p95":
		actualValue = snapshot.Latency.P95
	case "p99":
		actualValue = snapshot.Latency.P99
	default:
		result.Message = fmt.Sprintf("unknown metric: %s", metric)
		return result
	}

	thresholdValue, err := time.ParseDuration(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = actualValue.String()
	result.Passed = compareValues(float64(actualValue), op, float64(thresholdValue))
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", metric, actualValue, op, thresholdValue)
	}
	return result
}

func evaluateFailedThreshold(expr string, snapshot *metrics.RunMetrics) metrics.ThresholdResult {
	result := metrics.ThresholdResult{
		Metric:     "http_req_failed",
		Expression: expr,
	}

	metric, op, thresholdValue, err := parseRateExpression(expr)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	if metric != "rate" {
		result.Message = fmt.Sprintf("http_req_failed only supports 'rate' metric, got: %s", metric)
		return result
	}

	rate := snapshot.ErrorRate()
	result.Value = fmt.Sprintf("%.4f", rate)
	result.Passed = compareValues(rate, op, thresholdValue)
	if !result.Passed {
		result.Message = fmt.Sprintf("error rate is %.4f, threshold: %s %.4f", rate, op, thresholdValue)
	}
	return result
}

func evaluateRequestsThreshold(expr string, snapshot *metrics.RunMetrics) metrics.ThresholdResult {
	result := metrics.ThresholdResult{
		Metric:     "http_reqs",
		Expression: expr,
	}

	metric, op, thresholdValue, err := parseRateExpression(expr)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	var actualValue float64
	switch metric {
	case "count":
		actualValue = float64(snapshot.Requests.Total)
	case "rate":
		actualValue = snapshot.RPS
	default:
		result.Message = fmt.Sprintf("http_reqs only supports 'count' or 'rate' metrics, got: %s", metric)
		return result
	}

	result.Value = fmt.Sprintf("%.2f", actualValue)
	result.Passed = compareValues(actualValue, op, thresholdValue)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.2f, threshold: %s %.2f", metric, actualValue, op, thresholdValue)
	}
	return result
}

func evaluateChecksThreshold(expr string, snapshot *metrics.RunMetrics) metrics.ThresholdResult {
	result := metrics.ThresholdResult{
		Metric:     "checks",
		Expression: expr,
	}

	metric, op, thresholdValue, err := parseRateExpression(expr)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	if metric != "rate" {
		result.Message = fmt.Sprintf("checks only supports 'rate' metric, got: %s", metric)
		return result
	}

	rate := snapshot.ChecksTotal().PassRate()
	result.Value = fmt.Sprintf("%.4f", rate)
	result.Passed = compareValues(rate, op, thresholdValue)
	if !result.Passed {
		result.Message = fmt.Sprintf("check pass rate is %.4f, threshold: %s %.4f", rate, op, thresholdValue)
	}
	return result
}

func evaluateIterationsThreshold(expr string, snapshot *metrics.RunMetrics) metrics.ThresholdResult {
	result := metrics.ThresholdResult{
		Metric:     "iterations",
		Expression: expr,
	}

	metric, op, thresholdValue, err := parseRateExpression(expr)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	var actualValue float64
	switch metric {
	case "count":
		actualValue = float64(snapshot.Iterations.Completed)
	case "aborted":
		actualValue = float64(snapshot.Iterations.Aborted)
	case "rate":
		if secs := snapshot.Elapsed.Seconds(); secs > 0 {
			actualValue = float64(snapshot.Iterations.Completed) / secs
		}
	default:
		result.Message = fmt.Sprintf("iterations only supports 'count', 'rate' or 'aborted' metrics, got: %s", metric)
		return result
	}

	result.Value = fmt.Sprintf("%.2f", actualValue)
	result.Passed = compareValues(actualValue, op, thresholdValue)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.2f, threshold: %s %.2f", metric, actualValue, op, thresholdValue)
	}
	return result
}

// parseThresholdExpression parses an expression like "p95 < 500ms".
func parseThresholdExpression(expr string) (metric, op, value string, err error) {
	matches := thresholdExprRe.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

func parseRateExpression(expr string) (metric, op string, value float64, err error) {
	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to parse expression: %w", err)
	}
	value, err = strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to parse threshold value: %w", err)
	}
	return metric, op, value, nil
}

func validOperator(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==", "=", "!=", "<>":
		return true
	}
	return false
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
