package threshold

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/pipebench/internal/metrics"
)

const (
	MetricLatency    = "latency"    // milliseconds of successful executions
	MetricFailures   = "failures"   // failed executions
	MetricExecutions = "executions" // issued executions
)

var (
	thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

	validMetrics   = []string{MetricLatency, MetricFailures, MetricExecutions}
	validOperators = []string{"<", "<=", ">", ">=", "=="}
	validAggregate = map[string][]string{
		MetricLatency:    {"p50", "p90", "p99", "p999", "p9999", "avg", "mean", "min", "max"},
		MetricFailures:   {"count", "rate"},
		MetricExecutions: {"count", "rate"},
	}
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // "latency", "failures" or "executions"
	Aggregate string  // e.g. "p99", "avg", "count", "rate"
	Operator  string  // "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"-"`
	Raw       string    `json:"threshold"`
	Actual    float64   `json:"actual"`
	Pass      bool      `json:"pass"`
	Message   string    `json:"message"`
}

// RunStats is what thresholds are evaluated against.
type RunStats struct {
	Latency    metrics.Stats
	Executions int64 // executions issued
	Failures   int64
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats RunStats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, stats))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, stats RunStats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Raw:       t.Raw,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "PASS"
	if !pass {
		status = "FAIL"
	}

	return Result{
		Threshold: t,
		Raw:       t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.3f %s %.3f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
//   - "latency:p99 < 5"          (latency percentile in ms; p50 p90 p99 p999 p9999)
//   - "latency:avg < 2"          (mean latency in ms; also min, max)
//   - "failures:count == 0"      (failed executions)
//   - "failures:rate < 0.01"     (failed share of issued executions)
//   - "executions:rate > 10000"  (executions per second)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'latency:p99 < 5')", s)
	}

	metric, aggregate, operator, valueStr := matches[1], matches[2], matches[3], matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}
	if !slices.Contains(validMetrics, metric) {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(validMetrics, ", "))
	}
	if aggregates := validAggregate[metric]; !slices.Contains(aggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !slices.Contains(validOperators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: %s)", operator, strings.Join(validOperators, ", "))
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}

	return result, nil
}

func extractMetricValue(t Threshold, stats RunStats) (float64, error) {
	switch t.Metric {
	case MetricLatency:
		return extractLatencyMetric(t.Aggregate, stats.Latency)
	case MetricFailures:
		switch t.Aggregate {
		case "count":
			return float64(stats.Failures), nil
		case "rate":
			if stats.Executions == 0 {
				return 0, nil
			}
			return float64(stats.Failures) / float64(stats.Executions), nil
		}
	case MetricExecutions:
		switch t.Aggregate {
		case "count":
			return float64(stats.Executions), nil
		case "rate":
			if stats.Latency.Duration <= 0 {
				return 0, nil
			}
			return float64(stats.Executions) / stats.Latency.Duration.Seconds(), nil
		}
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
	return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
}

func extractLatencyMetric(aggregate string, stats metrics.Stats) (float64, error) {
	var d time.Duration
	switch aggregate {
	case "p50":
		d = stats.P50Latency
	case "p90":
		d = stats.P90Latency
	case "p99":
		d = stats.P99Latency
	case "p999":
		d = stats.P999Latency
	case "p9999":
		d = stats.P9999Latency
	case "avg", "mean":
		d = stats.MeanLatency
	case "min":
		d = stats.MinLatency
	case "max":
		d = stats.MaxLatency
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for latency", aggregate)
	}
	return float64(d) / float64(time.Millisecond), nil
}

func compareValues(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
