package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/torosent/pipebench/internal/clientmetrics"
	"github.com/torosent/pipebench/internal/metrics"
	"github.com/torosent/pipebench/internal/threshold"
)

// Run outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
)

// Report is everything a finished run prints.
type Report struct {
	RunID      string `json:"run_id"`
	Client     string `json:"client"`
	Topology   string `json:"topology"`
	SQL        string `json:"sql"`
	Count      int    `json:"count"`
	Pipelining int    `json:"pipelining"`

	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
	Issued   int64  `json:"issued"`
	Failures int64  `json:"failures"`

	Latency          metrics.Stats          `json:"latency"`
	Connection       clientmetrics.Snapshot `json:"connection"`
	FailureBreakdown map[string]int         `json:"failure_breakdown,omitempty"`
	Thresholds       []threshold.Result     `json:"thresholds,omitempty"`
}

// ThresholdStats returns the view of r thresholds are evaluated against.
func (r Report) ThresholdStats() threshold.RunStats {
	return threshold.RunStats{
		Latency:    r.Latency,
		Executions: r.Issued,
		Failures:   r.Failures,
	}
}

// PrintReport outputs a human-readable summary report. The first lines keep
// the classic benchmark layout so existing result parsers keep working.
func PrintReport(w io.Writer, r Report) {
	s := r.Latency
	fmt.Fprintf(w, "Time elapsed %d\n", s.DurationMs)
	fmt.Fprintf(w, "min    = %d\n", s.MinLatencyMs)
	fmt.Fprintf(w, "max    = %d\n", s.MaxLatencyMs)
	fmt.Fprintf(w, "50%%    = %d\n", s.P50LatencyMs)
	fmt.Fprintf(w, "90%%    = %d\n", s.P90LatencyMs)
	fmt.Fprintf(w, "99%%    = %d\n", s.P99LatencyMs)
	fmt.Fprintf(w, "99.9%%  = %d\n", s.P999LatencyMs)
	fmt.Fprintf(w, "99.99%% = %d\n", s.P9999LatencyMs)

	fmt.Fprintln(w, "\n--- Run ---")
	if r.RunID != "" {
		fmt.Fprintf(w, "Run ID:            %s\n", r.RunID)
	}
	fmt.Fprintf(w, "Client:            %s\n", r.Client)
	fmt.Fprintf(w, "Topology:          %s\n", r.Topology)
	fmt.Fprintf(w, "Count:             %d\n", r.Count)
	fmt.Fprintf(w, "Pipelining:        %d\n", r.Pipelining)
	fmt.Fprintf(w, "Outcome:           %s\n", r.Outcome)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:             %s\n", r.Error)
	}
	fmt.Fprintf(w, "Issued:            %d\n", r.Issued)
	fmt.Fprintf(w, "Succeeded:         %d\n", s.Count)
	fmt.Fprintf(w, "Failed:            %d\n", r.Failures)
	fmt.Fprintf(w, "Executions/sec:    %.2f\n", s.RequestsPerSec)
	fmt.Fprintf(w, "Mean latency:      %s\n", s.MeanLatency)

	c := r.Connection
	fmt.Fprintln(w, "\nConnection:")
	fmt.Fprintf(w, "  Issued:          %d\n", c.Issued)
	fmt.Fprintf(w, "  Completed:       %d\n", c.Completed)
	fmt.Fprintf(w, "  Rows:            %d\n", c.Rows)
	fmt.Fprintf(w, "  Bytes received:  %d\n", c.BytesReceived)
	fmt.Fprintf(w, "  Errors:          %d\n", c.Errors)
	fmt.Fprintf(w, "  Max in flight:   %d\n", c.MaxInFlight)

	if len(r.FailureBreakdown) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		names := make([]string, 0, len(r.FailureBreakdown))
		for name := range r.FailureBreakdown {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			a, b := r.FailureBreakdown[names[i]], r.FailureBreakdown[names[j]]
			if a != b {
				return a > b
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			fmt.Fprintf(w, "  - %s: %d\n", name, r.FailureBreakdown[name])
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, t := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", t.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
