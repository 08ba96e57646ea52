// Package promexport writes the results of a benchmark run in the Prometheus
// text exposition format, for pickup by the node_exporter textfile collector.
package promexport

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/pipebench/internal/output"
)

const namespace = "pipebench"

// Exporter holds the gauges of one finished run.
type Exporter struct {
	registry *prometheus.Registry

	executions  *prometheus.GaugeVec
	latency     *prometheus.GaugeVec
	elapsed     prometheus.Gauge
	throughput  prometheus.Gauge
	pipelining  prometheus.Gauge
	connection  *prometheus.GaugeVec
	maxInFlight prometheus.Gauge
	success     prometheus.Gauge
}

// New creates an exporter whose series carry the run's client and topology
// as constant labels.
func New(client, topology string) *Exporter {
	labels := prometheus.Labels{"client": client, "topology": topology}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		})
	}

	e := &Exporter{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "executions",
			Help:        "Executions of the benchmarked statement by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "latency_seconds",
			Help:        "Latency of successful executions by quantile.",
			ConstLabels: labels,
		}, []string{"quantile"}),
		connection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connection_total",
			Help:        "Connection level counters reported by the client.",
			ConstLabels: labels,
		}, []string{"counter"}),
		elapsed:     gauge("elapsed_seconds", "Wall clock duration of the run."),
		throughput:  gauge("executions_per_second", "Successful executions per second."),
		pipelining:  gauge("pipelining_depth", "Configured pipelining depth."),
		maxInFlight: gauge("max_in_flight", "Highest number of executions outstanding on the connection."),
		success:     gauge("run_success", "1 if the run succeeded and every threshold passed."),
	}

	e.registry.MustRegister(
		e.executions, e.latency, e.connection,
		e.elapsed, e.throughput, e.pipelining, e.maxInFlight, e.success,
	)
	return e
}

// Registry exposes the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Observe sets every gauge from r.
func (e *Exporter) Observe(r output.Report, passed bool) {
	s := r.Latency

	e.executions.WithLabelValues("issued").Set(float64(r.Issued))
	e.executions.WithLabelValues("succeeded").Set(float64(s.Count))
	e.executions.WithLabelValues("failed").Set(float64(r.Failures))

	quantiles := []struct {
		label string
		value float64
	}{
		{"0", s.MinLatency.Seconds()},
		{"0.5", s.P50Latency.Seconds()},
		{"0.9", s.P90Latency.Seconds()},
		{"0.99", s.P99Latency.Seconds()},
		{"0.999", s.P999Latency.Seconds()},
		{"0.9999", s.P9999Latency.Seconds()},
		{"1", s.MaxLatency.Seconds()},
	}
	for _, q := range quantiles {
		e.latency.WithLabelValues(q.label).Set(q.value)
	}

	c := r.Connection
	e.connection.WithLabelValues("issued").Set(float64(c.Issued))
	e.connection.WithLabelValues("completed").Set(float64(c.Completed))
	e.connection.WithLabelValues("rows").Set(float64(c.Rows))
	e.connection.WithLabelValues("bytes_received").Set(float64(c.BytesReceived))
	e.connection.WithLabelValues("errors").Set(float64(c.Errors))

	e.elapsed.Set(s.Duration.Seconds())
	e.throughput.Set(s.RequestsPerSec)
	e.pipelining.Set(float64(r.Pipelining))
	e.maxInFlight.Set(float64(c.MaxInFlight))
	if passed {
		e.success.Set(1)
	} else {
		e.success.Set(0)
	}
}

// WriteTextfile atomically writes the registry to path.
func (e *Exporter) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("write prometheus textfile: %w", err)
	}
	return nil
}

// Export observes r and writes it to path in one step.
func Export(path string, r output.Report, passed bool) error {
	e := New(r.Client, r.Topology)
	e.Observe(r, passed)
	return e.WriteTextfile(path)
}
