package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// DefaultMaxTrackable is the highest latency the recorder resolves.
	// Larger samples are clamped to it.
	DefaultMaxTrackable = time.Minute
	// DefaultSignificantFigures bounds the relative error of every bucket
	// to 1%.
	DefaultSignificantFigures = 2
)

// RecorderConfig sets the histogram range and precision.
type RecorderConfig struct {
	MaxTrackable       time.Duration
	SignificantFigures int
}

// DefaultRecorderConfig returns one minute at two significant digits.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		MaxTrackable:       DefaultMaxTrackable,
		SignificantFigures: DefaultSignificantFigures,
	}
}

func (c *RecorderConfig) normalize() {
	if c.MaxTrackable <= 0 {
		c.MaxTrackable = DefaultMaxTrackable
	}
	if c.SignificantFigures < 1 || c.SignificantFigures > 5 {
		c.SignificantFigures = DefaultSignificantFigures
	}
}

// Recorder records request latencies in nanoseconds in a thread-safe manner.
//
// Min, Max, Percentile and Stats are meant to be read once the run has
// concluded; reading them while samples are still arriving returns a view
// that may lag concurrent Record calls.
type Recorder struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
	cfg  RecorderConfig
	sum  int64
}

// Stats represents aggregated latency metrics.
type Stats struct {
	Count          int64         `json:"count"`
	MinLatency     time.Duration `json:"-"`
	MaxLatency     time.Duration `json:"-"`
	MeanLatency    time.Duration `json:"-"`
	P50Latency     time.Duration `json:"-"`
	P90Latency     time.Duration `json:"-"`
	P99Latency     time.Duration `json:"-"`
	P999Latency    time.Duration `json:"-"`
	P9999Latency   time.Duration `json:"-"`
	Duration       time.Duration `json:"-"`
	RequestsPerSec float64       `json:"requests_per_sec"`

	// Whole milliseconds, truncated like the text report.
	MinLatencyMs   int64 `json:"min_ms"`
	MaxLatencyMs   int64 `json:"max_ms"`
	MeanLatencyMs  int64 `json:"mean_ms"`
	P50LatencyMs   int64 `json:"p50_ms"`
	P90LatencyMs   int64 `json:"p90_ms"`
	P99LatencyMs   int64 `json:"p99_ms"`
	P999LatencyMs  int64 `json:"p99_9_ms"`
	P9999LatencyMs int64 `json:"p99_99_ms"`
	DurationMs     int64 `json:"elapsed_ms"`
}

// NewRecorder creates a recorder. Zero fields in cfg take their defaults.
func NewRecorder(cfg RecorderConfig) *Recorder {
	cfg.normalize()
	return &Recorder{
		hist: hdrhistogram.New(1, int64(cfg.MaxTrackable), cfg.SignificantFigures),
		cfg:  cfg,
	}
}

// Config returns the effective histogram configuration.
func (r *Recorder) Config() RecorderConfig {
	return r.cfg
}

// Record records a single latency sample.
func (r *Recorder) Record(latency time.Duration) {
	r.RecordNanos(int64(latency))
}

// RecordNanos records a single latency sample given in nanoseconds.
// Values outside the trackable range are clamped.
func (r *Recorder) RecordNanos(ns int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ns < r.hist.LowestTrackableValue() {
		ns = r.hist.LowestTrackableValue()
	}
	if ns > r.hist.HighestTrackableValue() {
		ns = r.hist.HighestTrackableValue()
	}
	_ = r.hist.RecordValue(ns)
	r.sum += ns
}

// Count returns the number of recorded samples.
func (r *Recorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hist.TotalCount()
}

// Min returns the smallest recorded latency, or 0 with no samples.
func (r *Recorder) Min() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hist.TotalCount() == 0 {
		return 0
	}
	return time.Duration(r.hist.Min())
}

// Max returns the largest recorded latency, or 0 with no samples.
func (r *Recorder) Max() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hist.TotalCount() == 0 {
		return 0
	}
	return time.Duration(r.hist.Max())
}

// Mean returns the arithmetic mean of the recorded samples.
func (r *Recorder) Mean() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.hist.TotalCount()
	if total == 0 {
		return 0
	}
	return time.Duration(r.sum / total)
}

// Percentile returns the latency at percentile p in [0, 100].
func (r *Recorder) Percentile(p float64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hist.TotalCount() == 0 {
		return 0
	}
	return time.Duration(r.hist.ValueAtQuantile(p))
}

// Stats computes aggregated statistics for a run that lasted elapsed.
func (r *Recorder) Stats(elapsed time.Duration) Stats {
	stats := Stats{
		Count:        r.Count(),
		MinLatency:   r.Min(),
		MaxLatency:   r.Max(),
		MeanLatency:  r.Mean(),
		P50Latency:   r.Percentile(50),
		P90Latency:   r.Percentile(90),
		P99Latency:   r.Percentile(99),
		P999Latency:  r.Percentile(99.9),
		P9999Latency: r.Percentile(99.99),
		Duration:     elapsed,
	}

	stats.MinLatencyMs = stats.MinLatency.Milliseconds()
	stats.MaxLatencyMs = stats.MaxLatency.Milliseconds()
	stats.MeanLatencyMs = stats.MeanLatency.Milliseconds()
	stats.P50LatencyMs = stats.P50Latency.Milliseconds()
	stats.P90LatencyMs = stats.P90Latency.Milliseconds()
	stats.P99LatencyMs = stats.P99Latency.Milliseconds()
	stats.P999LatencyMs = stats.P999Latency.Milliseconds()
	stats.P9999LatencyMs = stats.P9999Latency.Milliseconds()
	stats.DurationMs = elapsed.Milliseconds()

	if elapsed > 0 && stats.Count > 0 {
		stats.RequestsPerSec = float64(stats.Count) / elapsed.Seconds()
	}
	return stats
}
