// Package metrics records request latencies for a benchmark run.
//
// The central [Recorder] type wraps an HdrHistogram and is safe to call from
// every in-flight request:
//
//	rec := metrics.NewRecorder(metrics.DefaultRecorderConfig())
//	rec.Record(time.Since(start))
//
//	// After the run
//	stats := rec.Stats(elapsed)
//
// # Precision
//
// [RecorderConfig] fixes the histogram range and its number of significant
// decimal digits. With the defaults (one minute, two digits) any recorded
// value is reported with at most 1% relative error. Samples larger than
// MaxTrackable are clamped to it, samples below one nanosecond to one.
//
// # Errors
//
// [ErrorBreakdown] and [FriendlyErrorName] turn failures collected during a
// run into human readable buckets for reports.
package metrics
