package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/torosent/pipebench/internal/backend"
	"github.com/torosent/pipebench/internal/bootstrap"
	"github.com/torosent/pipebench/internal/clientmetrics"
	"github.com/torosent/pipebench/internal/completion"
	"github.com/torosent/pipebench/internal/config"
	"github.com/torosent/pipebench/internal/dashboard"
	"github.com/torosent/pipebench/internal/logging"
	"github.com/torosent/pipebench/internal/metrics"
	"github.com/torosent/pipebench/internal/output"
	"github.com/torosent/pipebench/internal/promexport"
	"github.com/torosent/pipebench/internal/runner"
	"github.com/torosent/pipebench/internal/threshold"
	"github.com/torosent/pipebench/internal/tracing"
)

const (
	progressInterval = time.Second
	closeTimeout     = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// ErrThresholdsFailed is returned when a run completes but an assertion fails.
var ErrThresholdsFailed = errors.New("thresholds failed")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if cfg.PrintConfig {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	runID := ulid.Make().String()
	base, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return err
	}
	defer func() { _ = base.Sync() }()
	logger := base.WithRunID(runID)
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()
	tracer := provider.Tracer()

	client, err := backend.ParseClient(cfg.Client)
	if err != nil {
		return err
	}
	ctx, runSpan := tracing.StartRunSpan(ctx, tracer, tracing.RunInfo{
		RunID:      runID,
		Client:     string(client),
		Topology:   string(cfg.Topology),
		Count:      cfg.Count,
		Pipelining: cfg.Pipelining,
		SQL:        cfg.SQL,
	})
	var runErr error
	defer func() { tracing.EndSpan(runSpan, runErr) }()

	uri := cfg.ConnectURI
	if cfg.UsesEmbedded() {
		lifecycle := bootstrap.New(cfg.Embedded.BootstrapConfig(), bootstrap.WithLogger(logger.Logger))
		phaseCtx, span := tracing.StartPhaseSpan(ctx, tracer, tracing.PhaseBootstrap)
		uri, err = lifecycle.Start(phaseCtx)
		tracing.EndSpan(span, err)
		if err != nil {
			runErr = err
			return err
		}
		defer func() {
			if err := lifecycle.Stop(); err != nil {
				logger.Warn("stopping embedded postgres failed", zap.Error(err))
			}
		}()
	}

	connector, err := backend.NewConnector(client)
	if err != nil {
		runErr = err
		return err
	}
	phaseCtx, span := tracing.StartPhaseSpan(ctx, tracer, tracing.PhaseConnect)
	conn, err := connector.Connect(phaseCtx, uri)
	tracing.EndSpan(span, err)
	if err != nil {
		runErr = err
		return err
	}
	// Outstanding executions of an unfinished run fail once the connection
	// closes.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := conn.Close(closeCtx); err != nil {
			logger.Warn("closing connection failed", zap.Error(err))
		}
	}()

	phaseCtx, span = tracing.StartPhaseSpan(ctx, tracer, tracing.PhasePrepare)
	stmt, err := conn.Prepare(phaseCtx, cfg.SQL)
	tracing.EndSpan(span, err)
	if err != nil {
		runErr = err
		return err
	}

	logger.Info("starting benchmark",
		zap.String("client", string(client)),
		zap.String("topology", string(cfg.Topology)),
		zap.Int("count", cfg.Count),
		zap.Int("pipelining", cfg.Pipelining))

	var monitors []monitor
	switch {
	case cfg.Dashboard:
		monitors = append(monitors, dashboardMonitor(cfg, conn.Metrics(), cancel, logger))
	case cfg.Progress:
		monitors = append(monitors, progressMonitor(cfg.Count, os.Stderr))
	}

	phaseCtx, span = tracing.StartPhaseSpan(ctx, tracer, tracing.PhaseExecute)
	res := execute(phaseCtx, cfg, stmt, logger, monitors...)
	tracing.EndSpan(span, res.err,
		attribute.Int64("pipebench.issued", res.issued),
		attribute.Int64("pipebench.failures", res.failures))

	report := output.Report{
		RunID:            runID,
		Client:           string(client),
		Topology:         string(cfg.Topology),
		SQL:              cfg.SQL,
		Count:            cfg.Count,
		Pipelining:       cfg.Pipelining,
		Outcome:          res.outcome(),
		Issued:           res.issued,
		Failures:         res.failures,
		Latency:          res.stats,
		Connection:       conn.Metrics().Snapshot(),
		FailureBreakdown: metrics.ErrorBreakdown(res.errs),
	}
	if res.err != nil {
		report.Error = res.err.Error()
	}
	report.Thresholds = threshold.NewEvaluator(thresholds).Evaluate(report.ThresholdStats())
	passed := res.err == nil && threshold.AllPassed(report.Thresholds)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			runErr = err
			return err
		}
	} else {
		output.PrintReport(stdout, report)
	}

	if cfg.PromTextfile != "" {
		if err := promexport.Export(cfg.PromTextfile, report, passed); err != nil {
			logger.Error("prometheus export failed", zap.Error(err))
		}
	}

	logger.Info("benchmark finished",
		zap.String("outcome", report.Outcome),
		zap.Int64("issued", res.issued),
		zap.Int64("failures", res.failures),
		zap.Duration("elapsed", res.stats.Duration))

	switch {
	case res.err != nil:
		runErr = res.err
	case !threshold.AllPassed(report.Thresholds):
		runErr = ErrThresholdsFailed
	}
	return runErr
}

// result is the outcome of the measured part of a run.
type result struct {
	stats    metrics.Stats
	issued   int64
	failures int64
	errs     []error
	err      error
}

func (r result) outcome() string {
	switch {
	case r.err == nil:
		return output.OutcomeSucceeded
	case errors.Is(r.err, completion.ErrTimeout):
		return output.OutcomeTimeout
	default:
		return output.OutcomeFailed
	}
}

// execute drives stmt with the configured topology and waits up to
// cfg.Timeout for the run to resolve.
func execute(ctx context.Context, cfg *config.Config, stmt backend.Statement, logger *logging.Logger, monitors ...monitor) result {
	tally := &failureTally{next: logging.NewFailureLogger(logger, logging.DefaultFailureLimit)}
	opt := runner.Options{
		Count:      cfg.Count,
		Pipelining: cfg.Pipelining,
		Recorder:   metrics.NewRecorder(cfg.Histogram.RecorderConfig()),
		Logger:     tally,
	}

	var (
		source output.ProgressSource
		await  func() error
	)
	start := time.Now()
	switch cfg.Topology {
	case config.TopologyParallel:
		par := runner.NewParallel(opt)
		agg := par.Run(ctx, stmt)
		source = par
		await = func() error {
			if err := agg.Await(cfg.Timeout); err != nil {
				return err
			}
			return agg.Err()
		}
	default:
		pipe := runner.NewPipeline(opt)
		coord := pipe.Start(ctx, stmt)
		source = pipe
		await = func() error {
			deadline := time.Now().Add(cfg.Timeout)
			if err := coord.Await(cfg.Timeout); err != nil {
				return err
			}
			// Success resolves while up to P-1 sibling executions are still
			// outstanding; their samples belong to the run.
			return waitDrained(pipe.Drained(), cfg.Timeout, deadline)
		}
	}

	stops := make([]func(), 0, len(monitors))
	for _, m := range monitors {
		stops = append(stops, m(source))
	}

	err := await()
	elapsed := time.Since(start)
	for _, stop := range stops {
		stop()
	}

	errs := tally.errors()
	return result{
		stats:    source.Recorder().Stats(elapsed),
		issued:   source.Issued(),
		failures: int64(len(errs)),
		errs:     errs,
		err:      err,
	}
}

// waitDrained blocks until drained closes or deadline passes. A non-positive
// timeout waits indefinitely.
func waitDrained(drained <-chan struct{}, timeout time.Duration, deadline time.Time) error {
	if timeout <= 0 {
		<-drained
		return nil
	}
	select {
	case <-drained:
		return nil
	default:
	}
	timer := time.NewTimer(max(time.Until(deadline), 0))
	defer timer.Stop()
	select {
	case <-drained:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s waiting for outstanding executions", completion.ErrTimeout, timeout)
	}
}

// monitor observes a run while it executes and returns the function that
// stops observing.
type monitor func(source output.ProgressSource) (stop func())

func progressMonitor(total int, w io.Writer) monitor {
	return func(source output.ProgressSource) func() {
		progress := output.NewProgressReporter(source, total, progressInterval, w)
		progress.Start()
		return progress.Stop
	}
}

// dashboardMonitor falls back to no live output when the terminal cannot be
// initialized. Quitting the dashboard cancels the run.
func dashboardMonitor(cfg *config.Config, conn *clientmetrics.ClientMetrics, quit func(), logger *logging.Logger) monitor {
	return func(source output.ProgressSource) func() {
		dash, err := dashboard.New(source, conn, dashboard.RunConfig{
			SQL:        cfg.SQL,
			Client:     cfg.Client,
			Topology:   string(cfg.Topology),
			Count:      cfg.Count,
			Pipelining: cfg.Pipelining,
			Timeout:    cfg.Timeout,
			Embedded:   cfg.UsesEmbedded(),
		}, quit)
		if err != nil {
			logger.Warn("dashboard unavailable", zap.Error(err))
			return func() {}
		}
		dash.Start()
		return dash.Stop
	}
}

// failureTally keeps every failed execution for the report and forwards it
// to the rate-limited zap logger.
type failureTally struct {
	next *logging.FailureLogger

	mu   sync.Mutex
	errs []error
}

func (f *failureTally) LogFailure(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
	f.next.LogFailure(err)
}

func (f *failureTally) errors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}
