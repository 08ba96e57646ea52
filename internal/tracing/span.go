package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Phases of a run, each traced as a child of the run span.
const (
	PhaseBootstrap = "bootstrap"
	PhaseConnect   = "connect"
	PhasePrepare   = "prepare"
	PhaseExecute   = "execute"
)

// RunInfo describes a run for its root span.
type RunInfo struct {
	RunID      string
	Client     string
	Topology   string
	Count      int
	Pipelining int
	SQL        string
}

// StartRunSpan starts the root span of a benchmark run.
func StartRunSpan(ctx context.Context, tracer trace.Tracer, info RunInfo) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "pipebench run",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", info.SQL),
		attribute.String("pipebench.run_id", info.RunID),
		attribute.String("pipebench.client", info.Client),
		attribute.String("pipebench.topology", info.Topology),
		attribute.Int("pipebench.count", info.Count),
		attribute.Int("pipebench.pipelining", info.Pipelining),
	)
	return ctx, span
}

// StartPhaseSpan starts a span for one phase of the run.
func StartPhaseSpan(ctx context.Context, tracer trace.Tracer, phase string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "pipebench "+phase)
	span.SetAttributes(attribute.String("pipebench.phase", phase))
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
