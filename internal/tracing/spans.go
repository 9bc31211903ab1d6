package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartPipelineSpan creates a child span for the full pipeline processing phase.
func StartPipelineSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline."+phase,
		trace.WithAttributes(attribute.String("pipeline.phase", phase)),
	)
}

// StartStageSpan creates a child span for a single pipeline stage execution.
func StartStageSpan(ctx context.Context, name, phase string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "stage."+name+"."+phase,
		trace.WithAttributes(
			attribute.String("stage.name", name),
			attribute.String("stage.phase", phase),
		),
	)
}

// StartDispatchSpan creates a child span for a batch dispatch cycle.
func StartDispatchSpan(ctx context.Context, size int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "batch.dispatch",
		trace.WithAttributes(attribute.Int("batch.size", size)),
	)
}

// StartGenerateSpan creates a child span for a generation collaborator call.
func StartGenerateSpan(ctx context.Context, tier string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "generate.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("generate.tier", tier)),
	)
}

// SetQueryAttributes adds query-level attributes to the current span.
func SetQueryAttributes(ctx context.Context, queryID, userID, category string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("query.id", queryID),
		attribute.String("query.user_id", userID),
		attribute.String("query.category", category),
	)
}

// SetAnswerAttributes adds answer-level attributes to the current span.
func SetAnswerAttributes(ctx context.Context, source, tier string, costUSD float64, deduplicated bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("answer.source", source),
		attribute.String("answer.tier", tier),
		attribute.Float64("answer.cost_usd", costUSD),
		attribute.Bool("answer.deduplicated", deduplicated),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
