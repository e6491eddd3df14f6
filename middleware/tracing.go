package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/processor"
)

const tracerName = "github.com/aagnone3/toolqueue"

// Tracing returns middleware that wraps the invocation in an OpenTelemetry
// span named "toolqueue.processor.invoke".
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) processor.Result {
		ctx, span := tracer.Start(ctx, "toolqueue.processor.invoke",
			trace.WithAttributes(
				attribute.String("toolqueue.job.id", j.ID.String()),
				attribute.String("toolqueue.tool_slug", j.ToolSlug),
				attribute.String("toolqueue.queue", j.Queue),
				attribute.Int("toolqueue.attempt", j.Attempts),
				attribute.Int("toolqueue.max_attempts", j.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res := next(ctx)
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return res
	}
}
