package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/processor"
)

// meterName is the instrumentation scope name for toolqueue metrics.
const meterName = "github.com/aagnone3/toolqueue"

// Metrics returns middleware that records per-invocation metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - toolqueue.processor.duration (Float64Histogram, seconds)
//   - toolqueue.processor.invocations (Int64Counter)
//
// Both carry tool_slug, queue and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"toolqueue.processor.duration",
		metric.WithDescription("Duration of processor invocations in seconds"),
		metric.WithUnit("s"),
	)
	invocations, _ := meter.Int64Counter(
		"toolqueue.processor.invocations",
		metric.WithDescription("Total number of processor invocations"),
		metric.WithUnit("{invocation}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) processor.Result {
		start := time.Now()
		res := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("tool_slug", j.ToolSlug),
			attribute.String("queue", j.Queue),
			attribute.String("status", status(res)),
		)
		duration.Record(ctx, elapsed, attrs)
		invocations.Add(ctx, 1, attrs)
		return res
	}
}
