package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/job"
)

const meterName = "github.com/aagnone3/toolqueue/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobSubmitted   = (*MetricsExtension)(nil)
	_ ext.JobClaimed     = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobCancelled   = (*MetricsExtension)(nil)
	_ ext.SweepCompleted = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle metrics. Register it as an extension
// to track submission rates, completion latency, failures by kind, retry
// counts and sweep progress.
type MetricsExtension struct {
	JobSubmitted  metric.Int64Counter
	JobClaimed    metric.Int64Counter
	JobCompleted  metric.Int64Counter
	JobFailed     metric.Int64Counter
	JobRetried    metric.Int64Counter
	JobCancelled  metric.Int64Counter
	JobDuration   metric.Float64Histogram
	SweepRuns     metric.Int64Counter
	SweepAffected metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// The OTel API returns noop instruments alongside any error.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram(
		"toolqueue.job.duration",
		metric.WithDescription("Processing time of completed jobs in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobSubmitted:  counter("toolqueue.job.submitted", "Jobs submitted"),
		JobClaimed:    counter("toolqueue.job.claimed", "Job claims, one per attempt"),
		JobCompleted:  counter("toolqueue.job.completed", "Jobs completed"),
		JobFailed:     counter("toolqueue.job.failed", "Jobs failed terminally"),
		JobRetried:    counter("toolqueue.job.retried", "Jobs requeued for another attempt"),
		JobCancelled:  counter("toolqueue.job.cancelled", "Jobs cancelled"),
		JobDuration:   duration,
		SweepRuns:     counter("toolqueue.sweep.runs", "Sweep runs"),
		SweepAffected: counter("toolqueue.sweep.jobs", "Jobs touched by sweep stages"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job, extra ...attribute.KeyValue) metric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("tool_slug", j.ToolSlug),
		attribute.String("queue", j.Queue),
	}, extra...)
	return metric.WithAttributes(attrs...)
}

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.JobSubmitted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobClaimed implements ext.JobClaimed.
func (m *MetricsExtension) OnJobClaimed(ctx context.Context, j *job.Job) error {
	m.JobClaimed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	attrs := jobAttrs(j)
	m.JobCompleted.Add(ctx, 1, attrs)
	m.JobDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j, attribute.String("kind", string(j.FailureKind))))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnSweepCompleted implements ext.SweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(ctx context.Context, stats ext.SweepStats) error {
	outcome := "ok"
	if len(stats.Failed) > 0 {
		outcome = "partial"
	}
	m.SweepRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	stages := []struct {
		name  string
		count int64
	}{
		{"stuck", int64(stats.Stuck)},
		{"retry", int64(stats.Retried)},
		{"pending", int64(stats.Processed)},
		{"cleanup", stats.Cleaned},
	}
	for _, s := range stages {
		if s.count > 0 {
			m.SweepAffected.Add(ctx, s.count, metric.WithAttributes(attribute.String("stage", s.name)))
		}
	}
	return nil
}
