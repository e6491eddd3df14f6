package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/observability"
	"github.com/aagnone3/toolqueue/queue"
	"github.com/aagnone3/toolqueue/store/memory"
)

func setup() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader, mp := setup()
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return job.New("transcribe", nil, job.Options{MaxAttempts: 3, Queue: "audio"}, time.Now())
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string, match ...attribute.KeyValue) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			var total int64
			for _, dp := range data.DataPoints {
				if hasAll(dp.Attributes, match) {
					total += dp.Value
				}
			}
			return total
		}
	}
	return 0
}

func hasAll(set attribute.Set, match []attribute.KeyValue) bool {
	for _, kv := range match {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobLifecycle(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobSubmitted(ctx, j)
	_ = e.OnJobClaimed(ctx, j)
	_ = e.OnJobRetrying(ctx, j, 2, time.Now())
	_ = e.OnJobClaimed(ctx, j)
	_ = e.OnJobCompleted(ctx, j, 250*time.Millisecond)

	rm := collect(t, reader)
	tool := attribute.String("tool_slug", "transcribe")
	for name, want := range map[string]int64{
		"toolqueue.job.submitted": 1,
		"toolqueue.job.claimed":   2,
		"toolqueue.job.retried":   1,
		"toolqueue.job.completed": 1,
	} {
		if got := sumOf(t, rm, name, tool, attribute.String("queue", "audio")); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "toolqueue.job.duration" {
				continue
			}
			hist := m.Data.(metricdata.Histogram[float64]) //nolint:errcheck // asserted by name
			found = len(hist.DataPoints) == 1 && hist.DataPoints[0].Count == 1
		}
	}
	if !found {
		t.Error("duration histogram not recorded")
	}
}

func TestMetricsExtension_FailureKind(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	stuck := newTestJob()
	stuck.FailureKind = job.FailureStuck
	config := newTestJob()
	config.FailureKind = job.FailureConfiguration

	_ = e.OnJobFailed(ctx, stuck, errors.New("stuck"))
	_ = e.OnJobFailed(ctx, config, errors.New("no processor"))
	_ = e.OnJobFailed(ctx, stuck, errors.New("stuck"))

	rm := collect(t, reader)
	if got := sumOf(t, rm, "toolqueue.job.failed", attribute.String("kind", "stuck")); got != 2 {
		t.Errorf("stuck failures = %d, want 2", got)
	}
	if got := sumOf(t, rm, "toolqueue.job.failed", attribute.String("kind", "configuration")); got != 1 {
		t.Errorf("configuration failures = %d, want 1", got)
	}
}

func TestMetricsExtension_Cancelled(t *testing.T) {
	e, reader := newTestExtension()
	_ = e.OnJobCancelled(context.Background(), newTestJob())
	if got := sumOf(t, collect(t, reader), "toolqueue.job.cancelled"); got != 1 {
		t.Errorf("cancelled = %d, want 1", got)
	}
}

func TestMetricsExtension_Sweep(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	_ = e.OnSweepCompleted(ctx, ext.SweepStats{Stuck: 2, Processed: 3, Cleaned: 4})
	_ = e.OnSweepCompleted(ctx, ext.SweepStats{Retried: 1, Failed: []string{"cleanup: boom"}})

	rm := collect(t, reader)
	if got := sumOf(t, rm, "toolqueue.sweep.runs"); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}
	if got := sumOf(t, rm, "toolqueue.sweep.runs", attribute.String("outcome", "partial")); got != 1 {
		t.Errorf("partial runs = %d, want 1", got)
	}
	for stage, want := range map[string]int64{"stuck": 2, "retry": 1, "pending": 3, "cleanup": 4} {
		if got := sumOf(t, rm, "toolqueue.sweep.jobs", attribute.String("stage", stage)); got != want {
			t.Errorf("stage %s = %d, want %d", stage, got, want)
		}
	}
}

func TestMetricsExtension_RegisteredHooksFire(t *testing.T) {
	e, reader := newTestExtension()
	reg := ext.NewRegistry(nil)
	reg.Register(e)

	reg.EmitJobSubmitted(context.Background(), newTestJob())
	if got := sumOf(t, collect(t, reader), "toolqueue.job.submitted"); got != 1 {
		t.Errorf("submitted via registry = %d, want 1", got)
	}
}

func TestRegisterQueueDepth(t *testing.T) {
	reader, mp := setup()
	store := memory.New()
	ctx := context.Background()

	for range 3 {
		j := newTestJob()
		if err := store.Send(ctx, queue.NewMessage("audio", j.ID, 0, time.Now(), 3)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if _, err := store.Fetch(ctx, "audio", 1, time.Minute); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	reg, err := observability.RegisterQueueDepth(mp.Meter("test"), store, []string{"audio"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer reg.Unregister() //nolint:errcheck // test cleanup

	rm := collect(t, reader)
	gauge := func(state string) int64 {
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "toolqueue.queue.depth" {
					continue
				}
				for _, dp := range m.Data.(metricdata.Gauge[int64]).DataPoints { //nolint:errcheck // asserted by name
					if hasAll(dp.Attributes, []attribute.KeyValue{attribute.String("state", state)}) {
						return dp.Value
					}
				}
			}
		}
		return -1
	}
	if got := gauge("ready"); got != 2 {
		t.Errorf("ready = %d, want 2", got)
	}
	if got := gauge("leased"); got != 1 {
		t.Errorf("leased = %d, want 1", got)
	}
	if got := gauge("dead"); got != 0 {
		t.Errorf("dead = %d, want 0", got)
	}
}
