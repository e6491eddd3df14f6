package middleware_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mw "github.com/aagnone3/toolqueue/middleware"
	"github.com/aagnone3/toolqueue/processor"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	j := newTestJob()

	mw.TracingWithTracer(tracer)(context.Background(), j, ok)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "toolqueue.processor.invoke" {
		t.Errorf("span name = %q", spans[0].Name())
	}

	attrs := map[string]any{}
	for _, a := range spans[0].Attributes() {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	expected := map[string]any{
		"toolqueue.job.id":       j.ID.String(),
		"toolqueue.tool_slug":    "transcribe",
		"toolqueue.queue":        "audio",
		"toolqueue.attempt":      int64(2),
		"toolqueue.max_attempts": int64(3),
	}
	for key, want := range expected {
		if got := attrs[key]; got != want {
			t.Errorf("attribute %q = %v, want %v", key, got, want)
		}
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}
}

func TestTracing_FailureSetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()

	mw.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(context.Context) processor.Result {
		return processor.Failf("model unavailable")
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[0].Status().Code)
	}
	if spans[0].Status().Description != "model unavailable" {
		t.Errorf("status description = %q", spans[0].Status().Description)
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	sr, tracer := setupTestTracer()

	var inner trace.SpanContext
	mw.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(ctx context.Context) processor.Result {
		inner = trace.SpanFromContext(ctx).SpanContext()
		return processor.Succeed(nil)
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if !inner.IsValid() || inner.TraceID() != spans[0].SpanContext().TraceID() {
		t.Error("processor did not receive the invocation span context")
	}
}
