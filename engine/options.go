package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/backoff"
	"github.com/aagnone3/toolqueue/ext"
	mw "github.com/aagnone3/toolqueue/middleware"
	"github.com/aagnone3/toolqueue/queue"
	"github.com/aagnone3/toolqueue/stream"
	"github.com/aagnone3/toolqueue/sweep"
)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default pipeline configuration.
func WithConfig(cfg toolqueue.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.userExts = append(eng.userExts, e) }
}

// WithMiddleware adds middleware around every processor invocation. It
// runs inside tracing, metrics and logging.
func WithMiddleware(m ...mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m...) }
}

// WithBackoff sets the delay before a failed attempt becomes claimable again.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithQueueEngine sets the delivery engine. Without it the store is used
// when it implements queue.Engine; otherwise jobs are only delivered by
// the sweep.
func WithQueueEngine(q queue.Engine) Option {
	return func(eng *Engine) { eng.queueEngine = q }
}

// WithLocker sets the sweep leader lock. Without it the store (or queue
// engine) is used when it implements sweep.Locker.
func WithLocker(l sweep.Locker) Option {
	return func(eng *Engine) { eng.locker = l }
}

// WithNotifier sets the status stream change notifier. Without it the
// store or queue engine is used when it implements stream.Notifier, and
// the in-process broker otherwise.
func WithNotifier(n stream.Notifier) Option {
	return func(eng *Engine) { eng.notifier = n }
}

// WithoutWorkers disables the queue worker pool. Submissions are still
// sent to the queue engine for other processes to consume.
func WithoutWorkers() Option {
	return func(eng *Engine) { eng.workers = false }
}

// WithoutScheduler disables the in-process sweep scheduler.
func WithoutScheduler() Option {
	return func(eng *Engine) { eng.scheduled = false }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. Both the metrics
// middleware and the observability extension use it. If not set, the
// global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}
