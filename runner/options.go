package runner

import (
	"log/slog"
	"time"

	"github.com/aagnone3/toolqueue/backoff"
	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/middleware"
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(e *ext.Registry) Option {
	return func(r *Runner) { r.extensions = e }
}

// WithMiddleware adds middleware around every processor invocation. They
// wrap the built-in timeout, recover and scope middleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(r *Runner) { r.outer = append(r.outer, mws...) }
}

// WithBackoff sets the delay before a failed attempt becomes claimable again.
func WithBackoff(s backoff.Strategy) Option {
	return func(r *Runner) { r.backoff = s }
}

// WithDefaultTimeout bounds processor invocations of jobs that carry no
// timeout of their own. Zero leaves them unbounded.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) { r.defaultTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRetryBatch caps how many failed jobs one RetryFailedJobs call requeues.
func WithRetryBatch(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.retryBatch = n
		}
	}
}
