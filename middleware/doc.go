// Package middleware provides composable wrappers applied around every
// processor invocation.
//
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.Timeout(5*time.Minute, logger),
//	)
//
// # Built-in Middleware
//
//   - [Logging] logs tool slug, job id, duration and outcome
//   - [Recover] converts panics into failed results
//   - [Timeout] enforces the per-invocation deadline
//   - [Tracing] wraps the invocation in an OpenTelemetry span
//   - [Metrics] records duration and outcome counters
//   - [Scope] exposes the job owner to the processor
//
// # Writing Custom Middleware
//
//	func Audit() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) processor.Result {
//	        res := next(ctx)
//	        // inspect res
//	        return res
//	    }
//	}
package middleware
