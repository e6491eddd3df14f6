// Package middleware provides composable wrappers around a processor
// invocation. Middleware run synchronously inside the runner and see the
// explicit processor.Result, never a panic or an error chain.
package middleware

import (
	"context"

	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/processor"
)

// Handler is the terminal function that invokes the processor.
type Handler func(ctx context.Context) processor.Result

// Middleware wraps a Handler with cross-cutting logic. It receives the job
// being processed and the next handler, and MUST call next unless it
// short-circuits with its own Result.
type Middleware func(ctx context.Context, j *job.Job, next Handler) processor.Result

// Chain composes middleware. The first middleware in the list is the
// outermost wrapper:
//
//	Chain(logging, recover, timeout) runs logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) processor.Result {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) processor.Result {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

func status(res processor.Result) string {
	if res.Success {
		return "ok"
	}
	return "error"
}
