package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/processor"
)

// Recover returns middleware that turns a processor panic into a failed
// Result and logs the stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (res processor.Result) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("processor panicked",
					slog.String("tool_slug", j.ToolSlug),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				res = processor.Fail(fmt.Errorf("%w: %v", toolqueue.ErrProcessorPanic, r))
			}
		}()
		return next(ctx)
	}
}
