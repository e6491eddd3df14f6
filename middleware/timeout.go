package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/processor"
)

// Timeout returns middleware that bounds a processor invocation. The job's
// own Timeout wins over fallback; when both are zero the invocation is
// unbounded and only the stuck-job sweep can catch it.
//
// At the deadline the context is cancelled and the invocation reports a
// timeout failure, but only once the processor has returned: the job stays
// PROCESSING until then, so a retry never overlaps a late invocation. The
// late result is discarded.
func Timeout(fallback time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) processor.Result {
		d := j.Timeout
		if d <= 0 {
			d = fallback
		}
		if d <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan processor.Result, 1)
		go func() { done <- next(ctx) }()

		select {
		case res := <-done:
			return res
		case <-ctx.Done():
			logger.Warn("processor deadline exceeded",
				slog.String("tool_slug", j.ToolSlug),
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", d),
			)
			<-done
			return processor.Fail(fmt.Errorf("%w after %s", toolqueue.ErrProcessorTimeout, d))
		}
	}
}
