package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/processor"
)

// Logging returns middleware that logs processor start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) processor.Result {
		logger.Info("processor started",
			slog.String("tool_slug", j.ToolSlug),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts),
		)

		start := time.Now()
		res := next(ctx)
		elapsed := time.Since(start)

		if !res.Success {
			logger.Warn("processor failed",
				slog.String("tool_slug", j.ToolSlug),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", res.Error),
			)
		} else {
			logger.Info("processor succeeded",
				slog.String("tool_slug", j.ToolSlug),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}
		return res
	}
}
