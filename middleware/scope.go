package middleware

import (
	"context"

	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/processor"
	"github.com/aagnone3/toolqueue/scope"
)

// Scope returns middleware that exposes the job's owner to the processor
// through scope.Capture.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) processor.Result {
		ctx = scope.WithOwner(ctx, scope.Owner{UserID: j.UserID, SessionID: j.SessionID})
		return next(ctx)
	}
}
