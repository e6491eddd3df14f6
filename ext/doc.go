// Package ext lets code outside the pipeline observe job lifecycle events.
//
//	type auditExt struct{ log *slog.Logger }
//
//	func (a *auditExt) Name() string { return "audit" }
//
//	func (a *auditExt) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    a.log.Warn("job failed", "job_id", j.ID, "kind", j.FailureKind, "error", err)
//	    return nil
//	}
//
// Hooks:
//
//   - [JobSubmitted], [JobClaimed], [JobCompleted], [JobFailed]
//   - [JobRetrying], [JobCancelled], [JobDeleted]
//   - [SweepCompleted], [Shutdown]
//
// The stream package's Broker and the observability package's metrics
// extension are both plain extensions registered through [Registry].
package ext
