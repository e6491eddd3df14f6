// Package ext defines the extension system for toolqueue.
// Extensions are notified of job lifecycle events (submitted, claimed,
// completed, failed, retried, cancelled) and can react to them: metrics,
// stream wake-ups, audit logs.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobSubmitted is called after a job is persisted and handed to its queue.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobClaimed is called when a runner flips a job to PROCESSING.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job becomes terminally FAILED. j.FailureKind
// tells processor failures, configuration errors and stuck jobs apart.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job is returned to PENDING for another attempt.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobCancelled is called after a PENDING job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobDeleted is called after a job record is removed by its owner.
type JobDeleted interface {
	OnJobDeleted(ctx context.Context, jobID id.JobID) error
}

// SweepStats summarizes one sweep run.
type SweepStats struct {
	Stuck     int
	Retried   int
	Processed int
	Cleaned   int64
	Failed    []string
	Elapsed   time.Duration
}

// SweepCompleted is called after every sweep run.
type SweepCompleted interface {
	OnSweepCompleted(ctx context.Context, stats SweepStats) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
