package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aagnone3/toolqueue/id"
)

// ClaimFilter narrows ClaimNextPendingJob.
type ClaimFilter struct {
	// ToolSlug restricts the claim to one tool. Empty means any tool.
	ToolSlug string
	// Queue restricts the claim to one queue. Empty means any queue.
	Queue string
	// Now is the claim time. Jobs with RunAt after Now are skipped.
	Now time.Time
}

// Terminal is the outcome written by UpdateJobTerminal.
type Terminal struct {
	Status      Status
	Output      json.RawMessage
	Error       string
	FailureKind FailureKind
	CompletedAt time.Time
}

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	Status    Status
	ToolSlug  string
	Queue     string
	UserID    string
	SessionID string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit  int
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	Status    Status
	ToolSlug  string
	Queue     string
	UserID    string
	SessionID string
}

// Store is the durable record of job state.
//
// Implementations must make ClaimNextPendingJob and ClaimJob a single
// conditional update so that, across processes, at most one caller flips a
// given PENDING job to PROCESSING.
type Store interface {
	// CreateJob persists a new PENDING job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ClaimNextPendingJob selects the eligible PENDING job with the highest
	// priority (oldest first on ties), sets it PROCESSING, increments
	// attempts and stamps startedAt. It returns nil when nothing is eligible.
	ClaimNextPendingJob(ctx context.Context, f ClaimFilter) (*Job, error)

	// ClaimJob claims one specific job the same way. It returns nil when the
	// job does not exist, is not PENDING or is not yet due.
	ClaimJob(ctx context.Context, jobID id.JobID, now time.Time) (*Job, error)

	// UpdateJobTerminal moves a PROCESSING job to COMPLETED or FAILED. A job
	// in any other status yields ErrInvalidTransition.
	UpdateJobTerminal(ctx context.Context, jobID id.JobID, t Terminal) error

	// RequeueJob moves a PROCESSING or FAILED job back to PENDING, clearing
	// its error and completion time. The job becomes claimable at runAt.
	RequeueJob(ctx context.Context, jobID id.JobID, runAt time.Time) error

	// ListStuckJobs returns PROCESSING jobs started before startedBefore.
	ListStuckJobs(ctx context.Context, startedBefore time.Time) ([]*Job, error)

	// ListRetryableJobs returns FAILED jobs of a retryable kind that still
	// have attempts left, oldest completion first.
	ListRetryableJobs(ctx context.Context, limit int) ([]*Job, error)

	// DeleteExpiredJobs removes terminal jobs whose expiresAt is before now.
	DeleteExpiredJobs(ctx context.Context, now time.Time) (int64, error)

	// CancelJob moves a PENDING job to CANCELLED. A terminal job yields
	// ErrJobTerminal, a PROCESSING job ErrInvalidTransition.
	CancelJob(ctx context.Context, jobID id.JobID, now time.Time) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobs returns jobs matching opts, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
