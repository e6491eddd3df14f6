// Package runner claims jobs from the store, invokes the processor bound to
// their tool slug and records the outcome. It also hosts the maintenance
// operations the sweep schedules: stuck-job recovery, the retry sweep and
// expired-job cleanup.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/backoff"
	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/middleware"
	"github.com/aagnone3/toolqueue/processor"
)

// Outcome describes what a single-job call did.
type Outcome struct {
	// Found is true when a job was claimed and processed.
	Found bool

	JobID    id.JobID
	Status   job.Status
	Attempts int

	// RunAt is when a PENDING job next becomes claimable.
	RunAt time.Time
}

// BatchOutcome describes a ProcessAllPendingJobs call.
type BatchOutcome struct {
	Processed int
	JobIDs    []id.JobID
}

// Runner is the job state machine driver.
type Runner struct {
	store      job.Store
	registry   *processor.Registry
	extensions *ext.Registry
	chain      middleware.Middleware
	backoff    backoff.Strategy
	logger     *slog.Logger
	now        func() time.Time

	outer          []middleware.Middleware
	defaultTimeout time.Duration
	retryBatch     int
}

// New creates a Runner over store and registry.
func New(store job.Store, registry *processor.Registry, opts ...Option) *Runner {
	r := &Runner{
		store:      store,
		registry:   registry,
		backoff:    backoff.None,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		retryBatch: 100,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.extensions == nil {
		r.extensions = ext.NewRegistry(r.logger)
	}

	// Recover must run on the goroutine Timeout spawns.
	mws := append([]middleware.Middleware{}, r.outer...)
	mws = append(mws,
		middleware.Timeout(r.defaultTimeout, r.logger),
		middleware.Recover(r.logger),
		middleware.Scope(),
	)
	r.chain = middleware.Chain(mws...)
	return r
}

// Store returns the job store the runner writes to.
func (r *Runner) Store() job.Store { return r.store }

// ProcessNextJob claims the best PENDING job (optionally only for toolSlug)
// and drives it to its next state. A zero Outcome means nothing was eligible.
func (r *Runner) ProcessNextJob(ctx context.Context, toolSlug string) (Outcome, error) {
	j, err := r.store.ClaimNextPendingJob(ctx, job.ClaimFilter{ToolSlug: toolSlug, Now: r.now()})
	if err != nil {
		return Outcome{}, fmt.Errorf("claim next job: %w", err)
	}
	if j == nil {
		return Outcome{}, nil
	}
	return r.execute(ctx, j)
}

// ProcessJob claims the given job and drives it to its next state. When the
// job cannot be claimed (already taken, terminal or not yet due) Found is
// false and Status reports what the store holds.
func (r *Runner) ProcessJob(ctx context.Context, jobID id.JobID) (Outcome, error) {
	j, err := r.store.ClaimJob(ctx, jobID, r.now())
	if err != nil {
		return Outcome{JobID: jobID}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if j != nil {
		return r.execute(ctx, j)
	}

	current, err := r.store.GetJob(ctx, jobID)
	if errors.Is(err, toolqueue.ErrJobNotFound) {
		return Outcome{JobID: jobID}, nil
	}
	if err != nil {
		return Outcome{JobID: jobID}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return Outcome{JobID: jobID, Status: current.Status, Attempts: current.Attempts, RunAt: current.RunAt}, nil
}

// ProcessAllPendingJobs calls ProcessNextJob until no job is eligible or
// limit jobs were processed. JobIDs lists each touched job once.
func (r *Runner) ProcessAllPendingJobs(ctx context.Context, toolSlug string, limit int) (BatchOutcome, error) {
	var out BatchOutcome
	seen := make(map[string]struct{})

	for out.Processed < limit {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		o, err := r.ProcessNextJob(ctx, toolSlug)
		if err != nil {
			return out, err
		}
		if !o.Found {
			break
		}
		out.Processed++
		if _, dup := seen[o.JobID.String()]; !dup {
			seen[o.JobID.String()] = struct{}{}
			out.JobIDs = append(out.JobIDs, o.JobID)
		}
	}
	return out, nil
}

// HandleStuckJobs fails every job that has been PROCESSING for longer than
// threshold. Such jobs are not retried: the processor may have had side
// effects before its worker died. It returns the number of jobs failed.
func (r *Runner) HandleStuckJobs(ctx context.Context, threshold time.Duration) (int, error) {
	now := r.now()
	stuck, err := r.store.ListStuckJobs(ctx, now.Add(-threshold))
	if err != nil {
		return 0, fmt.Errorf("list stuck jobs: %w", err)
	}

	count := 0
	for _, j := range stuck {
		msg := fmt.Sprintf("%s no outcome recorded within %s of claim (attempt %d/%d)",
			job.StuckPrefix, threshold, j.Attempts, j.MaxAttempts)
		t := job.Terminal{
			Status:      job.StatusFailed,
			Error:       msg,
			FailureKind: job.FailureStuck,
			CompletedAt: now,
		}
		if err := r.store.UpdateJobTerminal(ctx, j.ID, t); err != nil {
			if !errors.Is(err, toolqueue.ErrInvalidTransition) && !errors.Is(err, toolqueue.ErrJobNotFound) {
				r.logger.Error("failed to mark stuck job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		applyTerminal(j, t)
		count++

		r.logger.Warn("stuck job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("tool_slug", j.ToolSlug),
			slog.Time("started_at", derefTime(j.StartedAt)),
		)
		r.extensions.EmitJobFailed(ctx, j, errors.New(msg))
	}
	return count, nil
}

// RetryFailedJobs returns FAILED jobs with remaining attempts to PENDING.
// Configuration and stuck failures are never picked up. Pacing comes from
// how often the sweep runs, so requeued jobs are claimable immediately.
func (r *Runner) RetryFailedJobs(ctx context.Context) (int, error) {
	now := r.now()
	failed, err := r.store.ListRetryableJobs(ctx, r.retryBatch)
	if err != nil {
		return 0, fmt.Errorf("list retryable jobs: %w", err)
	}

	count := 0
	for _, j := range failed {
		if !j.FailureKind.Retryable() || !j.HasRetryBudget() {
			continue
		}
		if err := r.store.RequeueJob(ctx, j.ID, now); err != nil {
			if !errors.Is(err, toolqueue.ErrInvalidTransition) && !errors.Is(err, toolqueue.ErrJobNotFound) {
				r.logger.Error("failed to requeue job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		count++
		j.Status = job.StatusPending
		r.extensions.EmitJobRetrying(ctx, j, j.Attempts+1, now)
	}
	return count, nil
}

// RunCleanup deletes terminal jobs whose expiresAt has passed.
func (r *Runner) RunCleanup(ctx context.Context) (int64, error) {
	n, err := r.store.DeleteExpiredJobs(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	if n > 0 {
		r.logger.Info("expired jobs deleted", slog.Int64("count", n))
	}
	return n, nil
}

// execute runs the processor for a freshly claimed job and records the
// outcome. Bookkeeping writes survive cancellation of ctx so a shutdown
// does not strand the job in PROCESSING.
func (r *Runner) execute(ctx context.Context, j *job.Job) (Outcome, error) {
	r.extensions.EmitJobClaimed(ctx, j)

	fn, ok := r.registry.Resolve(j.ToolSlug)
	if !ok {
		msg := fmt.Sprintf("%s for tool %q", job.NoProcessorPrefix, j.ToolSlug)
		return r.fail(ctx, j, msg, job.FailureConfiguration)
	}

	start := time.Now()
	res := r.chain(ctx, j, func(ctx context.Context) processor.Result {
		return fn(ctx, j.Input)
	})
	elapsed := time.Since(start)

	ctx = context.WithoutCancel(ctx)
	switch {
	case res.Success:
		return r.complete(ctx, j, res, elapsed)
	case j.HasRetryBudget():
		return r.retry(ctx, j, res)
	default:
		return r.fail(ctx, j, failureMessage(res), job.FailureProcessor)
	}
}

func (r *Runner) complete(ctx context.Context, j *job.Job, res processor.Result, elapsed time.Duration) (Outcome, error) {
	output := res.Output
	if len(output) == 0 {
		output = processor.Succeed(nil).Output
	}
	t := job.Terminal{Status: job.StatusCompleted, Output: output, CompletedAt: r.now()}
	if err := r.store.UpdateJobTerminal(ctx, j.ID, t); err != nil {
		return r.lostRace(ctx, j, "complete", err)
	}
	applyTerminal(j, t)
	r.extensions.EmitJobCompleted(ctx, j, elapsed)
	return outcomeOf(j), nil
}

func (r *Runner) retry(ctx context.Context, j *job.Job, res processor.Result) (Outcome, error) {
	delay := r.backoff.Delay(j.Attempts)
	runAt := r.now().Add(delay)
	if err := r.store.RequeueJob(ctx, j.ID, runAt); err != nil {
		return r.lostRace(ctx, j, "requeue", err)
	}
	j.Status = job.StatusPending
	j.RunAt = runAt
	j.UpdatedAt = r.now()

	r.logger.Info("job requeued for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("tool_slug", j.ToolSlug),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", failureMessage(res)),
	)
	r.extensions.EmitJobRetrying(ctx, j, j.Attempts+1, runAt)
	return outcomeOf(j), nil
}

func (r *Runner) fail(ctx context.Context, j *job.Job, msg string, kind job.FailureKind) (Outcome, error) {
	t := job.Terminal{Status: job.StatusFailed, Error: msg, FailureKind: kind, CompletedAt: r.now()}
	if err := r.store.UpdateJobTerminal(context.WithoutCancel(ctx), j.ID, t); err != nil {
		return r.lostRace(ctx, j, "fail", err)
	}
	applyTerminal(j, t)

	r.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("tool_slug", j.ToolSlug),
		slog.String("failure_kind", string(kind)),
		slog.Int("attempts", j.Attempts),
		slog.String("error", msg),
	)
	r.extensions.EmitJobFailed(ctx, j, errors.New(msg))
	return outcomeOf(j), nil
}

// lostRace handles a failed outcome write. When the job left PROCESSING in
// the meantime (stuck sweep, deletion) the stored state wins and the
// processor's outcome is dropped.
func (r *Runner) lostRace(ctx context.Context, j *job.Job, op string, err error) (Outcome, error) {
	if !errors.Is(err, toolqueue.ErrInvalidTransition) && !errors.Is(err, toolqueue.ErrJobNotFound) {
		r.logger.Error("failed to record job outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return Outcome{Found: true, JobID: j.ID, Status: j.Status, Attempts: j.Attempts},
			fmt.Errorf("%s job %s: %w", op, j.ID, err)
	}

	r.logger.Warn("job left PROCESSING before its outcome was recorded",
		slog.String("job_id", j.ID.String()),
		slog.String("op", op),
	)
	out := Outcome{Found: true, JobID: j.ID, Attempts: j.Attempts}
	if current, getErr := r.store.GetJob(ctx, j.ID); getErr == nil {
		out.Status = current.Status
	}
	return out, nil
}

func applyTerminal(j *job.Job, t job.Terminal) {
	j.Status = t.Status
	j.Output = t.Output
	j.Error = t.Error
	j.FailureKind = t.FailureKind
	completed := t.CompletedAt
	j.CompletedAt = &completed
	j.UpdatedAt = t.CompletedAt
}

func outcomeOf(j *job.Job) Outcome {
	return Outcome{Found: true, JobID: j.ID, Status: j.Status, Attempts: j.Attempts, RunAt: j.RunAt}
}

func failureMessage(res processor.Result) string {
	if res.Error == "" {
		return "processor reported failure"
	}
	return res.Error
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
