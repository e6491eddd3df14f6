package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
)

const jobColumns = `id, tool_slug, queue, status, input, output, error, failure_kind,
	attempts, max_attempts, priority, timeout_ns, user_id, session_id,
	run_at, started_at, completed_at, expires_at, created_at, updated_at`

// CreateJob persists a new PENDING job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	var output []byte
	if len(j.Output) > 0 {
		output = []byte(j.Output)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO toolqueue_jobs (`+jobColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20
		)`,
		j.ID.String(), j.ToolSlug, j.Queue, string(j.Status), []byte(j.Input), output,
		j.Error, string(j.FailureKind),
		j.Attempts, j.MaxAttempts, j.Priority, j.Timeout.Nanoseconds(), j.UserID, j.SessionID,
		j.RunAt, j.StartedAt, j.CompletedAt, j.ExpiresAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return toolqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("toolqueue/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM toolqueue_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, toolqueue.ErrJobNotFound
		}
		return nil, fmt.Errorf("toolqueue/postgres: get job: %w", err)
	}
	return j, nil
}

// ClaimNextPendingJob flips the best eligible PENDING job to PROCESSING in
// one statement. SKIP LOCKED keeps concurrent claimers off the same row.
func (s *Store) ClaimNextPendingJob(ctx context.Context, f job.ClaimFilter) (*job.Job, error) {
	now := f.Now
	if now.IsZero() {
		now = s.now()
	}

	w := &where{conds: []string{"status = 'PENDING'"}}
	w.conds = append(w.conds, "run_at <= "+w.arg(now))
	w.eq("tool_slug", f.ToolSlug)
	w.eq("queue", f.Queue)

	row := s.pool.QueryRow(ctx, `
		UPDATE toolqueue_jobs
		SET status = 'PROCESSING', attempts = attempts + 1, started_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM toolqueue_jobs`+w.String()+`
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		w.args...,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("toolqueue/postgres: claim next job: %w", err)
	}
	return j, nil
}

// ClaimJob claims one specific job if it is PENDING and due.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE toolqueue_jobs
		SET status = 'PROCESSING', attempts = attempts + 1, started_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'PENDING' AND run_at <= $2
		RETURNING `+jobColumns,
		jobID.String(), now,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("toolqueue/postgres: claim job: %w", err)
	}
	return j, nil
}

// UpdateJobTerminal records the outcome of a PROCESSING job.
func (s *Store) UpdateJobTerminal(ctx context.Context, jobID id.JobID, t job.Terminal) error {
	if t.Status != job.StatusCompleted && t.Status != job.StatusFailed {
		return toolqueue.ErrInvalidTransition
	}
	completed := t.CompletedAt
	if completed.IsZero() {
		completed = s.now()
	}
	var output []byte
	if len(t.Output) > 0 {
		output = []byte(t.Output)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE toolqueue_jobs SET
			status = $2, output = $3, error = $4, failure_kind = $5,
			completed_at = $6, updated_at = $6
		WHERE id = $1 AND status = 'PROCESSING'`,
		jobID.String(), string(t.Status), output, t.Error, string(t.FailureKind), completed,
	)
	if err != nil {
		return fmt.Errorf("toolqueue/postgres: update terminal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID, toolqueue.ErrInvalidTransition)
	}
	return nil
}

// RequeueJob returns a PROCESSING or FAILED job to PENDING.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, runAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE toolqueue_jobs SET
			status = 'PENDING', output = NULL, error = '', failure_kind = '',
			completed_at = NULL, run_at = $2, updated_at = $3
		WHERE id = $1 AND status IN ('PROCESSING', 'FAILED')`,
		jobID.String(), runAt, s.now(),
	)
	if err != nil {
		return fmt.Errorf("toolqueue/postgres: requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID, toolqueue.ErrInvalidTransition)
	}
	return nil
}

// ListStuckJobs returns PROCESSING jobs started before startedBefore.
func (s *Store) ListStuckJobs(ctx context.Context, startedBefore time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM toolqueue_jobs
		WHERE status = 'PROCESSING' AND started_at < $1
		ORDER BY started_at ASC`,
		startedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/postgres: list stuck jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListRetryableJobs returns FAILED processor failures with attempts left.
func (s *Store) ListRetryableJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM toolqueue_jobs
		WHERE status = 'FAILED' AND failure_kind = $1 AND attempts < max_attempts
		ORDER BY updated_at ASC`
	args := []any{string(job.FailureProcessor)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/postgres: list retryable jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DeleteExpiredJobs removes terminal jobs whose expiresAt is before now.
func (s *Store) DeleteExpiredJobs(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM toolqueue_jobs
		WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED') AND expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("toolqueue/postgres: delete expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelJob moves a PENDING job to CANCELLED.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE toolqueue_jobs SET
			status = 'CANCELLED', error = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'PENDING'`,
		jobID.String(), job.CancelledMessage, now,
	)
	if err != nil {
		return fmt.Errorf("toolqueue/postgres: cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID, toolqueue.ErrJobTerminal)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM toolqueue_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("toolqueue/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return toolqueue.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching opts, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	w := filter(job.CountOpts{
		Status:    opts.Status,
		ToolSlug:  opts.ToolSlug,
		Queue:     opts.Queue,
		UserID:    opts.UserID,
		SessionID: opts.SessionID,
	})
	query := `SELECT ` + jobColumns + ` FROM toolqueue_jobs` + w.String() + ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += " LIMIT " + w.arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + w.arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/postgres: list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	w := filter(opts)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM toolqueue_jobs`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("toolqueue/postgres: count jobs: %w", err)
	}
	return n, nil
}

// filter builds the WHERE clause shared by ListJobs and CountJobs. An owner
// filter follows job.Job.OwnedBy: a user id wins over a session id.
func filter(opts job.CountOpts) *where {
	w := &where{}
	w.eq("status", string(opts.Status))
	w.eq("tool_slug", opts.ToolSlug)
	w.eq("queue", opts.Queue)
	switch {
	case opts.UserID != "" && opts.SessionID != "":
		u, sid := w.arg(opts.UserID), w.arg(opts.SessionID)
		w.conds = append(w.conds, fmt.Sprintf(
			"((user_id <> '' AND user_id = %s) OR (user_id = '' AND session_id <> '' AND session_id = %s))", u, sid))
	case opts.UserID != "":
		w.conds = append(w.conds, "user_id = "+w.arg(opts.UserID))
	case opts.SessionID != "":
		w.conds = append(w.conds, "user_id = '' AND session_id = "+w.arg(opts.SessionID))
	}
	return w
}

// transitionError explains why a conditional update touched no row.
// terminal is returned when the job exists in a terminal state.
func (s *Store) transitionError(ctx context.Context, jobID id.JobID, terminal error) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM toolqueue_jobs WHERE id = $1`, jobID.String()).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return toolqueue.ErrJobNotFound
		}
		return fmt.Errorf("toolqueue/postgres: load status: %w", err)
	}
	if job.Status(status).IsTerminal() {
		return terminal
	}
	return toolqueue.ErrInvalidTransition
}

// scanJob scans a single row into a job.Job.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		status      string
		failureKind string
		input       []byte
		output      []byte
		timeoutNs   int64
		startedAt   *time.Time
		completedAt *time.Time
	)

	err := row.Scan(
		&idStr, &j.ToolSlug, &j.Queue, &status, &input, &output, &j.Error, &failureKind,
		&j.Attempts, &j.MaxAttempts, &j.Priority, &timeoutNs, &j.UserID, &j.SessionID,
		&j.RunAt, &startedAt, &completedAt, &j.ExpiresAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	j.ID = parsed
	j.Status = job.Status(status)
	j.FailureKind = job.FailureKind(failureKind)
	j.Input = input
	if len(output) > 0 {
		j.Output = output
	}
	j.Timeout = time.Duration(timeoutNs)
	j.RunAt = j.RunAt.UTC()
	j.ExpiresAt = j.ExpiresAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.StartedAt = utc(startedAt)
	j.CompletedAt = utc(completedAt)
	return &j, nil
}

// collectJobs scans all rows into a slice.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("toolqueue/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("toolqueue/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
