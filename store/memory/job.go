package memory

import (
	"context"
	"sort"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return toolqueue.ErrJobAlreadyExists
	}
	s.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, toolqueue.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ClaimNextPendingJob picks the eligible PENDING job with the highest
// priority, oldest first, and flips it to PROCESSING under the write lock.
func (s *Store) ClaimNextPendingJob(_ context.Context, f job.ClaimFilter) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := f.Now
	if now.IsZero() {
		now = s.now()
	}

	var best *job.Job
	for _, j := range s.jobs {
		if !claimable(j, now) {
			continue
		}
		if f.ToolSlug != "" && j.ToolSlug != f.ToolSlug {
			continue
		}
		if f.Queue != "" && j.Queue != f.Queue {
			continue
		}
		if best == nil || before(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	claim(best, now)
	return best.Clone(), nil
}

// ClaimJob claims one specific job if it is PENDING and due.
func (s *Store) ClaimJob(_ context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok || !claimable(j, now) {
		return nil, nil
	}
	claim(j, now)
	return j.Clone(), nil
}

// UpdateJobTerminal records the outcome of a PROCESSING job.
func (s *Store) UpdateJobTerminal(_ context.Context, jobID id.JobID, t job.Terminal) error {
	if t.Status != job.StatusCompleted && t.Status != job.StatusFailed {
		return toolqueue.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return toolqueue.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing {
		return toolqueue.ErrInvalidTransition
	}

	completed := t.CompletedAt
	if completed.IsZero() {
		completed = s.now()
	}
	j.Status = t.Status
	j.Output = append([]byte(nil), t.Output...)
	if len(t.Output) == 0 {
		j.Output = nil
	}
	j.Error = t.Error
	j.FailureKind = t.FailureKind
	j.CompletedAt = &completed
	j.UpdatedAt = completed
	return nil
}

// RequeueJob returns a PROCESSING or FAILED job to PENDING.
func (s *Store) RequeueJob(_ context.Context, jobID id.JobID, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return toolqueue.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing && j.Status != job.StatusFailed {
		return toolqueue.ErrInvalidTransition
	}

	j.Status = job.StatusPending
	j.Output = nil
	j.Error = ""
	j.FailureKind = job.FailureNone
	j.CompletedAt = nil
	j.RunAt = runAt
	j.UpdatedAt = s.now()
	return nil
}

// ListStuckJobs returns PROCESSING jobs started before startedBefore,
// oldest first.
func (s *Store) ListStuckJobs(_ context.Context, startedBefore time.Time) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Job
	for _, j := range s.jobs {
		if j.Status == job.StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(startedBefore) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(*out[k].StartedAt) })
	return out, nil
}

// ListRetryableJobs returns FAILED processor failures with attempts left.
func (s *Store) ListRetryableJobs(_ context.Context, limit int) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Job
	for _, j := range s.jobs {
		if j.Status == job.StatusFailed && j.FailureKind.Retryable() && j.HasRetryBudget() {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteExpiredJobs removes terminal jobs whose expiresAt is before now.
func (s *Store) DeleteExpiredJobs(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, j := range s.jobs {
		if j.Status.IsTerminal() && j.ExpiresAt.Before(now) {
			delete(s.jobs, key)
			n++
		}
	}
	return n, nil
}

// CancelJob moves a PENDING job to CANCELLED.
func (s *Store) CancelJob(_ context.Context, jobID id.JobID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return toolqueue.ErrJobNotFound
	}
	switch {
	case j.Status.IsTerminal():
		return toolqueue.ErrJobTerminal
	case j.Status != job.StatusPending:
		return toolqueue.ErrInvalidTransition
	}

	j.Status = job.StatusCancelled
	j.Error = job.CancelledMessage
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobID.String()
	if _, ok := s.jobs[key]; !ok {
		return toolqueue.ErrJobNotFound
	}
	delete(s.jobs, key)
	return nil
}

// ListJobs returns jobs matching opts, newest first.
func (s *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := job.CountOpts{
		Status:    opts.Status,
		ToolSlug:  opts.ToolSlug,
		Queue:     opts.Queue,
		UserID:    opts.UserID,
		SessionID: opts.SessionID,
	}
	result := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if matches(j, filter) {
			result = append(result, j.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, j := range s.jobs {
		if matches(j, opts) {
			n++
		}
	}
	return n, nil
}

func claimable(j *job.Job, now time.Time) bool {
	return j.Status == job.StatusPending && !j.RunAt.After(now)
}

func claim(j *job.Job, now time.Time) {
	started := now
	j.Status = job.StatusProcessing
	j.Attempts++
	j.StartedAt = &started
	j.UpdatedAt = now
}

// before orders claim candidates: priority DESC, createdAt ASC.
func before(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func matches(j *job.Job, opts job.CountOpts) bool {
	if opts.Status != "" && j.Status != opts.Status {
		return false
	}
	if opts.ToolSlug != "" && j.ToolSlug != opts.ToolSlug {
		return false
	}
	if opts.Queue != "" && j.Queue != opts.Queue {
		return false
	}
	if opts.UserID != "" || opts.SessionID != "" {
		return j.OwnedBy(opts.UserID, opts.SessionID)
	}
	return true
}
