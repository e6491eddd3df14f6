package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
)

var (
	_ ext.JobSubmitted = (*Store)(nil)
	_ ext.JobClaimed   = (*Store)(nil)
	_ ext.JobCompleted = (*Store)(nil)
	_ ext.JobFailed    = (*Store)(nil)
	_ ext.JobRetrying  = (*Store)(nil)
	_ ext.JobCancelled = (*Store)(nil)
	_ ext.JobDeleted   = (*Store)(nil)
)

// Watch subscribes to the job's channel. Every published message becomes
// a wake-up; wake-ups coalesce while the reader is busy.
func (s *Store) Watch(ctx context.Context, jobID id.JobID) (<-chan struct{}, func(), error) {
	ps := s.client.Subscribe(ctx, jobChannel(jobID.String()))
	// Wait for the subscription confirmation so no publish is missed
	// between Watch returning and the first read.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("toolqueue/redis: subscribe: %w", err)
	}

	wake := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer ps.Close() //nolint:errcheck // best-effort unsubscribe
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake, cancel, nil
}

// notify publishes a wake-up for jobID. Failures are logged: watchers
// still poll.
func (s *Store) notify(ctx context.Context, jobID string, status job.Status) {
	if err := s.client.Publish(ctx, jobChannel(jobID), string(status)).Err(); err != nil {
		s.logger.Warn("redis publish failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Store) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	s.notify(ctx, j.ID.String(), j.Status)
	return nil
}

func (s *Store) OnJobClaimed(ctx context.Context, j *job.Job) error {
	s.notify(ctx, j.ID.String(), j.Status)
	return nil
}

func (s *Store) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	s.notify(ctx, j.ID.String(), j.Status)
	return nil
}

func (s *Store) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	s.notify(ctx, j.ID.String(), j.Status)
	return nil
}

func (s *Store) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	s.notify(ctx, j.ID.String(), j.Status)
	return nil
}

func (s *Store) OnJobCancelled(ctx context.Context, j *job.Job) error {
	s.notify(ctx, j.ID.String(), j.Status)
	return nil
}

func (s *Store) OnJobDeleted(ctx context.Context, jobID id.JobID) error {
	s.notify(ctx, jobID.String(), "")
	return nil
}
