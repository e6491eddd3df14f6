package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
)

// LockName is the lease every scheduler competes for.
const LockName = "toolqueue.sweep"

// Locker is a named, expiring, owner-checked lease shared by all
// processes. Only the holder of LockName runs scheduled sweeps.
type Locker interface {
	// TryLock takes the lease for owner, or renews it if owner already
	// holds it. It returns false when another owner holds an unexpired lease.
	TryLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)

	// Unlock releases the lease. It returns ErrLockNotHeld when owner does
	// not hold it.
	Unlock(ctx context.Context, name, owner string) error
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLockTTL sets how long a won lease lasts without renewal.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithOwner sets the identity written into the lease.
func WithOwner(owner string) SchedulerOption {
	return func(s *Scheduler) { s.owner = owner }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler runs the sweep on a cron schedule. Every process may run a
// Scheduler; a tick only sweeps when this process holds the lease, and an
// overlapping tick is skipped while a sweep is still running.
type Scheduler struct {
	sweeper  *Sweeper
	locker   Locker
	schedule string
	owner    string
	lockTTL  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cronlib.Cron
	last    Report
	leading bool
}

// NewScheduler creates a Scheduler running sweeper on schedule.
func NewScheduler(sweeper *Sweeper, locker Locker, schedule string, opts ...SchedulerOption) (*Scheduler, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/sweep: parse schedule %q: %w", schedule, err)
	}

	s := &Scheduler{
		sweeper:  sweeper,
		locker:   locker,
		schedule: schedule,
		owner:    id.NewWorkerID().String(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lockTTL <= 0 {
		// Long enough to survive until the next tick renews it.
		now := time.Now()
		s.lockTTL = 2 * sched.Next(now).Sub(now)
		if s.lockTTL < time.Minute {
			s.lockTTL = time.Minute
		}
	}

	s.cron = cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithLogger(cronLogger{s.logger}),
		cronlib.WithChain(
			cronlib.Recover(cronLogger{s.logger}),
			cronlib.SkipIfStillRunning(cronLogger{s.logger}),
		),
	)
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("toolqueue/sweep: add schedule: %w", err)
	}
	return s, nil
}

// Start launches the cron loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	s.logger.Info("sweep scheduler started",
		slog.String("owner", s.owner),
		slog.String("schedule", s.schedule),
	)
	return nil
}

// Stop waits for a running sweep to finish and gives up the lease.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	leading := s.leading
	s.leading = false
	s.mu.Unlock()

	if leading {
		if err := s.locker.Unlock(ctx, LockName, s.owner); err != nil && !errors.Is(err, toolqueue.ErrLockNotHeld) {
			s.logger.Warn("sweep lock release failed", slog.String("error", err.Error()))
		}
	}
	s.logger.Info("sweep scheduler stopped")
	return nil
}

// Leading reports whether the last tick won the lease.
func (s *Scheduler) Leading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leading
}

// LastReport returns the report of the most recent sweep this scheduler ran.
func (s *Scheduler) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunOnce performs one tick: take or renew the lease and, if held, sweep.
// It reports whether a sweep ran.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, bool) {
	held, err := s.locker.TryLock(ctx, LockName, s.owner, s.lockTTL)
	if err != nil {
		s.logger.Warn("sweep lock error", slog.String("error", err.Error()))
		held = false
	}

	s.mu.Lock()
	if held && !s.leading {
		s.logger.Info("acquired sweep leadership", slog.String("owner", s.owner))
	}
	s.leading = held
	s.mu.Unlock()

	if !held {
		return Report{}, false
	}

	rep := s.sweeper.Run(ctx)
	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()
	return rep, true
}

func (s *Scheduler) tick() {
	s.RunOnce(context.Background())
}

// cronLogger routes robfig/cron's logging to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
