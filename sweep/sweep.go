// Package sweep runs the periodic maintenance pass over the job store:
// stuck-job recovery, the retry sweep, a bounded round of pending-job
// processing and expired-job cleanup.
//
// Each stage is best-effort. A failing stage is logged, reports zero and
// does not stop the stages after it.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/runner"
)

// Report holds the per-stage counts of one sweep.
type Report struct {
	Stuck     int        `json:"stuck"`
	Retried   int        `json:"retried"`
	Processed int        `json:"processed"`
	JobIDs    []id.JobID `json:"jobIds"`
	Cleaned   int64      `json:"cleaned"`
	// Errors lists "<stage>: <error>" for every stage that failed.
	Errors []string `json:"errors,omitempty"`
}

// Sweeper runs sweeps against a Runner.
type Sweeper struct {
	runner         *runner.Runner
	extensions     *ext.Registry
	logger         *slog.Logger
	stuckThreshold time.Duration
	batchLimit     int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Sweeper) { s.logger = l } }

// WithExtensions sets the hook registry notified after each sweep.
func WithExtensions(e *ext.Registry) Option { return func(s *Sweeper) { s.extensions = e } }

// WithStuckThreshold sets how long a job may stay PROCESSING.
func WithStuckThreshold(d time.Duration) Option {
	return func(s *Sweeper) { s.stuckThreshold = d }
}

// WithBatchLimit caps pending jobs processed per sweep.
func WithBatchLimit(n int) Option { return func(s *Sweeper) { s.batchLimit = n } }

// New creates a Sweeper.
func New(r *runner.Runner, opts ...Option) *Sweeper {
	s := &Sweeper{
		runner:         r,
		logger:         slog.Default(),
		stuckThreshold: 30 * time.Minute,
		batchLimit:     10,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extensions == nil {
		s.extensions = ext.NewRegistry(s.logger)
	}
	return s
}

// Run executes one sweep: stuck, retry, pending, cleanup, in that order.
func (s *Sweeper) Run(ctx context.Context) Report {
	start := time.Now()
	var rep Report

	if n, err := s.runner.HandleStuckJobs(ctx, s.stuckThreshold); err != nil {
		s.stageFailed(&rep, "stuck", err)
	} else {
		rep.Stuck = n
	}

	if n, err := s.runner.RetryFailedJobs(ctx); err != nil {
		s.stageFailed(&rep, "retry", err)
	} else {
		rep.Retried = n
	}

	batch, err := s.runner.ProcessAllPendingJobs(ctx, "", s.batchLimit)
	if err != nil {
		s.stageFailed(&rep, "process", err)
	} else {
		rep.Processed = batch.Processed
		rep.JobIDs = batch.JobIDs
	}

	if n, err := s.runner.RunCleanup(ctx); err != nil {
		s.stageFailed(&rep, "cleanup", err)
	} else {
		rep.Cleaned = n
	}

	if rep.JobIDs == nil {
		rep.JobIDs = []id.JobID{}
	}

	elapsed := time.Since(start)
	s.logger.Info("sweep completed",
		slog.Int("stuck", rep.Stuck),
		slog.Int("retried", rep.Retried),
		slog.Int("processed", rep.Processed),
		slog.Int64("cleaned", rep.Cleaned),
		slog.Int("errors", len(rep.Errors)),
		slog.Duration("elapsed", elapsed),
	)
	s.extensions.EmitSweepCompleted(ctx, ext.SweepStats{
		Stuck:     rep.Stuck,
		Retried:   rep.Retried,
		Processed: rep.Processed,
		Cleaned:   rep.Cleaned,
		Failed:    rep.Errors,
		Elapsed:   elapsed,
	})
	return rep
}

func (s *Sweeper) stageFailed(rep *Report, stage string, err error) {
	s.logger.Error("sweep stage failed",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	rep.Errors = append(rep.Errors, stage+": "+err.Error())
}
