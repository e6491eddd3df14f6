package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/scope"
)

// Submitter persists new jobs and hands them to their queue.
//
// It is also an extension: registered on the runner's hook registry, it
// sends a fresh message whenever a job is requeued for another attempt, so
// retries are delivered without waiting for the sweep.
type Submitter struct {
	store      job.Store
	engine     Engine
	cfg        toolqueue.Config
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time
}

var (
	_ ext.Extension   = (*Submitter)(nil)
	_ ext.JobRetrying = (*Submitter)(nil)
)

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithSubmitterLogger sets the logger.
func WithSubmitterLogger(l *slog.Logger) SubmitterOption {
	return func(s *Submitter) { s.logger = l }
}

// WithSubmitterExtensions sets the registry notified of submissions.
func WithSubmitterExtensions(e *ext.Registry) SubmitterOption {
	return func(s *Submitter) { s.extensions = e }
}

// WithSubmitterClock overrides the time source.
func WithSubmitterClock(now func() time.Time) SubmitterOption {
	return func(s *Submitter) { s.now = now }
}

// NewSubmitter creates a Submitter. engine may be nil, in which case jobs
// are only persisted and the sweep picks them up.
func NewSubmitter(store job.Store, engine Engine, cfg toolqueue.Config, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		store:  store,
		engine: engine,
		cfg:    cfg,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extensions == nil {
		s.extensions = ext.NewRegistry(s.logger)
	}
	return s
}

// Name implements ext.Extension.
func (s *Submitter) Name() string { return "queue-submitter" }

// SubmitJob submits a job with default options.
func (s *Submitter) SubmitJob(ctx context.Context, toolSlug string, input json.RawMessage) (*job.Job, error) {
	return s.SubmitJobWithOptions(ctx, toolSlug, input)
}

// SubmitJobWithOptions persists a PENDING job and sends its delivery
// message. The tool slug is not checked against the registry: an unknown
// slug fails at claim time. A failed send is logged, not returned; the
// job is durable and the sweep delivers it.
func (s *Submitter) SubmitJobWithOptions(ctx context.Context, toolSlug string, input json.RawMessage, opts ...job.Option) (*job.Job, error) {
	if toolSlug == "" {
		return nil, toolqueue.ErrEmptyToolSlug
	}

	o := job.DefaultOptions(s.cfg)
	if owner, ok := scope.Capture(ctx); ok {
		o = o.Apply(job.WithOwner(owner.UserID, owner.SessionID))
	}
	o = o.Apply(opts...)
	switch {
	case o.Queue == "":
		o.Queue = s.cfg.QueueFor(toolSlug)
	case !s.cfg.HasQueue(o.Queue):
		return nil, fmt.Errorf("%w: %q", toolqueue.ErrUnknownQueue, o.Queue)
	}

	j := job.New(toolSlug, input, o, s.now())
	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("toolqueue/queue: create job: %w", err)
	}

	s.send(ctx, j, j.RunAt)
	s.logger.Debug("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("tool_slug", j.ToolSlug),
		slog.String("queue", j.Queue),
	)
	s.extensions.EmitJobSubmitted(ctx, j)
	return j, nil
}

// OnJobRetrying delivers the requeued job again at nextRunAt.
func (s *Submitter) OnJobRetrying(ctx context.Context, j *job.Job, _ int, nextRunAt time.Time) error {
	s.send(ctx, j, nextRunAt)
	return nil
}

func (s *Submitter) send(ctx context.Context, j *job.Job, runAt time.Time) {
	if s.engine == nil {
		return
	}
	m := NewMessage(j.Queue, j.ID, j.Priority, runAt, s.cfg.MaxDeliveries)
	if err := s.engine.Send(ctx, m); err != nil {
		s.logger.Warn("queue send failed, job left for the sweep",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("error", err.Error()),
		)
	}
}
