package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
)

// Defaults for the server hold window and the store polling cadence.
const (
	DefaultWait         = 25 * time.Second
	DefaultPollInterval = time.Second
)

// Streamer produces per-job status event sequences from the job store.
type Streamer struct {
	store    job.Store
	notifier Notifier
	wait     time.Duration
	poll     time.Duration
	logger   *slog.Logger
}

// StreamerOption configures a Streamer.
type StreamerOption func(*Streamer)

// WithNotifier sets the change notifier. Without one the Streamer only polls.
func WithNotifier(n Notifier) StreamerOption {
	return func(s *Streamer) { s.notifier = n }
}

// WithWait sets how long a sequence waits for a change before it emits a
// timeout event.
func WithWait(d time.Duration) StreamerOption {
	return func(s *Streamer) {
		if d > 0 {
			s.wait = d
		}
	}
}

// WithPollInterval sets the store polling cadence.
func WithPollInterval(d time.Duration) StreamerOption {
	return func(s *Streamer) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StreamerOption {
	return func(s *Streamer) { s.logger = l }
}

// NewStreamer creates a Streamer reading from store.
func NewStreamer(store job.Store, opts ...StreamerOption) *Streamer {
	s := &Streamer{
		store:  store,
		wait:   DefaultWait,
		poll:   DefaultPollInterval,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream opens a status sequence for jobID. The first Next returns the
// current snapshot. It fails with toolqueue.ErrJobNotFound when the job
// does not exist.
func (s *Streamer) Stream(ctx context.Context, jobID id.JobID) (*Sequence, error) {
	current, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	seq := &Sequence{
		store:   s.store,
		jobID:   jobID,
		wait:    s.wait,
		pending: current,
		ticker:  time.NewTicker(s.poll),
		closed:  make(chan struct{}),
		logger:  s.logger,
	}

	if s.notifier != nil {
		wake, cancel, watchErr := s.notifier.Watch(ctx, jobID)
		if watchErr != nil {
			s.logger.Warn("stream: notifier unavailable, polling only",
				slog.String("job_id", jobID.String()),
				slog.String("error", watchErr.Error()),
			)
		} else {
			seq.wake = wake
			seq.unwatch = cancel
		}
	}
	return seq, nil
}

// Sequence is a pull-based, finite stream of events for one job. It is not
// restartable and must be read by a single goroutine; Close may be called
// from any goroutine.
type Sequence struct {
	store  job.Store
	jobID  id.JobID
	wait   time.Duration
	logger *slog.Logger

	pending  *job.Job // snapshot to emit on the next call
	last     *job.Job
	deadline time.Time
	done     bool

	wake    <-chan struct{}
	unwatch func()
	ticker  *time.Ticker

	closeOnce sync.Once
	closed    chan struct{}
}

// Next blocks until the next event. It returns io.EOF once the terminal
// update or a timeout event has been delivered, or after Close.
func (q *Sequence) Next(ctx context.Context) (Event, error) {
	if q.done {
		return Event{}, io.EOF
	}
	if q.pending != nil {
		return q.emit(q.pending), nil
	}

	timer := time.NewTimer(time.Until(q.deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.closed:
			q.done = true
			return Event{}, io.EOF
		case <-timer.C:
			q.done = true
			return Event{Type: EventTimeout}, nil
		case <-q.wake:
		case <-q.ticker.C:
		}

		current, err := q.store.GetJob(ctx, q.jobID)
		if errors.Is(err, toolqueue.ErrJobNotFound) {
			q.done = true
			return Event{}, err
		}
		if err != nil {
			// Transient store errors wait for the next tick.
			q.logger.Warn("stream: reload job failed",
				slog.String("job_id", q.jobID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if current.Changed(q.last) {
			return q.emit(current), nil
		}
	}
}

func (q *Sequence) emit(j *job.Job) Event {
	q.pending = nil
	q.last = j
	q.deadline = time.Now().Add(q.wait)
	if j.Status.IsTerminal() {
		q.done = true
	}
	return Event{Type: EventUpdate, Job: j}
}

// Close releases the notifier subscription and ends the sequence.
func (q *Sequence) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		q.ticker.Stop()
		if q.unwatch != nil {
			q.unwatch()
		}
	})
}

// Collect drains seq into a slice. Useful for one-shot callers and tests.
func Collect(ctx context.Context, seq *Sequence) ([]Event, error) {
	var events []Event
	for {
		evt, err := seq.Next(ctx)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("toolqueue/stream: next: %w", err)
		}
		events = append(events, evt)
	}
}
