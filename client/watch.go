package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/aagnone3/toolqueue/backoff"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/stream"
)

// Policy controls how Watch recovers from stream failures.
type Policy struct {
	// Backoff paces reconnects after consecutive errors.
	Backoff backoff.Strategy
	// MaxAttempts is the number of consecutive stream errors after which
	// Watch falls back to polling.
	MaxAttempts int
	// PollInterval is the polling cadence of the fallback.
	PollInterval time.Duration
}

// DefaultPolicy reconnects after 1s doubling to 30s, and polls every 5s
// after 5 consecutive failures.
func DefaultPolicy() Policy {
	return Policy{
		Backoff:      backoff.Reconnect(),
		MaxAttempts:  5,
		PollInterval: 5 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Backoff == nil {
		p.Backoff = d.Backoff
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	return p
}

var errStreamEnded = errors.New("toolqueue/client: stream ended before a terminal state")

// Watch follows jobID until it reaches a terminal state and returns that
// final snapshot. onUpdate (optional) receives every snapshot in order.
//
// A timeout event reconnects immediately. Stream errors reconnect after
// the policy's backoff; an update resets the error count. After
// MaxAttempts consecutive errors Watch polls GetJob instead. Client
// errors such as 404 end the watch.
func (c *Client) Watch(ctx context.Context, jobID string, onUpdate func(*job.Job)) (*job.Job, error) {
	var (
		last     *job.Job
		failures int
	)
	deliver := func(j *job.Job) {
		failures = 0
		if !j.Changed(last) {
			return
		}
		last = j
		if onUpdate != nil {
			onUpdate(j)
		}
	}

	for {
		final, err := c.watchOnce(ctx, jobID, deliver)
		if final != nil {
			return final, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return last, ctxErr
		}
		if err == nil {
			continue
		}
		if permanent(err) {
			return last, err
		}

		failures++
		if failures >= c.policy.MaxAttempts {
			c.logger.Warn("stream unavailable, polling",
				slog.String("job_id", jobID),
				slog.Int("failures", failures),
				slog.String("error", err.Error()),
			)
			return c.poll(ctx, jobID, deliver)
		}

		delay := c.policy.Backoff.Delay(failures)
		c.logger.Debug("stream reconnecting",
			slog.String("job_id", jobID),
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, delay); err != nil {
			return last, err
		}
	}
}

// watchOnce consumes one connection. It returns the final job on a
// terminal update, a nil error after a timeout event and the stream error
// otherwise.
func (c *Client) watchOnce(ctx context.Context, jobID string, deliver func(*job.Job)) (*job.Job, error) {
	r, err := c.openStream(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Unblock a pending read when ctx ends.
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	for {
		evt, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil, errStreamEnded
		}
		if err != nil {
			return nil, err
		}

		switch evt.Type {
		case stream.EventTimeout:
			return nil, nil
		case stream.EventUpdate:
			if evt.Job == nil {
				continue
			}
			deliver(evt.Job)
			if evt.Job.Status.IsTerminal() {
				return evt.Job, nil
			}
		}
	}
}

// poll reads the job every PollInterval until it is terminal.
func (c *Client) poll(ctx context.Context, jobID string, deliver func(*job.Job)) (*job.Job, error) {
	ticker := time.NewTicker(c.policy.PollInterval)
	defer ticker.Stop()

	var last *job.Job
	for {
		j, err := c.GetJob(ctx, jobID)
		switch {
		case err == nil:
			last = j
			deliver(j)
			if j.Status.IsTerminal() {
				return j, nil
			}
		case permanent(err):
			return last, err
		case ctx.Err() == nil:
			c.logger.Warn("poll job failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
