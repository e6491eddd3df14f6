package job

import (
	"time"

	"github.com/aagnone3/toolqueue"
)

// Options holds the per-submission overrides.
type Options struct {
	// Priority orders PENDING jobs. Higher values are claimed first.
	Priority int

	// MaxAttempts is the total number of claims allowed, retries included.
	MaxAttempts int

	// Delay postpones the first claim.
	Delay time.Duration

	// ExpiresIn bounds how long the record is kept once terminal.
	ExpiresIn time.Duration

	// Queue overrides the queue the job is delivered through.
	Queue string

	// Timeout bounds one processor invocation. Zero uses the runner default.
	Timeout time.Duration

	UserID    string
	SessionID string
}

// DefaultOptions derives submission defaults from the pipeline config.
func DefaultOptions(cfg toolqueue.Config) Options {
	return Options{
		MaxAttempts: cfg.DefaultMaxAttempts,
		ExpiresIn:   cfg.JobTTL,
	}
}

// Option is a functional option applied to Options at submission time.
type Option func(*Options)

// Apply folds opts into o.
func (o Options) Apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithMaxAttempts overrides the retry limit.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithDelay makes the job claimable only after d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithExpiresIn sets how long after creation the job may be cleaned up.
func WithExpiresIn(d time.Duration) Option {
	return func(o *Options) { o.ExpiresIn = d }
}

// WithQueue routes the job to a named queue.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithTimeout bounds a single processor invocation for this job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithOwner records the creator. When userID is set the session is ignored.
func WithOwner(userID, sessionID string) Option {
	return func(o *Options) {
		o.UserID = userID
		if userID != "" {
			o.SessionID = ""
		} else {
			o.SessionID = sessionID
		}
	}
}
