package toolqueue

import "time"

// QueueConfig describes one named delivery queue.
type QueueConfig struct {
	// Name identifies the queue. Jobs are routed to it by tool slug.
	Name string `json:"name"`

	// ToolSlugs lists the tools routed to this queue. A queue without slugs
	// only receives jobs submitted with an explicit queue option.
	ToolSlugs []string `json:"toolSlugs,omitempty"`

	// BatchSize is the maximum number of messages fetched per poll.
	BatchSize int `json:"batchSize"`

	// PollingInterval is the delay between polls when the queue is idle.
	PollingInterval time.Duration `json:"pollingInterval"`

	// Concurrency bounds the number of jobs from this queue processed at once.
	Concurrency int `json:"concurrency"`

	// Lease is how long a fetched message stays invisible to other workers.
	Lease time.Duration `json:"lease"`

	// RateLimit is the sustained dequeue rate in jobs per second (0 = unlimited).
	RateLimit float64 `json:"rateLimit,omitempty"`

	// RateBurst is the burst size for RateLimit.
	RateBurst int `json:"rateBurst,omitempty"`
}

// Config holds the pipeline-wide settings.
type Config struct {
	// Queues lists the named queues served by worker pools.
	Queues []QueueConfig

	// DefaultQueue receives jobs whose tool slug is not routed elsewhere.
	DefaultQueue string

	// DefaultMaxAttempts applies when a submission does not override it.
	DefaultMaxAttempts int

	// JobTTL is added to the creation time to compute expiresAt.
	JobTTL time.Duration

	// ProcessorTimeout bounds a single processor invocation (0 = unbounded).
	ProcessorTimeout time.Duration

	// MaxDeliveries caps the queue engine's own redelivery of a message.
	MaxDeliveries int

	// StuckThreshold is how long a job may stay PROCESSING before the sweep
	// marks it failed.
	StuckThreshold time.Duration

	// SweepBatchLimit is the per-call cap on pending jobs the sweep processes.
	SweepBatchLimit int

	// SweepSchedule is the cron expression of the in-process sweep.
	SweepSchedule string

	// RetryBatchLimit caps the failed jobs requeued per retry sweep.
	RetryBatchLimit int

	// StreamWait is how long a status stream is held open without changes.
	StreamWait time.Duration

	// StreamPollInterval is how often a stream re-reads the job when no
	// change notification arrives.
	StreamPollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultQueueConfig returns the settings of the default queue.
func DefaultQueueConfig(name string) QueueConfig {
	return QueueConfig{
		Name:            name,
		BatchSize:       5,
		PollingInterval: 2 * time.Second,
		Concurrency:     5,
		Lease:           5 * time.Minute,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Queues:             []QueueConfig{DefaultQueueConfig("default")},
		DefaultQueue:       "default",
		DefaultMaxAttempts: 3,
		JobTTL:             7 * 24 * time.Hour,
		MaxDeliveries:      5,
		StuckThreshold:     30 * time.Minute,
		SweepBatchLimit:    10,
		SweepSchedule:      "@every 1m",
		RetryBatchLimit:    100,
		StreamWait:         25 * time.Second,
		StreamPollInterval: time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}

// HasQueue reports whether name is one of the configured queues.
func (c Config) HasQueue(name string) bool {
	for _, q := range c.Queues {
		if q.Name == name {
			return true
		}
	}
	return false
}

// QueueFor returns the queue a tool slug is routed to.
func (c Config) QueueFor(toolSlug string) string {
	for _, q := range c.Queues {
		for _, s := range q.ToolSlugs {
			if s == toolSlug {
				return q.Name
			}
		}
	}
	if c.DefaultQueue == "" {
		return "default"
	}
	return c.DefaultQueue
}
