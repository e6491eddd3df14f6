package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/queue"
	"github.com/aagnone3/toolqueue/stream"
	"github.com/aagnone3/toolqueue/sweep"
)

// Compile-time interface checks.
var (
	_ queue.Engine    = (*Store)(nil)
	_ sweep.Locker    = (*Store)(nil)
	_ stream.Notifier = (*Store)(nil)
	_ ext.Extension   = (*Store)(nil)
)

// DefaultScanLimit bounds how many visible messages one Fetch inspects.
const DefaultScanLimit = 1000

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source for visibility and leases.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithScanLimit sets how many visible messages Fetch inspects to pick the
// highest priority ones.
func WithScanLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanLimit = n
		}
	}
}

// Store is a Redis-backed queue engine, sweep lock and notifier.
type Store struct {
	client    goredis.UniversalClient
	logger    *slog.Logger
	now       func() time.Time
	scanLimit int
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		scanLimit: DefaultScanLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Name implements ext.Extension.
func (s *Store) Name() string { return "redis-notifier" }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op: the caller owns the Redis client.
func (s *Store) Close() error { return nil }
