// Package memory provides an in-memory job store, queue engine and sweep
// lock. It is safe for concurrent access and intended for tests,
// development and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/queue"
	"github.com/aagnone3/toolqueue/sweep"
)

var (
	_ job.Store    = (*Store)(nil)
	_ queue.Engine = (*Store)(nil)
	_ sweep.Locker = (*Store)(nil)
)

type lease struct {
	owner string
	until time.Time
}

// Store holds jobs, queue messages and locks in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.Job
	messages map[string]*queue.Message
	dead     map[string]*queue.Message
	locks    map[string]lease

	now    func() time.Time
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used where callers do not pass a
// time explicitly (queue leases, lock expiry, bookkeeping timestamps).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:     make(map[string]*job.Job),
		messages: make(map[string]*queue.Message),
		dead:     make(map[string]*queue.Message),
		locks:    make(map[string]lease),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return toolqueue.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is kept so tests can inspect it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
