package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives notices from the topics it is subscribed to.
// Delivery never blocks the publisher: when the buffer is full the notice
// is dropped and counted.
type Subscriber struct {
	id      string
	ch      chan *Notice
	filter  func(*Notice) bool
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Subscriber{id: id, ch: make(chan *Notice, bufferSize)}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only notice channel.
func (s *Subscriber) C() <-chan *Notice { return s.ch }

// SetFilter sets an optional predicate. Only matching notices are delivered.
// It must be called before the subscriber is registered.
func (s *Subscriber) SetFilter(fn func(*Notice) bool) { s.filter = fn }

// Dropped returns how many notices were discarded on a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) send(n *Notice) bool {
	if s.filter != nil && !s.filter(n) {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- n:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
