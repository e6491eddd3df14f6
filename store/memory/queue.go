package memory

import (
	"context"
	"sort"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/queue"
)

// Send enqueues a message.
func (s *Store) Send(_ context.Context, m *queue.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID.String()] = m.Clone()
	return nil
}

// Fetch leases up to limit visible messages from q.
func (s *Store) Fetch(_ context.Context, q string, limit int, leaseFor time.Duration) ([]*queue.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var visible []*queue.Message
	for key, m := range s.messages {
		if m.Queue != q || !m.Visible(now) {
			continue
		}
		if m.Exhausted() {
			delete(s.messages, key)
			s.dead[key] = m
			continue
		}
		visible = append(visible, m)
	}
	sort.Slice(visible, func(i, k int) bool { return queue.Less(visible[i], visible[k]) })
	if len(visible) > limit {
		visible = visible[:limit]
	}

	out := make([]*queue.Message, len(visible))
	until := now.Add(leaseFor)
	for i, m := range visible {
		m.Deliveries++
		m.LeaseUntil = &until
		out[i] = m.Clone()
	}
	return out, nil
}

// Extend pushes a held message's lease forward.
func (s *Store) Extend(_ context.Context, msgID id.MessageID, leaseFor time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[msgID.String()]
	if !ok {
		return toolqueue.ErrMessageNotFound
	}
	until := s.now().Add(leaseFor)
	m.LeaseUntil = &until
	return nil
}

// Complete removes a message.
func (s *Store) Complete(_ context.Context, msgID id.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := msgID.String()
	if _, ok := s.messages[key]; !ok {
		return toolqueue.ErrMessageNotFound
	}
	delete(s.messages, key)
	return nil
}

// Fail releases a message so it becomes visible again at retryAt.
func (s *Store) Fail(_ context.Context, msgID id.MessageID, reason string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[msgID.String()]
	if !ok {
		return toolqueue.ErrMessageNotFound
	}
	m.LeaseUntil = nil
	m.RunAt = retryAt
	m.LastError = reason
	return nil
}

// Depth counts the messages of q.
func (s *Store) Depth(_ context.Context, q string) (queue.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := queue.Stats{Queue: q}
	now := s.now()
	for _, m := range s.messages {
		if m.Queue != q {
			continue
		}
		if m.LeaseUntil != nil && m.LeaseUntil.After(now) {
			st.Leased++
		} else {
			st.Ready++
		}
	}
	for _, m := range s.dead {
		if m.Queue == q {
			st.Dead++
		}
	}
	return st, nil
}

// DeadLetters returns the dead-lettered messages of q.
func (s *Store) DeadLetters(q string) []*queue.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*queue.Message
	for _, m := range s.dead {
		if m.Queue == q {
			out = append(out, m.Clone())
		}
	}
	return out
}
