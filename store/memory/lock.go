package memory

import (
	"context"
	"time"

	"github.com/aagnone3/toolqueue"
)

// TryLock takes or renews the named lease for owner.
func (s *Store) TryLock(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.locks[name]; ok && cur.owner != owner && cur.until.After(now) {
		return false, nil
	}
	s.locks[name] = lease{owner: owner, until: now.Add(ttl)}
	return true, nil
}

// Unlock releases the named lease if owner holds it.
func (s *Store) Unlock(_ context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[name]
	if !ok || cur.owner != owner {
		return toolqueue.ErrLockNotHeld
	}
	delete(s.locks, name)
	return nil
}
