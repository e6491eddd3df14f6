package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/aagnone3/toolqueue"
)

// TryLock takes or renews the named lease for owner. The upsert only
// overwrites a row held by the same owner or one whose lease has passed.
func (s *Store) TryLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO toolqueue_locks (name, owner, until)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, until = EXCLUDED.until
		WHERE toolqueue_locks.owner = EXCLUDED.owner OR toolqueue_locks.until <= $4`,
		name, owner, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("toolqueue/postgres: try lock %s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Unlock releases the named lease if owner holds it.
func (s *Store) Unlock(ctx context.Context, name, owner string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM toolqueue_locks WHERE name = $1 AND owner = $2`,
		name, owner,
	)
	if err != nil {
		return fmt.Errorf("toolqueue/postgres: unlock %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return toolqueue.ErrLockNotHeld
	}
	return nil
}
