package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aagnone3/toolqueue"
)

// renewScript extends a lease the caller already holds.
var renewScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes a lease only for its holder.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// TryLock takes the named lease with SET NX, or renews it when owner
// already holds it. Expiry is left to Redis.
func (s *Store) TryLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	key := lockKey(name)
	ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("toolqueue/redis: try lock setnx: %w", err)
	}
	if ok {
		return true, nil
	}

	n, err := renewScript.Run(ctx, s.client, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("toolqueue/redis: renew lock: %w", err)
	}
	return n == 1, nil
}

// Unlock releases the named lease if owner holds it.
func (s *Store) Unlock(ctx context.Context, name, owner string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{lockKey(name)}, owner).Int()
	if err != nil {
		return fmt.Errorf("toolqueue/redis: unlock: %w", err)
	}
	if n == 0 {
		return toolqueue.ErrLockNotHeld
	}
	return nil
}
