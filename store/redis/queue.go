package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/queue"
)

// fetchScript dead-letters exhausted visible messages and leases the best
// limit of the rest.
//
// KEYS: queue zset, dead zset.
// ARGV: now ms, lease end ms, limit, message key prefix, scan limit.
var fetchScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[5]))
local cands = {}
for _, id in ipairs(ids) do
	local key = ARGV[4] .. id
	local f = redis.call('HMGET', key, 'deliveries', 'max_deliveries', 'priority', 'run_at')
	if not f[1] then
		redis.call('ZREM', KEYS[1], id)
	elseif tonumber(f[1]) >= tonumber(f[2]) then
		redis.call('ZREM', KEYS[1], id)
		redis.call('ZADD', KEYS[2], ARGV[1], id)
		redis.call('HSET', key, 'lease_until', 0)
	else
		table.insert(cands, {id = id, p = tonumber(f[3]), r = tonumber(f[4])})
	end
end
table.sort(cands, function(a, b)
	if a.p ~= b.p then return a.p > b.p end
	return a.r < b.r
end)
local out = {}
for i = 1, math.min(#cands, tonumber(ARGV[3])) do
	local id = cands[i].id
	local key = ARGV[4] .. id
	redis.call('HINCRBY', key, 'deliveries', 1)
	redis.call('HSET', key, 'lease_until', ARGV[2])
	redis.call('ZADD', KEYS[1], ARGV[2], id)
	table.insert(out, id)
end
return out
`)

// touchScript updates a live message and re-scores it. It returns 0 when
// the message is gone or dead-lettered.
//
// KEYS: message hash.
// ARGV: id, queue key prefix, dead key prefix, mode, score, reason.
// mode "extend" sets the lease end, "fail" releases the lease and moves
// run_at, "complete" deletes the message.
var touchScript = goredis.NewScript(`
local q = redis.call('HGET', KEYS[1], 'queue')
if not q then return 0 end
if redis.call('ZSCORE', ARGV[3] .. q, ARGV[1]) then return 0 end
local qk = ARGV[2] .. q
if ARGV[4] == 'complete' then
	redis.call('ZREM', qk, ARGV[1])
	redis.call('DEL', KEYS[1])
	return 1
end
if ARGV[4] == 'extend' then
	redis.call('HSET', KEYS[1], 'lease_until', ARGV[5])
else
	redis.call('HSET', KEYS[1], 'lease_until', 0, 'run_at', ARGV[5], 'last_error', ARGV[6])
end
redis.call('ZADD', qk, ARGV[5], ARGV[1])
return 1
`)

// depthScript counts ready, leased and dead messages.
//
// KEYS: queue zset, dead zset. ARGV: now ms, message key prefix.
var depthScript = goredis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local leased = 0
for _, id in ipairs(ids) do
	local l = tonumber(redis.call('HGET', ARGV[2] .. id, 'lease_until') or '0')
	if l > tonumber(ARGV[1]) then leased = leased + 1 end
end
return {#ids - leased, leased, redis.call('ZCARD', KEYS[2])}
`)

// Send stores the message as a Hash and schedules it at RunAt.
func (s *Store) Send(ctx context.Context, m *queue.Message) error {
	fields, err := messageToMap(m)
	if err != nil {
		return fmt.Errorf("toolqueue/redis: encode message: %w", err)
	}

	mID := m.ID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, msgKey(mID), fields)
	pipe.ZAdd(ctx, queueKey(m.Queue), goredis.Z{Score: float64(m.RunAt.UnixMilli()), Member: mID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("toolqueue/redis: send message: %w", err)
	}
	return nil
}

// Fetch leases up to limit visible messages from q.
func (s *Store) Fetch(ctx context.Context, q string, limit int, lease time.Duration) ([]*queue.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.now()

	ids, err := fetchScript.Run(ctx, s.client,
		[]string{queueKey(q), deadKey(q)},
		now.UnixMilli(), now.Add(lease).UnixMilli(), limit, msgKeyPrefix, s.scanLimit,
	).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("toolqueue/redis: fetch %s: %w", q, err)
	}

	out, err := s.loadMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/redis: fetch %s: %w", q, err)
	}
	sort.Slice(out, func(i, k int) bool { return queue.Less(out[i], out[k]) })
	return out, nil
}

// Extend pushes a held message's lease forward.
func (s *Store) Extend(ctx context.Context, msgID id.MessageID, lease time.Duration) error {
	return s.touch(ctx, "extend", msgID, s.now().Add(lease), "")
}

// Complete removes a message.
func (s *Store) Complete(ctx context.Context, msgID id.MessageID) error {
	return s.touch(ctx, "complete", msgID, time.Time{}, "")
}

// Fail releases a message so it becomes visible again at retryAt.
func (s *Store) Fail(ctx context.Context, msgID id.MessageID, reason string, retryAt time.Time) error {
	return s.touch(ctx, "fail", msgID, retryAt, reason)
}

func (s *Store) touch(ctx context.Context, mode string, msgID id.MessageID, at time.Time, reason string) error {
	mID := msgID.String()
	var score int64
	if !at.IsZero() {
		score = at.UnixMilli()
	}
	n, err := touchScript.Run(ctx, s.client,
		[]string{msgKey(mID)},
		mID, queueKey(""), deadKey(""), mode, score, reason,
	).Int()
	if err != nil {
		return fmt.Errorf("toolqueue/redis: %s message: %w", mode, err)
	}
	if n == 0 {
		return toolqueue.ErrMessageNotFound
	}
	return nil
}

// Depth counts the messages of q.
func (s *Store) Depth(ctx context.Context, q string) (queue.Stats, error) {
	st := queue.Stats{Queue: q}
	counts, err := depthScript.Run(ctx, s.client,
		[]string{queueKey(q), deadKey(q)},
		s.now().UnixMilli(), msgKeyPrefix,
	).Int64Slice()
	if err != nil {
		return st, fmt.Errorf("toolqueue/redis: depth %s: %w", q, err)
	}
	if len(counts) == 3 {
		st.Ready, st.Leased, st.Dead = counts[0], counts[1], counts[2]
	}
	return st, nil
}

// DeadLetters returns the dead-lettered messages of q, oldest first.
func (s *Store) DeadLetters(ctx context.Context, q string) ([]*queue.Message, error) {
	ids, err := s.client.ZRange(ctx, deadKey(q), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("toolqueue/redis: list dead letters: %w", err)
	}
	out, err := s.loadMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/redis: list dead letters: %w", err)
	}
	return out, nil
}

// loadMessages reads message Hashes in one pipeline, skipping ids whose
// Hash has vanished.
func (s *Store) loadMessages(ctx context.Context, ids []string) ([]*queue.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, mID := range ids {
		cmds[i] = pipe.HGetAll(ctx, msgKey(mID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]*queue.Message, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		m, err := mapToMessage(vals)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
