//go:build integration

package redis_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/queue"
	"github.com/aagnone3/toolqueue/store/redis"
)

// setupTestStore starts a Redis container and returns a Store on it.
func setupTestStore(t *testing.T) *redis.Store {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	s := redis.New(client, redis.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return s
}

// ──────────────────────────────────────────────────
// Queue
// ──────────────────────────────────────────────────

func TestQueue_LeaseFailAndDeadLetter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Add(-time.Second)

	m := queue.NewMessage("default", id.NewJobID(), 0, now, 2)
	if err := s.Send(ctx, m); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := s.Fetch(ctx, "default", 10, time.Minute)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 || got[0].Deliveries != 1 || got[0].LeaseUntil == nil {
		t.Fatalf("unexpected lease: %+v", got)
	}
	if got[0].JobID.String() != m.JobID.String() {
		t.Errorf("JobID = %s, want %s", got[0].JobID, m.JobID)
	}
	if again, _ := s.Fetch(ctx, "default", 10, time.Minute); len(again) != 0 {
		t.Fatal("leased message must not be fetched again")
	}

	if err := s.Fail(ctx, m.ID, "boom", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	second, _ := s.Fetch(ctx, "default", 10, time.Minute)
	if len(second) != 1 || second[0].Deliveries != 2 || second[0].LastError != "boom" {
		t.Fatalf("unexpected redelivery: %+v", second)
	}
	_ = s.Fail(ctx, m.ID, "boom", now)

	if third, _ := s.Fetch(ctx, "default", 10, time.Minute); len(third) != 0 {
		t.Fatalf("exhausted message must not be delivered, got %d", len(third))
	}
	st, err := s.Depth(ctx, "default")
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if st.Dead != 1 || st.Ready != 0 || st.Leased != 0 {
		t.Errorf("depth = %+v", st)
	}
	dead, _ := s.DeadLetters(ctx, "default")
	if len(dead) != 1 || dead[0].ID.String() != m.ID.String() {
		t.Errorf("dead letters = %+v", dead)
	}
	if err := s.Complete(ctx, m.ID); !errors.Is(err, toolqueue.ErrMessageNotFound) {
		t.Errorf("complete dead message: got %v", err)
	}
}

func TestQueue_PriorityDelayAndComplete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	low := queue.NewMessage("default", id.NewJobID(), 0, now.Add(-2*time.Second), 3)
	high := queue.NewMessage("default", id.NewJobID(), 9, now.Add(-time.Second), 3)
	later := queue.NewMessage("default", id.NewJobID(), 99, now.Add(time.Hour), 3)
	for _, m := range []*queue.Message{low, high, later} {
		if err := s.Send(ctx, m); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	got, err := s.Fetch(ctx, "default", 1, time.Minute)
	if err != nil || len(got) != 1 {
		t.Fatalf("fetch: %v %d", err, len(got))
	}
	if got[0].ID.String() != high.ID.String() {
		t.Errorf("expected high priority first, got priority %d", got[0].Priority)
	}
	if err := s.Extend(ctx, high.ID, time.Hour); err != nil {
		t.Errorf("extend: %v", err)
	}

	st, _ := s.Depth(ctx, "default")
	if st.Ready != 2 || st.Leased != 1 {
		t.Errorf("depth = %+v", st)
	}

	if err := s.Complete(ctx, high.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Complete(ctx, high.ID); !errors.Is(err, toolqueue.ErrMessageNotFound) {
		t.Errorf("second complete: got %v", err)
	}

	rest, _ := s.Fetch(ctx, "default", 10, time.Minute)
	if len(rest) != 1 || rest[0].ID.String() != low.ID.String() {
		t.Fatalf("delayed message must stay hidden, got %d", len(rest))
	}
}

// ──────────────────────────────────────────────────
// Lock and notifications
// ──────────────────────────────────────────────────

func TestLock(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "sweep", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: %v %v", ok, err)
	}
	if ok, _ := s.TryLock(ctx, "sweep", "b", time.Minute); ok {
		t.Fatal("second owner must not take a held lock")
	}
	if ok, _ := s.TryLock(ctx, "sweep", "a", time.Minute); !ok {
		t.Fatal("holder must be able to renew")
	}
	if err := s.Unlock(ctx, "sweep", "b"); !errors.Is(err, toolqueue.ErrLockNotHeld) {
		t.Errorf("foreign unlock: got %v", err)
	}
	if err := s.Unlock(ctx, "sweep", "a"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, _ := s.TryLock(ctx, "sweep", "b", 50*time.Millisecond); !ok {
		t.Fatal("released lock must be free")
	}
	time.Sleep(200 * time.Millisecond)
	if ok, _ := s.TryLock(ctx, "sweep", "a", time.Minute); !ok {
		t.Fatal("expired lock must be taken over")
	}
}

func TestWatch_WakesOnHook(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := &job.Job{ID: id.NewJobID(), Status: job.StatusCompleted}
	ch, cancel, err := s.Watch(ctx, j.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if err := s.OnJobCompleted(ctx, j, time.Second); err != nil {
		t.Fatalf("hook: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no wake-up received")
	}
}
