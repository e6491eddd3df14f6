package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/queue"
	"github.com/aagnone3/toolqueue/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newJob(t *testing.T, s *memory.Store, slug string, opts ...job.Option) *job.Job {
	t.Helper()
	o := job.DefaultOptions(toolqueue.DefaultConfig()).Apply(job.WithQueue("default"))
	j := job.New(slug, json.RawMessage(`{"n":1}`), o.Apply(opts...), t0)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}
	return j
}

func TestLifecycle(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, toolqueue.ErrStoreClosed) {
		t.Fatalf("ping after close = %v, want ErrStoreClosed", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := newJob(t, s, "echo")

	if err := s.CreateJob(ctx, j); !errors.Is(err, toolqueue.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create = %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ToolSlug != "echo" || got.Status != job.StatusPending {
		t.Fatalf("unexpected job: %+v", got)
	}

	// Returned jobs are copies.
	got.Status = job.StatusFailed
	again, _ := s.GetJob(ctx, j.ID)
	if again.Status != job.StatusPending {
		t.Fatal("mutating a returned job changed the store")
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, toolqueue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClaimNextPendingJob_Order(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	low := newJob(t, s, "echo", job.WithPriority(1))
	high := newJob(t, s, "echo", job.WithPriority(10))
	delayed := newJob(t, s, "echo", job.WithPriority(100), job.WithDelay(time.Hour))
	other := newJob(t, s, "other", job.WithPriority(50))

	want := []string{other.ID.String(), high.ID.String(), low.ID.String()}
	for i, w := range want {
		got, err := s.ClaimNextPendingJob(ctx, job.ClaimFilter{Now: t0})
		if err != nil || got == nil {
			t.Fatalf("claim %d: %v, %v", i, got, err)
		}
		if got.ID.String() != w {
			t.Fatalf("claim %d = %s, want %s", i, got.ID, w)
		}
		if got.Status != job.StatusProcessing || got.Attempts != 1 || got.StartedAt == nil {
			t.Fatalf("claimed job not stamped: %+v", got)
		}
	}

	none, err := s.ClaimNextPendingJob(ctx, job.ClaimFilter{Now: t0})
	if err != nil || none != nil {
		t.Fatalf("delayed job claimed early: %v, %v", none, err)
	}

	got, _ := s.ClaimNextPendingJob(ctx, job.ClaimFilter{Now: t0.Add(2 * time.Hour)})
	if got == nil || got.ID.String() != delayed.ID.String() {
		t.Fatalf("delayed job not claimed once due: %+v", got)
	}
}

func TestClaimNextPendingJob_Filters(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	newJob(t, s, "echo")
	audio := newJob(t, s, "transcribe", job.WithQueue("audio"))

	if got, _ := s.ClaimNextPendingJob(ctx, job.ClaimFilter{ToolSlug: "nothing", Now: t0}); got != nil {
		t.Fatalf("tool filter ignored: %+v", got)
	}
	got, _ := s.ClaimNextPendingJob(ctx, job.ClaimFilter{Queue: "audio", Now: t0})
	if got == nil || got.ID.String() != audio.ID.String() {
		t.Fatalf("queue filter: %+v", got)
	}
}

func TestClaimNextPendingJob_OldestFirstOnTies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	older := job.New("echo", nil, job.Options{MaxAttempts: 1}, t0)
	newer := job.New("echo", nil, job.Options{MaxAttempts: 1}, t0.Add(time.Second))
	_ = s.CreateJob(ctx, newer)
	_ = s.CreateJob(ctx, older)

	got, _ := s.ClaimNextPendingJob(ctx, job.ClaimFilter{Now: t0.Add(time.Minute)})
	if got == nil || got.ID.String() != older.ID.String() {
		t.Fatalf("expected the older job first, got %+v", got)
	}
}

func TestClaimNextPendingJob_IDBreaksFullTies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	var ids []string
	for range 8 {
		j := job.New("echo", nil, job.Options{MaxAttempts: 1}, t0)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, j.ID.String())
	}
	sort.Strings(ids)

	for i, want := range ids {
		got, err := s.ClaimNextPendingJob(ctx, job.ClaimFilter{Now: t0})
		if err != nil || got == nil {
			t.Fatalf("claim %d: %v, %v", i, got, err)
		}
		if got.ID.String() != want {
			t.Fatalf("claim %d = %s, want %s", i, got.ID, want)
		}
	}
}

func TestClaim_AtMostOneClaimant(t *testing.T) {
	s := memory.New()
	j := newJob(t, s, "echo")

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			var got *job.Job
			var err error
			if i%2 == 0 {
				got, err = s.ClaimNextPendingJob(context.Background(), job.ClaimFilter{Now: t0})
			} else {
				got, err = s.ClaimJob(context.Background(), j.ID, t0)
			}
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if got != nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("%d claimants won, want exactly 1", wins.Load())
	}
	got, _ := s.GetJob(context.Background(), j.ID)
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
}

func TestClaimJob_NotClaimable(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := newJob(t, s, "echo", job.WithDelay(time.Minute))

	if got, err := s.ClaimJob(ctx, j.ID, t0); got != nil || err != nil {
		t.Fatalf("claimed a job that is not due: %v, %v", got, err)
	}
	if got, err := s.ClaimJob(ctx, id.NewJobID(), t0); got != nil || err != nil {
		t.Fatalf("claim of missing job = %v, %v", got, err)
	}
}

func TestUpdateJobTerminal_FencedOnProcessing(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := newJob(t, s, "echo")

	done := job.Terminal{Status: job.StatusCompleted, Output: json.RawMessage(`1`), CompletedAt: t0}
	if err := s.UpdateJobTerminal(ctx, j.ID, done); !errors.Is(err, toolqueue.ErrInvalidTransition) {
		t.Fatalf("terminal write on PENDING = %v", err)
	}

	_, _ = s.ClaimJob(ctx, j.ID, t0)
	if err := s.UpdateJobTerminal(ctx, j.ID, done); err != nil {
		t.Fatalf("complete: %v", err)
	}

	failed := job.Terminal{Status: job.StatusFailed, Error: "late", FailureKind: job.FailureProcessor, CompletedAt: t0}
	if err := s.UpdateJobTerminal(ctx, j.ID, failed); !errors.Is(err, toolqueue.ErrInvalidTransition) {
		t.Fatalf("second terminal write = %v", err)
	}
	if err := s.RequeueJob(ctx, j.ID, t0); !errors.Is(err, toolqueue.ErrInvalidTransition) {
		t.Fatalf("requeue of COMPLETED = %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusCompleted || string(got.Output) != "1" || got.Error != "" {
		t.Fatalf("terminal job changed: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(t0) {
		t.Fatalf("completedAt = %v", got.CompletedAt)
	}
}

func TestRequeueJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := newJob(t, s, "echo")

	_, _ = s.ClaimJob(ctx, j.ID, t0)
	_ = s.UpdateJobTerminal(ctx, j.ID, job.Terminal{Status: job.StatusFailed, Error: "boom", FailureKind: job.FailureProcessor, CompletedAt: t0})

	runAt := t0.Add(time.Minute)
	if err := s.RequeueJob(ctx, j.ID, runAt); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending || got.Error != "" || got.FailureKind != job.FailureNone || got.CompletedAt != nil {
		t.Fatalf("requeue did not reset the job: %+v", got)
	}
	if !got.RunAt.Equal(runAt) || got.Attempts != 1 {
		t.Fatalf("runAt=%v attempts=%d", got.RunAt, got.Attempts)
	}
	if err := s.RequeueJob(ctx, id.NewJobID(), runAt); !errors.Is(err, toolqueue.ErrJobNotFound) {
		t.Fatalf("requeue missing = %v", err)
	}
}

func TestListStuckJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	a := newJob(t, s, "echo")
	b := newJob(t, s, "echo")
	_, _ = s.ClaimJob(ctx, a.ID, t0)
	_, _ = s.ClaimJob(ctx, b.ID, t0.Add(10*time.Minute))

	stuck, err := s.ListStuckJobs(ctx, t0.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID.String() != a.ID.String() {
		t.Fatalf("stuck = %v", stuck)
	}
	if stuck, _ := s.ListStuckJobs(ctx, t0); len(stuck) != 0 {
		t.Fatalf("startedBefore must be strict, got %d", len(stuck))
	}
}

func TestListRetryableJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	fail := func(j *job.Job, kind job.FailureKind) {
		_, _ = s.ClaimJob(ctx, j.ID, t0)
		_ = s.UpdateJobTerminal(ctx, j.ID, job.Terminal{Status: job.StatusFailed, Error: "x", FailureKind: kind, CompletedAt: t0})
	}

	retryable := newJob(t, s, "echo", job.WithMaxAttempts(3))
	fail(retryable, job.FailureProcessor)
	exhausted := newJob(t, s, "echo", job.WithMaxAttempts(1))
	fail(exhausted, job.FailureProcessor)
	config := newJob(t, s, "ghost", job.WithMaxAttempts(3))
	fail(config, job.FailureConfiguration)
	stuck := newJob(t, s, "echo", job.WithMaxAttempts(3))
	fail(stuck, job.FailureStuck)

	got, err := s.ListRetryableJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != retryable.ID.String() {
		t.Fatalf("retryable = %v", got)
	}
}

func TestDeleteExpiredJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	finish := func(j *job.Job) {
		_, _ = s.ClaimJob(ctx, j.ID, t0)
		_ = s.UpdateJobTerminal(ctx, j.ID, job.Terminal{Status: job.StatusCompleted, CompletedAt: t0})
	}

	expired := newJob(t, s, "echo", job.WithExpiresIn(time.Hour))
	finish(expired)
	fresh := newJob(t, s, "echo", job.WithExpiresIn(48*time.Hour))
	finish(fresh)
	pending := newJob(t, s, "echo", job.WithExpiresIn(time.Hour))

	n, err := s.DeleteExpiredJobs(ctx, t0.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("deleted %d, %v; want 1", n, err)
	}
	if _, err := s.GetJob(ctx, expired.ID); !errors.Is(err, toolqueue.ErrJobNotFound) {
		t.Error("expired terminal job survived")
	}
	if _, err := s.GetJob(ctx, fresh.ID); err != nil {
		t.Error("terminal job with future expiresAt was deleted")
	}
	if _, err := s.GetJob(ctx, pending.ID); err != nil {
		t.Error("non-terminal job was deleted")
	}
}

func TestCancelJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	pending := newJob(t, s, "echo")
	if err := s.CancelJob(ctx, pending.ID, t0); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := s.GetJob(ctx, pending.ID)
	if got.Status != job.StatusCancelled || got.Error != job.CancelledMessage || got.CompletedAt == nil {
		t.Fatalf("cancelled job = %+v", got)
	}
	if err := s.CancelJob(ctx, pending.ID, t0); !errors.Is(err, toolqueue.ErrJobTerminal) {
		t.Fatalf("second cancel = %v", err)
	}
	if c, _ := s.ClaimNextPendingJob(ctx, job.ClaimFilter{Now: t0}); c != nil {
		t.Fatal("cancelled job was claimed")
	}

	running := newJob(t, s, "echo")
	_, _ = s.ClaimJob(ctx, running.ID, t0)
	if err := s.CancelJob(ctx, running.ID, t0); !errors.Is(err, toolqueue.ErrInvalidTransition) {
		t.Fatalf("cancel PROCESSING = %v", err)
	}
}

func TestListAndCountJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	newJob(t, s, "echo", job.WithOwner("alice", ""))
	newJob(t, s, "echo", job.WithOwner("alice", ""))
	newJob(t, s, "summarize", job.WithOwner("", "sess-1"))
	newJob(t, s, "echo", job.WithOwner("bob", ""))

	mine, err := s.ListJobs(ctx, job.ListOpts{UserID: "alice"})
	if err != nil || len(mine) != 2 {
		t.Fatalf("alice's jobs = %d, %v", len(mine), err)
	}
	page, _ := s.ListJobs(ctx, job.ListOpts{UserID: "alice", Limit: 1, Offset: 1})
	if len(page) != 1 {
		t.Fatalf("page = %d", len(page))
	}
	if jobs, _ := s.ListJobs(ctx, job.ListOpts{SessionID: "sess-1"}); len(jobs) != 1 {
		t.Fatalf("session jobs = %d", len(jobs))
	}

	if n, _ := s.CountJobs(ctx, job.CountOpts{ToolSlug: "echo"}); n != 3 {
		t.Fatalf("echo count = %d", n)
	}
	if n, _ := s.CountJobs(ctx, job.CountOpts{Status: job.StatusPending}); n != 4 {
		t.Fatalf("pending count = %d", n)
	}
}

func TestDeleteJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := newJob(t, s, "echo")
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, toolqueue.ErrJobNotFound) {
		t.Fatalf("second delete = %v", err)
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestQueue_FetchLeaseAndComplete(t *testing.T) {
	c := &clock{now: t0}
	s := memory.New(memory.WithClock(c.Now))
	ctx := context.Background()

	low := queue.NewMessage("default", id.NewJobID(), 1, t0, 3)
	high := queue.NewMessage("default", id.NewJobID(), 9, t0, 3)
	later := queue.NewMessage("default", id.NewJobID(), 99, t0.Add(time.Hour), 3)
	for _, m := range []*queue.Message{low, high, later} {
		if err := s.Send(ctx, m); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	got, err := s.Fetch(ctx, "default", 10, time.Minute)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 || got[0].ID.String() != high.ID.String() || got[1].ID.String() != low.ID.String() {
		t.Fatalf("fetch order = %v", got)
	}
	if got[0].Deliveries != 1 || got[0].LeaseUntil == nil {
		t.Fatalf("fetched message not leased: %+v", got[0])
	}

	if again, _ := s.Fetch(ctx, "default", 10, time.Minute); len(again) != 0 {
		t.Fatalf("leased messages fetched twice: %d", len(again))
	}

	st, _ := s.Depth(ctx, "default")
	if st.Leased != 2 || st.Ready != 1 {
		t.Fatalf("depth = %+v", st)
	}

	if err := s.Complete(ctx, high.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Complete(ctx, high.ID); !errors.Is(err, toolqueue.ErrMessageNotFound) {
		t.Fatalf("second complete = %v", err)
	}

	// The lease on low expires and it is redelivered.
	c.Advance(2 * time.Minute)
	redelivered, _ := s.Fetch(ctx, "default", 10, time.Minute)
	if len(redelivered) != 1 || redelivered[0].ID.String() != low.ID.String() || redelivered[0].Deliveries != 2 {
		t.Fatalf("redelivery = %+v", redelivered)
	}
}

func TestQueue_ExtendKeepsLease(t *testing.T) {
	c := &clock{now: t0}
	s := memory.New(memory.WithClock(c.Now))
	ctx := context.Background()

	m := queue.NewMessage("default", id.NewJobID(), 0, t0, 3)
	_ = s.Send(ctx, m)
	_, _ = s.Fetch(ctx, "default", 1, time.Minute)

	c.Advance(50 * time.Second)
	if err := s.Extend(ctx, m.ID, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	c.Advance(50 * time.Second)
	if got, _ := s.Fetch(ctx, "default", 1, time.Minute); len(got) != 0 {
		t.Fatal("extended message was redelivered")
	}
	if err := s.Extend(ctx, id.NewMessageID(), time.Minute); !errors.Is(err, toolqueue.ErrMessageNotFound) {
		t.Fatalf("extend missing = %v", err)
	}
}

func TestQueue_FailAndDeadLetter(t *testing.T) {
	c := &clock{now: t0}
	s := memory.New(memory.WithClock(c.Now))
	ctx := context.Background()

	m := queue.NewMessage("default", id.NewJobID(), 0, t0, 2)
	_ = s.Send(ctx, m)

	for i := 1; i <= 2; i++ {
		got, _ := s.Fetch(ctx, "default", 1, time.Minute)
		if len(got) != 1 {
			t.Fatalf("delivery %d missing", i)
		}
		if err := s.Fail(ctx, m.ID, "store unreachable", c.Now().Add(time.Second)); err != nil {
			t.Fatalf("fail: %v", err)
		}
		if got, _ := s.Fetch(ctx, "default", 1, time.Minute); len(got) != 0 {
			t.Fatal("failed message visible before retryAt")
		}
		c.Advance(2 * time.Second)
	}

	if got, _ := s.Fetch(ctx, "default", 1, time.Minute); len(got) != 0 {
		t.Fatalf("exhausted message delivered again: %+v", got)
	}
	st, _ := s.Depth(ctx, "default")
	if st.Dead != 1 || st.Ready != 0 {
		t.Fatalf("depth = %+v", st)
	}
	dead := s.DeadLetters("default")
	if len(dead) != 1 || dead[0].LastError != "store unreachable" {
		t.Fatalf("dead letters = %+v", dead)
	}
}

func TestLocker(t *testing.T) {
	c := &clock{now: t0}
	s := memory.New(memory.WithClock(c.Now))
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "sweep", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("a lock = %v, %v", ok, err)
	}
	if ok, _ := s.TryLock(ctx, "sweep", "b", time.Minute); ok {
		t.Fatal("b took a held lock")
	}
	if ok, _ := s.TryLock(ctx, "sweep", "a", time.Minute); !ok {
		t.Fatal("holder could not renew")
	}
	if err := s.Unlock(ctx, "sweep", "b"); !errors.Is(err, toolqueue.ErrLockNotHeld) {
		t.Fatalf("foreign unlock = %v", err)
	}

	c.Advance(2 * time.Minute)
	if ok, _ := s.TryLock(ctx, "sweep", "b", time.Minute); !ok {
		t.Fatal("expired lock not taken over")
	}
	if err := s.Unlock(ctx, "sweep", "b"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
