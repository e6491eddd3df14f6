package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/backoff"
	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/processor"
	"github.com/aagnone3/toolqueue/runner"
	"github.com/aagnone3/toolqueue/store/memory"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	store    *memory.Store
	registry *processor.Registry
	clock    *clock
	runner   *runner.Runner
}

func setup(t *testing.T, opts ...runner.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		registry: processor.NewRegistry(),
		clock:    &clock{now: t0},
	}
	opts = append([]runner.Option{runner.WithClock(f.clock.Now)}, opts...)
	f.runner = runner.New(f.store, f.registry, opts...)
	return f
}

func (f *fixture) submit(t *testing.T, slug string, input string, opts ...job.Option) *job.Job {
	t.Helper()
	o := job.DefaultOptions(toolqueue.DefaultConfig()).Apply(opts...)
	var raw json.RawMessage
	if input != "" {
		raw = json.RawMessage(input)
	}
	j := job.New(slug, raw, o, f.clock.Now())
	if err := f.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}
	return j
}

func (f *fixture) get(t *testing.T, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := f.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get %s: %v", jobID, err)
	}
	return j
}

func alwaysFail(context.Context, json.RawMessage) processor.Result {
	return processor.Failf("model unavailable")
}

func TestScenario_EchoCompletes(t *testing.T) {
	f := setup(t)
	f.registry.MustRegister("echo", func(_ context.Context, in json.RawMessage) processor.Result {
		return processor.Succeed(in)
	})
	j := f.submit(t, "echo", `{"x":1}`)

	out, err := f.runner.ProcessNextJob(context.Background(), "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !out.Found || out.JobID.String() != j.ID.String() || out.Status != job.StatusCompleted {
		t.Fatalf("outcome = %+v", out)
	}

	got := f.get(t, j.ID)
	if got.Status != job.StatusCompleted || string(got.Output) != `{"x":1}` {
		t.Fatalf("job = %+v", got)
	}
	if got.CompletedAt == nil || got.Attempts != 1 || got.Error != "" {
		t.Fatalf("completion fields: %+v", got)
	}
}

func TestScenario_UnknownToolFailsWithoutRetry(t *testing.T) {
	f := setup(t)
	j := f.submit(t, "ghost", `{}`)

	out, err := f.runner.ProcessNextJob(context.Background(), "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != job.StatusFailed {
		t.Fatalf("status = %s, want FAILED", out.Status)
	}

	got := f.get(t, j.ID)
	if !strings.HasPrefix(got.Error, job.NoProcessorPrefix) {
		t.Errorf("error = %q, want a no processor message", got.Error)
	}
	if got.FailureKind != job.FailureConfiguration || got.Attempts != 1 {
		t.Errorf("kind=%q attempts=%d", got.FailureKind, got.Attempts)
	}

	n, err := f.runner.RetryFailedJobs(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("retry sweep requeued %d (%v), want 0", n, err)
	}
	if again := f.get(t, j.ID); again.Status != job.StatusFailed || again.Attempts != 1 {
		t.Fatalf("configuration failure was retried: %+v", again)
	}
}

func TestScenario_ThrowingProcessorExhaustsAttempts(t *testing.T) {
	f := setup(t)
	f.registry.MustRegister("explode", func(context.Context, json.RawMessage) processor.Result {
		panic("segfault in model runtime")
	})
	j := f.submit(t, "explode", "", job.WithMaxAttempts(2))
	ctx := context.Background()

	out, err := f.runner.ProcessNextJob(ctx, "")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if out.Status != job.StatusPending || out.Attempts != 1 {
		t.Fatalf("after first attempt: %+v", out)
	}
	if got := f.get(t, j.ID); got.Status != job.StatusPending || got.Attempts != 1 {
		t.Fatalf("stored after first attempt: %+v", got)
	}

	out, err = f.runner.ProcessNextJob(ctx, "")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	got := f.get(t, j.ID)
	if out.Status != job.StatusFailed || got.Status != job.StatusFailed || got.Attempts != 2 {
		t.Fatalf("after second attempt: outcome=%+v job=%+v", out, got)
	}
	if !strings.Contains(got.Error, "segfault in model runtime") || got.FailureKind != job.FailureProcessor {
		t.Errorf("error = %q kind=%q", got.Error, got.FailureKind)
	}
}

func TestScenario_StuckRecoveryThreshold(t *testing.T) {
	f := setup(t)
	j := f.submit(t, "echo", "")
	ctx := context.Background()

	claimed, err := f.store.ClaimNextPendingJob(ctx, job.ClaimFilter{Now: t0})
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v, %v", claimed, err)
	}

	f.clock.Set(t0.Add(29 * time.Minute))
	n, err := f.runner.HandleStuckJobs(ctx, 30*time.Minute)
	if err != nil || n != 0 {
		t.Fatalf("at T+29m: %d, %v", n, err)
	}
	if got := f.get(t, j.ID); got.Status != job.StatusProcessing {
		t.Fatalf("job touched before threshold: %s", got.Status)
	}

	f.clock.Set(t0.Add(31 * time.Minute))
	n, err = f.runner.HandleStuckJobs(ctx, 30*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("at T+31m: %d, %v", n, err)
	}
	got := f.get(t, j.ID)
	if got.Status != job.StatusFailed || got.FailureKind != job.FailureStuck {
		t.Fatalf("stuck job = %+v", got)
	}
	if !strings.HasPrefix(got.Error, job.StuckPrefix) {
		t.Errorf("error = %q, want stuck prefix", got.Error)
	}

	if n, _ := f.runner.RetryFailedJobs(ctx); n != 0 {
		t.Errorf("stuck job was retried")
	}
}

func TestScenario_ConcurrentWorkersSingleJob(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	f.registry.MustRegister("wait", func(context.Context, json.RawMessage) processor.Result {
		<-release
		return processor.Succeed(nil)
	})
	f.submit(t, "wait", "")

	var wg sync.WaitGroup
	outcomes := make([]runner.Outcome, 2)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.runner.ProcessNextJob(context.Background(), "")
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
			}
			outcomes[i] = out
		}()
	}

	// Let both workers reach the store before releasing the processor.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	found := 0
	for _, o := range outcomes {
		if o.Found {
			found++
		}
	}
	if found != 1 {
		t.Fatalf("%d workers processed the job, want 1: %+v", found, outcomes)
	}
}

func TestRetryBound(t *testing.T) {
	f := setup(t)
	f.registry.MustRegister("fail", alwaysFail)
	j := f.submit(t, "fail", "", job.WithMaxAttempts(3))
	ctx := context.Background()

	batch, err := f.runner.ProcessAllPendingJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.Processed != 3 {
		t.Errorf("processed = %d, want 3 claims", batch.Processed)
	}
	if len(batch.JobIDs) != 1 || batch.JobIDs[0].String() != j.ID.String() {
		t.Errorf("jobIDs = %v", batch.JobIDs)
	}

	got := f.get(t, j.ID)
	if got.Status != job.StatusFailed || got.Attempts != 3 || got.Error != "model unavailable" {
		t.Fatalf("job = %+v", got)
	}

	out, _ := f.runner.ProcessNextJob(ctx, "")
	if out.Found {
		t.Fatal("exhausted job claimed again")
	}
	if n, _ := f.runner.RetryFailedJobs(ctx); n != 0 {
		t.Fatal("exhausted job requeued by retry sweep")
	}
}

func TestTerminalImmutability(t *testing.T) {
	f := setup(t)
	f.registry.MustRegister("echo", func(_ context.Context, in json.RawMessage) processor.Result {
		return processor.Succeed(in)
	})
	ctx := context.Background()

	done := f.submit(t, "echo", `"hi"`)
	if _, err := f.runner.ProcessJob(ctx, done.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	cancelled := f.submit(t, "echo", `"bye"`)
	if err := f.store.CancelJob(ctx, cancelled.ID, t0); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	before := map[string]*job.Job{
		done.ID.String():      f.get(t, done.ID),
		cancelled.ID.String(): f.get(t, cancelled.ID),
	}

	f.clock.Set(t0.Add(24 * time.Hour))
	for _, jid := range []id.JobID{done.ID, cancelled.ID} {
		out, err := f.runner.ProcessJob(ctx, jid)
		if err != nil || out.Found {
			t.Fatalf("terminal job processed: %+v, %v", out, err)
		}
		if !out.Status.IsTerminal() {
			t.Fatalf("outcome status = %s", out.Status)
		}
	}
	if out, _ := f.runner.ProcessNextJob(ctx, ""); out.Found {
		t.Fatal("terminal job claimed")
	}
	_, _ = f.runner.HandleStuckJobs(ctx, time.Minute)
	_, _ = f.runner.RetryFailedJobs(ctx)

	for key, b := range before {
		a := f.get(t, b.ID)
		if a.Status != b.Status || string(a.Output) != string(b.Output) || a.Error != b.Error {
			t.Errorf("job %s changed: before=%+v after=%+v", key, b, a)
		}
	}
}

func TestLostRace_StoredOutcomeWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	var target id.JobID

	f.registry.MustRegister("slow", func(context.Context, json.RawMessage) processor.Result {
		// The stuck sweep fails the job while the processor is still running.
		err := f.store.UpdateJobTerminal(ctx, target, job.Terminal{
			Status:      job.StatusFailed,
			Error:       job.StuckPrefix + " test",
			FailureKind: job.FailureStuck,
			CompletedAt: t0,
		})
		if err != nil {
			t.Errorf("simulated sweep: %v", err)
		}
		return processor.Succeed(json.RawMessage(`"late"`))
	})
	j := f.submit(t, "slow", "")
	target = j.ID

	out, err := f.runner.ProcessNextJob(ctx, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Status != job.StatusFailed {
		t.Errorf("outcome status = %s, want the stored FAILED", out.Status)
	}
	got := f.get(t, j.ID)
	if got.Status != job.StatusFailed || got.FailureKind != job.FailureStuck || len(got.Output) != 0 {
		t.Fatalf("late result overwrote a terminal job: %+v", got)
	}
}

func TestRetryFailedJobs_RequeuesProcessorFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	j := f.submit(t, "echo", "", job.WithMaxAttempts(3))

	// A failed attempt recorded outside the runner, e.g. by an older deployment.
	_, _ = f.store.ClaimJob(ctx, j.ID, t0)
	_ = f.store.UpdateJobTerminal(ctx, j.ID, job.Terminal{
		Status: job.StatusFailed, Error: "boom", FailureKind: job.FailureProcessor, CompletedAt: t0,
	})

	n, err := f.runner.RetryFailedJobs(ctx)
	if err != nil || n != 1 {
		t.Fatalf("retried %d, %v", n, err)
	}
	got := f.get(t, j.ID)
	if got.Status != job.StatusPending || got.Attempts != 1 || got.Error != "" {
		t.Fatalf("requeued job = %+v", got)
	}
}

func TestRunCleanup_RespectsExpiry(t *testing.T) {
	f := setup(t)
	f.registry.MustRegister("echo", func(_ context.Context, in json.RawMessage) processor.Result {
		return processor.Succeed(in)
	})
	ctx := context.Background()

	short := f.submit(t, "echo", "", job.WithExpiresIn(time.Hour))
	long := f.submit(t, "echo", "", job.WithExpiresIn(72*time.Hour))
	_, _ = f.runner.ProcessAllPendingJobs(ctx, "", 10)

	f.clock.Set(t0.Add(2 * time.Hour))
	n, err := f.runner.RunCleanup(ctx)
	if err != nil || n != 1 {
		t.Fatalf("cleaned %d, %v; want 1", n, err)
	}
	if _, err := f.store.GetJob(ctx, short.ID); !errors.Is(err, toolqueue.ErrJobNotFound) {
		t.Error("expired job survived cleanup")
	}
	f.get(t, long.ID)
}

func TestProcessAllPendingJobs_LimitAndFilter(t *testing.T) {
	f := setup(t)
	f.registry.MustRegister("echo", func(_ context.Context, in json.RawMessage) processor.Result {
		return processor.Succeed(in)
	})
	ctx := context.Background()
	for range 4 {
		f.submit(t, "echo", "")
	}
	other := f.submit(t, "other", "")

	if batch, _ := f.runner.ProcessAllPendingJobs(ctx, "echo", 0); batch.Processed != 0 {
		t.Fatalf("limit 0 processed %d", batch.Processed)
	}
	batch, err := f.runner.ProcessAllPendingJobs(ctx, "echo", 3)
	if err != nil || batch.Processed != 3 || len(batch.JobIDs) != 3 {
		t.Fatalf("batch = %+v, %v", batch, err)
	}
	batch, _ = f.runner.ProcessAllPendingJobs(ctx, "echo", 10)
	if batch.Processed != 1 {
		t.Fatalf("second batch processed %d, want 1", batch.Processed)
	}
	if got := f.get(t, other.ID); got.Status != job.StatusPending {
		t.Fatalf("tool filter ignored: %s", got.Status)
	}
}

func TestBackoffDelaysRetry(t *testing.T) {
	f := setup(t, runner.WithBackoff(backoff.NewConstant(time.Minute)))
	f.registry.MustRegister("fail", alwaysFail)
	j := f.submit(t, "fail", "", job.WithMaxAttempts(2))
	ctx := context.Background()

	out, _ := f.runner.ProcessNextJob(ctx, "")
	if !out.RunAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("runAt = %v, want T+1m", out.RunAt)
	}
	if again, _ := f.runner.ProcessNextJob(ctx, ""); again.Found {
		t.Fatal("job claimed before its backoff elapsed")
	}

	f.clock.Set(t0.Add(time.Minute))
	if again, _ := f.runner.ProcessNextJob(ctx, ""); !again.Found {
		t.Fatal("job not claimed after backoff")
	}
	if got := f.get(t, j.ID); got.Status != job.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestDefaultTimeout(t *testing.T) {
	f := setup(t, runner.WithDefaultTimeout(20*time.Millisecond))
	f.registry.MustRegister("hang", func(ctx context.Context, _ json.RawMessage) processor.Result {
		<-ctx.Done()
		return processor.Fail(ctx.Err())
	})
	j := f.submit(t, "hang", "", job.WithMaxAttempts(1))

	if _, err := f.runner.ProcessNextJob(context.Background(), ""); err != nil {
		t.Fatalf("process: %v", err)
	}
	got := f.get(t, j.ID)
	if got.Status != job.StatusFailed || !strings.Contains(got.Error, "timed out") {
		t.Fatalf("job = %+v", got)
	}
}

func TestTimeout_NeverOverlapsInvocations(t *testing.T) {
	f := setup(t, runner.WithDefaultTimeout(20*time.Millisecond))

	var (
		mu      sync.Mutex
		running int
		peak    int
		calls   int
	)
	f.registry.MustRegister("stubborn", func(context.Context, json.RawMessage) processor.Result {
		mu.Lock()
		running++
		calls++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(80 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return processor.Succeed(nil)
	})
	j := f.submit(t, "stubborn", "", job.WithMaxAttempts(3))

	var wg sync.WaitGroup
	deadline := time.Now().Add(5 * time.Second)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				if _, err := f.runner.ProcessNextJob(context.Background(), ""); err != nil {
					t.Errorf("process: %v", err)
					return
				}
				cur, err := f.store.GetJob(context.Background(), j.ID)
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				if cur.Status.IsTerminal() {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	got := f.get(t, j.ID)
	if got.Status != job.StatusFailed || !strings.Contains(got.Error, "timed out") {
		t.Fatalf("job = %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if peak != 1 {
		t.Errorf("peak concurrent invocations = %d, want 1", peak)
	}
	if calls != 3 {
		t.Errorf("invocations = %d, want 3", calls)
	}
}

func TestProcessJob_Missing(t *testing.T) {
	f := setup(t)
	out, err := f.runner.ProcessJob(context.Background(), id.NewJobID())
	if err != nil || out.Found || out.Status != "" {
		t.Fatalf("outcome = %+v, %v", out, err)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) OnJobClaimed(context.Context, *job.Job) error { r.add("claimed"); return nil }

func (r *recorder) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	r.add("completed")
	return nil
}

func (r *recorder) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	r.add("failed:" + string(j.FailureKind))
	return nil
}

func (r *recorder) OnJobRetrying(_ context.Context, _ *job.Job, attempt int, _ time.Time) error {
	r.add("retrying")
	return nil
}

func TestExtensionsObserveLifecycle(t *testing.T) {
	rec := &recorder{}
	exts := ext.NewRegistry(slog.Default())
	exts.Register(rec)

	f := setup(t, runner.WithExtensions(exts))
	f.registry.MustRegister("fail", alwaysFail)
	f.submit(t, "fail", "", job.WithMaxAttempts(2))

	_, _ = f.runner.ProcessAllPendingJobs(context.Background(), "", 5)

	want := "claimed,retrying,claimed,failed:processor"
	if got := strings.Join(rec.events, ","); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
}
