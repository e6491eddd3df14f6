package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/backoff"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/runner"
)

// Pool runs one poll loop per configured queue. Each loop fetches up to
// BatchSize messages, hands them to the runner and keeps their leases alive
// while the processor runs.
type Pool struct {
	engine     Engine
	runner     *runner.Runner
	manager    *Manager
	redelivery backoff.Strategy
	workerID   id.WorkerID
	logger     *slog.Logger
	now        func() time.Time

	stopCh     chan struct{}
	group      *errgroup.Group
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithRedelivery sets the delay before a message whose job could not be
// loaded or recorded is visible again.
func WithRedelivery(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.redelivery = s }
}

// WithPoolClock overrides the time source.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool serving every queue known to manager.
func NewPool(engine Engine, r *runner.Runner, manager *Manager, opts ...PoolOption) *Pool {
	p := &Pool{
		engine:     engine,
		runner:     r,
		manager:    manager,
		redelivery: backoff.Redelivery(),
		workerID:   id.NewWorkerID(),
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		activeJobs: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the poll loops. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.group = new(errgroup.Group)

	queues := p.manager.Queues()
	names := make([]string, len(queues))
	for i, cfg := range queues {
		names[i] = cfg.Name
		cfg := withDefaults(cfg)
		p.group.Go(func() error {
			p.pollLoop(cfg)
			return nil
		})
	}

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Any("queues", names),
	)
	return nil
}

// Stop signals the poll loops to stop and waits for in-flight jobs. When
// ctx ends first, in-flight processors are cancelled; their outcomes are
// still recorded.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	group := p.group
	close(p.stopCh)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}
	return nil
}

func (p *Pool) pollLoop(cfg toolqueue.QueueConfig) {
	inflight := new(errgroup.Group)
	inflight.SetLimit(cfg.Concurrency)
	defer func() { _ = inflight.Wait() }()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.poll(cfg, inflight) == 0 {
			p.sleep(cfg.PollingInterval)
		}
	}
}

// poll fetches one batch and dispatches it. It returns the number of
// messages fetched.
func (p *Pool) poll(cfg toolqueue.QueueConfig, inflight *errgroup.Group) int {
	granted := p.manager.Reserve(cfg.Name, cfg.BatchSize)
	if granted == 0 {
		return 0
	}

	msgs, err := p.engine.Fetch(context.Background(), cfg.Name, granted, cfg.Lease)
	if err != nil {
		p.manager.Release(cfg.Name, granted)
		p.logger.Error("queue fetch error",
			slog.String("queue", cfg.Name),
			slog.String("error", err.Error()),
		)
		return 0
	}
	p.manager.Release(cfg.Name, granted-len(msgs))

	for _, m := range msgs {
		inflight.Go(func() error {
			defer p.manager.Release(cfg.Name, 1)
			p.handle(m, cfg.Lease)
			return nil
		})
	}
	return len(msgs)
}

func (p *Pool) handle(m *Message, lease time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.trackJob(m.ID.String(), cancel)
	defer p.untrackJob(m.ID.String())

	stopHeartbeat := p.heartbeat(ctx, m, lease)
	out, err := p.runner.ProcessJob(ctx, m.JobID)
	stopHeartbeat()

	bg := context.WithoutCancel(ctx)
	if err != nil {
		retryAt := p.now().Add(p.redelivery.Delay(m.Deliveries))
		if failErr := p.engine.Fail(bg, m.ID, err.Error(), retryAt); failErr != nil {
			p.logger.Error("queue fail error",
				slog.String("message_id", m.ID.String()),
				slog.String("error", failErr.Error()),
			)
		}
		p.logger.Warn("job delivery failed",
			slog.String("job_id", m.JobID.String()),
			slog.Int("delivery", m.Deliveries),
			slog.String("error", err.Error()),
		)
		return
	}

	// Arrived before the job is due: deliver again at its RunAt.
	if !out.Found && out.Status == job.StatusPending && out.RunAt.After(p.now()) {
		next := NewMessage(m.Queue, m.JobID, m.Priority, out.RunAt, m.MaxDeliveries)
		if sendErr := p.engine.Send(bg, next); sendErr != nil {
			_ = p.engine.Fail(bg, m.ID, sendErr.Error(), out.RunAt)
			return
		}
	}

	if err := p.engine.Complete(bg, m.ID); err != nil && !errors.Is(err, toolqueue.ErrMessageNotFound) {
		p.logger.Error("queue complete error",
			slog.String("message_id", m.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeat extends the lease of m at half its length until stopped.
func (p *Pool) heartbeat(ctx context.Context, m *Message, lease time.Duration) func() {
	if lease <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(lease / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.engine.Extend(ctx, m.ID, lease); err != nil && ctx.Err() == nil {
					p.logger.Warn("lease extend failed",
						slog.String("message_id", m.ID.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Pool) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(key string) {
	p.activeMu.Lock()
	delete(p.activeJobs, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("message_id", key))
		cancel()
	}
}

func withDefaults(cfg toolqueue.QueueConfig) toolqueue.QueueConfig {
	def := toolqueue.DefaultQueueConfig(cfg.Name)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = def.PollingInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	return cfg
}
