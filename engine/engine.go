package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/backoff"
	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
	mw "github.com/aagnone3/toolqueue/middleware"
	"github.com/aagnone3/toolqueue/observability"
	"github.com/aagnone3/toolqueue/processor"
	"github.com/aagnone3/toolqueue/queue"
	"github.com/aagnone3/toolqueue/runner"
	"github.com/aagnone3/toolqueue/store"
	"github.com/aagnone3/toolqueue/stream"
	"github.com/aagnone3/toolqueue/sweep"
)

const instrumentationName = "github.com/aagnone3/toolqueue"

// Engine owns every subsystem built around one store.
type Engine struct {
	cfg        toolqueue.Config
	store      store.Store
	registry   *processor.Registry
	extensions *ext.Registry
	logger     *slog.Logger

	queueEngine queue.Engine
	locker      sweep.Locker
	notifier    stream.Notifier

	runner    *runner.Runner
	manager   *queue.Manager
	pool      *queue.Pool
	submitter *queue.Submitter
	broker    *stream.Broker
	streamer  *stream.Streamer
	sweeper   *sweep.Sweeper
	scheduler *sweep.Scheduler
	metrics   *observability.MetricsExtension

	mws       []mw.Middleware
	userExts  []ext.Extension
	bo        backoff.Strategy
	workers   bool
	scheduled bool

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu       sync.Mutex
	started  bool
	depthReg metric.Registration
}

// Build wires a runner, queue pool, submitter, stream broker, streamer,
// sweeper and sweep scheduler around s. Processors are resolved from reg.
func Build(s store.Store, reg *processor.Registry, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, toolqueue.ErrNoStore
	}
	if reg == nil {
		reg = processor.NewRegistry()
	}

	eng := &Engine{
		cfg:       toolqueue.DefaultConfig(),
		store:     s,
		registry:  reg,
		logger:    slog.Default(),
		workers:   true,
		scheduled: true,
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.resolveCapabilities()
	eng.extensions = ext.NewRegistry(eng.logger)

	meterProvider := eng.meterProvider
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	tracerProvider := eng.tracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}

	// Hooks fire in registration order: delivery first, then observers.
	eng.submitter = queue.NewSubmitter(s, eng.queueEngine, eng.cfg,
		queue.WithSubmitterLogger(eng.logger),
		queue.WithSubmitterExtensions(eng.extensions),
	)
	eng.extensions.Register(eng.submitter)

	eng.broker = stream.NewBroker(eng.logger)
	eng.extensions.Register(eng.broker)
	if eng.notifier == nil {
		eng.notifier = eng.broker
	}
	// A store-backed notifier that publishes from lifecycle hooks (Redis
	// pub/sub) must see every transition made in this process.
	if e, ok := eng.notifier.(ext.Extension); ok && eng.notifier != stream.Notifier(eng.broker) {
		eng.extensions.Register(e)
	}

	eng.metrics = observability.NewMetricsExtensionWithMeter(meterProvider.Meter(instrumentationName + "/observability"))
	eng.extensions.Register(eng.metrics)

	for _, e := range eng.userExts {
		eng.extensions.Register(e)
	}

	// Outer chain: tracing → metrics → logging → caller middleware. The
	// runner adds timeout → recover → scope inside it.
	chain := []mw.Middleware{
		mw.TracingWithTracer(tracerProvider.Tracer(instrumentationName)),
		mw.MetricsWithMeter(meterProvider.Meter(instrumentationName)),
		mw.Logging(eng.logger),
	}
	chain = append(chain, eng.mws...)

	runnerOpts := []runner.Option{
		runner.WithLogger(eng.logger),
		runner.WithExtensions(eng.extensions),
		runner.WithMiddleware(chain...),
		runner.WithDefaultTimeout(eng.cfg.ProcessorTimeout),
		runner.WithRetryBatch(eng.cfg.RetryBatchLimit),
	}
	if eng.bo != nil {
		runnerOpts = append(runnerOpts, runner.WithBackoff(eng.bo))
	}
	eng.runner = runner.New(s, reg, runnerOpts...)

	eng.manager = queue.NewManager(eng.cfg.Queues...)
	if eng.queueEngine != nil && eng.workers {
		eng.pool = queue.NewPool(eng.queueEngine, eng.runner, eng.manager, queue.WithPoolLogger(eng.logger))
	}

	eng.streamer = stream.NewStreamer(s,
		stream.WithNotifier(eng.notifier),
		stream.WithWait(eng.cfg.StreamWait),
		stream.WithPollInterval(eng.cfg.StreamPollInterval),
		stream.WithLogger(eng.logger),
	)

	eng.sweeper = sweep.New(eng.runner,
		sweep.WithLogger(eng.logger),
		sweep.WithExtensions(eng.extensions),
		sweep.WithStuckThreshold(eng.cfg.StuckThreshold),
		sweep.WithBatchLimit(eng.cfg.SweepBatchLimit),
	)

	if eng.locker != nil && eng.scheduled && eng.cfg.SweepSchedule != "" {
		owner := id.NewWorkerID().String()
		if eng.pool != nil {
			owner = eng.pool.WorkerID().String()
		}
		sched, err := sweep.NewScheduler(eng.sweeper, eng.locker, eng.cfg.SweepSchedule,
			sweep.WithOwner(owner),
			sweep.WithSchedulerLogger(eng.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("toolqueue/engine: %w", err)
		}
		eng.scheduler = sched
	}

	return eng, nil
}

// resolveCapabilities fills unset collaborators from whatever the store
// and queue engine implement.
func (eng *Engine) resolveCapabilities() {
	if eng.queueEngine == nil {
		if qe, ok := eng.store.(queue.Engine); ok {
			eng.queueEngine = qe
		}
	}
	candidates := []any{eng.store, eng.queueEngine}
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if l, ok := c.(sweep.Locker); ok && eng.locker == nil {
			eng.locker = l
		}
		if n, ok := c.(stream.Notifier); ok && eng.notifier == nil {
			eng.notifier = n
		}
	}
}

// Start launches the worker pool and the sweep scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.started {
		return nil
	}

	if eng.pool != nil {
		if err := eng.pool.Start(ctx); err != nil {
			return fmt.Errorf("toolqueue/engine: start pool: %w", err)
		}
	}
	if eng.scheduler != nil {
		if err := eng.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("toolqueue/engine: start scheduler: %w", err)
		}
	}

	if eng.queueEngine != nil {
		meterProvider := eng.meterProvider
		if meterProvider == nil {
			meterProvider = otel.GetMeterProvider()
		}
		reg, err := observability.RegisterQueueDepth(
			meterProvider.Meter(instrumentationName+"/observability"),
			eng.queueEngine, eng.queueNames())
		if err != nil {
			eng.logger.Warn("queue depth metrics unavailable", slog.String("error", err.Error()))
		} else {
			eng.depthReg = reg
		}
	}

	eng.started = true
	eng.logger.Info("toolqueue engine started",
		slog.Int("queues", len(eng.cfg.Queues)),
		slog.Bool("workers", eng.pool != nil),
		slog.Bool("scheduler", eng.scheduler != nil),
	)
	return nil
}

// Stop drains the pool and stops the scheduler concurrently, then
// notifies Shutdown extensions.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if !eng.started {
		return nil
	}
	eng.started = false

	var g errgroup.Group
	if eng.pool != nil {
		g.Go(func() error { return eng.pool.Stop(ctx) })
	}
	if eng.scheduler != nil {
		g.Go(func() error { return eng.scheduler.Stop(ctx) })
	}
	err := g.Wait()

	if eng.depthReg != nil {
		if unregErr := eng.depthReg.Unregister(); unregErr != nil {
			eng.logger.Warn("unregister queue depth metrics", slog.String("error", unregErr.Error()))
		}
		eng.depthReg = nil
	}

	eng.extensions.EmitShutdown(ctx)
	if err != nil {
		return fmt.Errorf("toolqueue/engine: stop: %w", err)
	}
	return nil
}

// SubmitJob persists a job for toolSlug with default options and queues it.
func (eng *Engine) SubmitJob(ctx context.Context, toolSlug string, input json.RawMessage) (*job.Job, error) {
	return eng.submitter.SubmitJob(ctx, toolSlug, input)
}

// SubmitJobWithOptions persists a job with per-submission overrides and
// queues it.
func (eng *Engine) SubmitJobWithOptions(ctx context.Context, toolSlug string, input json.RawMessage, opts ...job.Option) (*job.Job, error) {
	return eng.submitter.SubmitJobWithOptions(ctx, toolSlug, input, opts...)
}

// Submit encodes input as JSON and submits it.
func Submit[T any](ctx context.Context, eng *Engine, toolSlug string, input T, opts ...job.Option) (*job.Job, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/engine: marshal input for %q: %w", toolSlug, err)
	}
	return eng.SubmitJobWithOptions(ctx, toolSlug, raw, opts...)
}

// GetJob returns a job by ID.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// CancelJob moves a PENDING job to CANCELLED and returns its new state.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	if err := eng.store.CancelJob(ctx, jobID, time.Now().UTC()); err != nil {
		return nil, err
	}
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitJobCancelled(ctx, j)
	return j, nil
}

// DeleteJob removes a job record.
func (eng *Engine) DeleteJob(ctx context.Context, jobID id.JobID) error {
	if err := eng.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	eng.extensions.EmitJobDeleted(ctx, jobID)
	return nil
}

// ListJobs lists jobs matching opts, newest first.
func (eng *Engine) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.store.ListJobs(ctx, opts)
}

// CountJobs counts jobs matching opts.
func (eng *Engine) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	return eng.store.CountJobs(ctx, opts)
}

// Stream opens a status event sequence for jobID.
func (eng *Engine) Stream(ctx context.Context, jobID id.JobID) (*stream.Sequence, error) {
	return eng.streamer.Stream(ctx, jobID)
}

// Sweep runs one sweep: stuck → retry → bounded pending → cleanup.
func (eng *Engine) Sweep(ctx context.Context) sweep.Report {
	return eng.sweeper.Run(ctx)
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Queues []queue.Stats        `json:"queues"`
	Jobs   map[job.Status]int64 `json:"jobs"`
	Stream stream.BrokerStats   `json:"stream"`
	Active map[string]int       `json:"active"`
}

var allStatuses = []job.Status{
	job.StatusPending,
	job.StatusProcessing,
	job.StatusCompleted,
	job.StatusFailed,
	job.StatusCancelled,
}

// Stats gathers queue depths and job counts concurrently.
func (eng *Engine) Stats(ctx context.Context) (*Stats, error) {
	names := eng.queueNames()
	st := &Stats{
		Queues: make([]queue.Stats, len(names)),
		Jobs:   make(map[job.Status]int64, len(allStatuses)),
		Stream: eng.broker.Stats(),
		Active: make(map[string]int, len(names)),
	}
	counts := make([]int64, len(allStatuses))

	g, gctx := errgroup.WithContext(ctx)
	if eng.queueEngine != nil {
		for i, name := range names {
			g.Go(func() error {
				depth, err := eng.queueEngine.Depth(gctx, name)
				if err != nil {
					return fmt.Errorf("depth of %q: %w", name, err)
				}
				st.Queues[i] = depth
				return nil
			})
		}
	}
	for i, status := range allStatuses {
		g.Go(func() error {
			n, err := eng.store.CountJobs(gctx, job.CountOpts{Status: status})
			if err != nil {
				return fmt.Errorf("count %s: %w", status, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("toolqueue/engine: stats: %w", err)
	}

	for i, status := range allStatuses {
		st.Jobs[status] = counts[i]
	}
	if eng.queueEngine == nil {
		st.Queues = nil
	}
	for _, name := range names {
		st.Active[name] = eng.manager.ActiveCount(name)
	}
	return st, nil
}

// Ping checks that the store is reachable.
func (eng *Engine) Ping(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return err
	}
	if p, ok := eng.queueEngine.(interface{ Ping(context.Context) error }); ok && any(eng.queueEngine) != any(eng.store) {
		return p.Ping(ctx)
	}
	return nil
}

func (eng *Engine) queueNames() []string {
	cfgs := eng.manager.Queues()
	names := make([]string, len(cfgs))
	for i, c := range cfgs {
		names[i] = c.Name
	}
	return names
}

// Config returns the pipeline configuration.
func (eng *Engine) Config() toolqueue.Config { return eng.cfg }

// Store returns the job store.
func (eng *Engine) Store() store.Store { return eng.store }

// Registry returns the processor registry.
func (eng *Engine) Registry() *processor.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Runner returns the job runner.
func (eng *Engine) Runner() *runner.Runner { return eng.runner }

// QueueEngine returns the delivery engine, or nil when jobs are only
// delivered by the sweep.
func (eng *Engine) QueueEngine() queue.Engine { return eng.queueEngine }

// QueueManager returns the per-queue concurrency and rate manager.
func (eng *Engine) QueueManager() *queue.Manager { return eng.manager }

// Pool returns the worker pool, or nil when workers are disabled.
func (eng *Engine) Pool() *queue.Pool { return eng.pool }

// Submitter returns the job submitter.
func (eng *Engine) Submitter() *queue.Submitter { return eng.submitter }

// Broker returns the in-process stream broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Streamer returns the status streamer.
func (eng *Engine) Streamer() *stream.Streamer { return eng.streamer }

// Sweeper returns the sweeper.
func (eng *Engine) Sweeper() *sweep.Sweeper { return eng.sweeper }

// Scheduler returns the sweep scheduler, or nil when no lock is available
// or scheduling is disabled.
func (eng *Engine) Scheduler() *sweep.Scheduler { return eng.scheduler }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// IsNotFound reports whether err means the job does not exist.
func IsNotFound(err error) bool { return errors.Is(err, toolqueue.ErrJobNotFound) }
