// Package engine wires the toolqueue subsystems around one store and
// provides the application-level API for submitting, inspecting and
// streaming jobs.
//
// Engine sits above every subsystem package. The root toolqueue package
// defines the shared config and errors, so it cannot import them back.
//
// # Building an Engine
//
//	reg := processor.NewRegistry()
//	reg.MustRegister("transcribe", transcribe)
//
//	eng, err := engine.Build(pgStore, reg,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithBackoff(backoff.NewExponential(time.Second, time.Minute)),
//	)
//
// Optional collaborators are discovered from the store: a store that also
// implements queue.Engine delivers jobs to the worker pool, one that
// implements sweep.Locker gets an in-process sweep scheduler, and one that
// implements stream.Notifier wakes status streams across processes.
// Without a notifier the in-process broker is used.
//
// # Lifecycle
//
//	eng.Start(ctx) // worker pool + sweep scheduler
//	defer eng.Stop(ctx)
//
//	j, err := eng.SubmitJob(ctx, "transcribe", input)
//	seq, err := eng.Stream(ctx, j.ID)
//
// Middleware order for every processor invocation is tracing, metrics,
// logging, caller middleware, then the runner's own timeout, recover and
// scope layers.
package engine
