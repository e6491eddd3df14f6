// Package toolqueue is a durable, at-least-once background job pipeline for
// tool invocations such as document analysis or audio processing.
//
// A job is persisted as PENDING, delivered to a worker through a named queue,
// claimed atomically by the runner, handed to the processor registered for its
// tool slug and finally written back as COMPLETED, FAILED or PENDING (retry).
// A periodic sweep recovers stuck jobs, requeues retryable failures, drains
// pending work the queue missed and deletes expired records. Clients follow a
// job through a short-lived status stream that they reconnect to with backoff.
//
// # Quick Start
//
//	reg := processor.NewRegistry()
//	_ = reg.Register("echo", func(_ context.Context, in json.RawMessage) processor.Result {
//	    return processor.Succeed(in)
//	})
//
//	eng, err := engine.Build(memory.New(), reg)
//	if err != nil { ... }
//	_ = eng.Start(ctx)
//	j, _ := eng.SubmitJob(ctx, "echo", json.RawMessage(`{"x":1}`))
//
// # Architecture
//
// The job store is the single source of truth. Every component (runner,
// queue workers, sweep, stream) synchronizes through it rather than through
// shared memory, and the claim step is a conditional update so that any
// number of processes can run workers against the same store.
package toolqueue
