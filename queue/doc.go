// Package queue delivers jobs to workers.
//
// A [Message] carries only a job ID and delivery metadata; the job store
// stays the record of truth for status and attempts. An [Engine] leases
// messages to workers: a fetched message is invisible until its lease
// ends, so a worker that dies mid-job has its message redelivered.
//
// # Submitting
//
// [Submitter] persists a job and sends its message:
//
//	sub := queue.NewSubmitter(store, engine, cfg)
//	j, err := sub.SubmitJobWithOptions(ctx, "transcribe", input,
//	    job.WithPriority(5),
//	    job.WithMaxAttempts(2),
//	    job.WithDelay(time.Minute),
//	)
//
// Registered as an extension on the runner's hook registry, the Submitter
// also re-sends a message whenever a job is requeued for another attempt.
//
// # Workers
//
// [Pool] runs one poll loop per configured queue:
//
//	toolqueue.QueueConfig{
//	    Name:            "audio",
//	    ToolSlugs:       []string{"transcribe"},
//	    BatchSize:       5,
//	    PollingInterval: 2 * time.Second,
//	    Concurrency:     5,
//	    Lease:           5 * time.Minute,
//	    RateLimit:       10, // jobs/s dequeued from this queue
//	}
//
// [Manager] enforces the concurrency cap and the token-bucket rate limit
// (golang.org/x/time/rate) when a loop reserves room for a batch.
package queue
