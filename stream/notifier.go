package stream

import (
	"context"

	"github.com/aagnone3/toolqueue/id"
)

// Notifier signals that a job may have changed. A wake-up carries no
// payload; the reader reloads the job from the store. Wake-ups may be
// coalesced or spurious, never required for correctness: the Streamer
// also polls.
type Notifier interface {
	// Watch returns a channel receiving a value after each change to the
	// job and a cancel func releasing the subscription.
	Watch(ctx context.Context, jobID id.JobID) (<-chan struct{}, func(), error)
}
