package queue

import (
	"context"
	"time"

	"github.com/aagnone3/toolqueue/id"
)

// Stats is a point-in-time view of one queue.
type Stats struct {
	Queue string `json:"queue"`
	// Ready counts messages visible now or scheduled for later.
	Ready int64 `json:"ready"`
	// Leased counts messages currently held by a worker.
	Leased int64 `json:"leased"`
	// Dead counts messages that ran out of deliveries.
	Dead int64 `json:"dead"`
}

// Engine delivers job messages to workers with lease semantics. It is a
// delivery mechanism only: the job store remains the record of truth, and
// a lost or dead-lettered message never changes a job's status.
type Engine interface {
	// Send enqueues m. It becomes visible at m.RunAt.
	Send(ctx context.Context, m *Message) error

	// Fetch leases up to limit visible messages from queue, ordered by
	// priority then RunAt, incrementing their delivery count. Messages that
	// already used all their deliveries are moved to the dead letter set
	// instead of being returned.
	Fetch(ctx context.Context, queue string, limit int, lease time.Duration) ([]*Message, error)

	// Extend pushes the lease of a held message to now+lease.
	Extend(ctx context.Context, msgID id.MessageID, lease time.Duration) error

	// Complete removes a message.
	Complete(ctx context.Context, msgID id.MessageID) error

	// Fail releases the lease and makes the message visible again at
	// retryAt, recording reason.
	Fail(ctx context.Context, msgID id.MessageID, reason string, retryAt time.Time) error

	// Depth returns message counts for queue.
	Depth(ctx context.Context, queue string) (Stats, error)
}
