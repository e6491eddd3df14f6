package queue

import (
	"time"

	"github.com/aagnone3/toolqueue/id"
)

// Message is a delivery notice for one job. It carries no job data: the
// worker loads the job from the store by JobID.
type Message struct {
	ID       id.MessageID `json:"id"`
	Queue    string       `json:"queue"`
	JobID    id.JobID     `json:"jobId"`
	Priority int          `json:"priority"`

	// RunAt is the earliest time the message becomes visible.
	RunAt time.Time `json:"runAt"`

	// Deliveries counts how many times Fetch handed the message out.
	Deliveries    int `json:"deliveries"`
	MaxDeliveries int `json:"maxDeliveries"`

	// LeaseUntil is set while a worker holds the message. A message whose
	// lease has passed is visible again.
	LeaseUntil *time.Time `json:"leaseUntil,omitempty"`

	// LastError is the reason passed to the most recent Fail.
	LastError string `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage builds a message for jobID on queue.
func NewMessage(queue string, jobID id.JobID, priority int, runAt time.Time, maxDeliveries int) *Message {
	if maxDeliveries < 1 {
		maxDeliveries = 1
	}
	return &Message{
		ID:            id.NewMessageID(),
		Queue:         queue,
		JobID:         jobID,
		Priority:      priority,
		RunAt:         runAt,
		MaxDeliveries: maxDeliveries,
		CreatedAt:     time.Now().UTC(),
	}
}

// Visible reports whether Fetch may hand m out at now.
func (m *Message) Visible(now time.Time) bool {
	if m.RunAt.After(now) {
		return false
	}
	return m.LeaseUntil == nil || !m.LeaseUntil.After(now)
}

// Exhausted reports whether m has used up its deliveries.
func (m *Message) Exhausted() bool { return m.Deliveries >= m.MaxDeliveries }

// Clone returns a copy of m.
func (m *Message) Clone() *Message {
	cp := *m
	if m.LeaseUntil != nil {
		t := *m.LeaseUntil
		cp.LeaseUntil = &t
	}
	return &cp
}

// Less orders messages for Fetch: higher priority first, then earlier RunAt.
func Less(a, b *Message) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.RunAt.Before(b.RunAt)
}
