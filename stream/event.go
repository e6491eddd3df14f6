// Package stream pushes job status changes to subscribers.
//
// Two layers live here. The [Broker] is an extension that turns runner
// lifecycle hooks into [Notice]s and fans them out over topics. The
// [Streamer] builds on any [Notifier] (the Broker, Postgres LISTEN/NOTIFY,
// Redis pub/sub) plus store polling to produce a per-job [Sequence] of
// "update" and "timeout" events, ending after the terminal update.
package stream

import (
	"time"

	"github.com/aagnone3/toolqueue/job"
)

// EventType discriminates the events of a status stream.
type EventType string

const (
	// EventUpdate carries the current job snapshot.
	EventUpdate EventType = "update"
	// EventTimeout means nothing changed within the wait window; the
	// client should reconnect.
	EventTimeout EventType = "timeout"
)

// Event is one element of a status stream.
type Event struct {
	Type EventType `json:"type"`
	Job  *job.Job  `json:"job,omitempty"`
}

// NoticeType identifies the lifecycle hook a Notice came from.
type NoticeType string

const (
	NoticeSubmitted NoticeType = "job.submitted"
	NoticeClaimed   NoticeType = "job.claimed"
	NoticeCompleted NoticeType = "job.completed"
	NoticeFailed    NoticeType = "job.failed"
	NoticeRetrying  NoticeType = "job.retrying"
	NoticeCancelled NoticeType = "job.cancelled"
	NoticeDeleted   NoticeType = "job.deleted"
)

// Notice is the broker's change signal. It names what happened, not the
// full job; readers load the job from the store.
type Notice struct {
	Type      NoticeType `json:"type"`
	Timestamp time.Time  `json:"ts"`
	Topic     string     `json:"topic"`
	JobID     string     `json:"jobId"`
	ToolSlug  string     `json:"toolSlug,omitempty"`
	Queue     string     `json:"queue,omitempty"`
	Status    job.Status `json:"status,omitempty"`
}
