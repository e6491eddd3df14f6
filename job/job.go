package job

import (
	"encoding/json"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed.
	StatusPending Status = "PENDING"
	// StatusProcessing means a runner claimed the job and is executing it.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted means the processor succeeded.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed means the job will not run again.
	StatusFailed Status = "FAILED"
	// StatusCancelled means the job was cancelled before it was claimed.
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether s is COMPLETED, FAILED or CANCELLED.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// FailureKind classifies why a job ended up FAILED.
type FailureKind string

const (
	// FailureNone is the kind of jobs that have not failed.
	FailureNone FailureKind = ""
	// FailureProcessor is a processor-reported or thrown failure.
	FailureProcessor FailureKind = "processor"
	// FailureConfiguration means no processor is registered for the slug.
	FailureConfiguration FailureKind = "configuration"
	// FailureStuck means the job was claimed but never finished in time.
	FailureStuck FailureKind = "stuck"
)

// Retryable reports whether a FAILED job of this kind may be requeued by
// the retry sweep.
func (k FailureKind) Retryable() bool { return k == FailureProcessor }

// Error message prefixes operators can filter on.
const (
	NoProcessorPrefix = "no processor registered"
	StuckPrefix       = "stuck:"
	CancelledMessage  = "job cancelled"
)

// Job is one tool invocation.
type Job struct {
	toolqueue.Entity

	ID          id.JobID        `json:"id"`
	ToolSlug    string          `json:"toolSlug"`
	Queue       string          `json:"queue"`
	Status      Status          `json:"status"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	FailureKind FailureKind     `json:"failureKind,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Priority    int             `json:"priority"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	RunAt       time.Time       `json:"runAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// New builds a PENDING job for toolSlug from the resolved submission options.
func New(toolSlug string, input json.RawMessage, o Options, now time.Time) *Job {
	now = now.UTC()
	if len(input) == 0 {
		input = json.RawMessage("null")
	}
	j := &Job{
		Entity:      toolqueue.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewJobID(),
		ToolSlug:    toolSlug,
		Queue:       o.Queue,
		Status:      StatusPending,
		Input:       input,
		MaxAttempts: o.MaxAttempts,
		Priority:    o.Priority,
		Timeout:     o.Timeout,
		UserID:      o.UserID,
		SessionID:   o.SessionID,
		RunAt:       now.Add(o.Delay),
		ExpiresAt:   now.Add(o.ExpiresIn),
	}
	if j.MaxAttempts < 1 {
		j.MaxAttempts = 1
	}
	return j
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Input = cloneRaw(j.Input)
	cp.Output = cloneRaw(j.Output)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	return &cp
}

// OwnedBy reports whether the caller identified by userID or sessionID
// created the job. A job created by a user is only visible to that user.
func (j *Job) OwnedBy(userID, sessionID string) bool {
	if j.UserID != "" {
		return userID != "" && j.UserID == userID
	}
	if j.SessionID != "" {
		return sessionID != "" && j.SessionID == sessionID
	}
	return false
}

// HasRetryBudget reports whether another attempt is allowed.
func (j *Job) HasRetryBudget() bool { return j.Attempts < j.MaxAttempts }

// Changed reports whether other differs from j in any field a status
// subscriber cares about.
func (j *Job) Changed(other *Job) bool {
	if other == nil {
		return true
	}
	return j.Status != other.Status ||
		j.Attempts != other.Attempts ||
		!j.UpdatedAt.Equal(other.UpdatedAt)
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	cp := make(json.RawMessage, len(b))
	copy(cp, b)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
