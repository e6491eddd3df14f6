package mongo

import (
	"fmt"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
)

type jobModel struct {
	ID          string     `bson:"_id"`
	ToolSlug    string     `bson:"tool_slug"`
	Queue       string     `bson:"queue"`
	Status      string     `bson:"status"`
	Input       []byte     `bson:"input"`
	Output      []byte     `bson:"output,omitempty"`
	Error       string     `bson:"error"`
	FailureKind string     `bson:"failure_kind"`
	Attempts    int        `bson:"attempts"`
	MaxAttempts int        `bson:"max_attempts"`
	Priority    int        `bson:"priority"`
	Timeout     int64      `bson:"timeout_ns"`
	UserID      string     `bson:"user_id"`
	SessionID   string     `bson:"session_id"`
	RunAt       time.Time  `bson:"run_at"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	ExpiresAt   time.Time  `bson:"expires_at"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:          j.ID.String(),
		ToolSlug:    j.ToolSlug,
		Queue:       j.Queue,
		Status:      string(j.Status),
		Input:       []byte(j.Input),
		Error:       j.Error,
		FailureKind: string(j.FailureKind),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Priority:    j.Priority,
		Timeout:     j.Timeout.Nanoseconds(),
		UserID:      j.UserID,
		SessionID:   j.SessionID,
		RunAt:       j.RunAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		ExpiresAt:   j.ExpiresAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if len(j.Output) > 0 {
		m.Output = []byte(j.Output)
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: toolqueue.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:          parsedID,
		ToolSlug:    m.ToolSlug,
		Queue:       m.Queue,
		Status:      job.Status(m.Status),
		Input:       m.Input,
		Error:       m.Error,
		FailureKind: job.FailureKind(m.FailureKind),
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		Priority:    m.Priority,
		Timeout:     time.Duration(m.Timeout),
		UserID:      m.UserID,
		SessionID:   m.SessionID,
		RunAt:       m.RunAt.UTC(),
		StartedAt:   utc(m.StartedAt),
		CompletedAt: utc(m.CompletedAt),
		ExpiresAt:   m.ExpiresAt.UTC(),
	}
	if len(m.Output) > 0 {
		j.Output = m.Output
	}
	return j, nil
}

type lockModel struct {
	Name  string    `bson:"_id"`
	Owner string    `bson:"owner"`
	Until time.Time `bson:"until"`
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
