package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/sweep"
)

// SubmitRequest is the body of POST /v1/jobs.
type SubmitRequest struct {
	ToolSlug     string          `json:"toolSlug"`
	Input        json.RawMessage `json:"input"`
	Priority     *int            `json:"priority,omitempty"`
	MaxAttempts  *int            `json:"maxAttempts,omitempty"`
	DelaySeconds *int            `json:"delaySeconds,omitempty"`
	Queue        string          `json:"queue,omitempty"`
}

// SubmitOption configures a submission.
type SubmitOption func(*SubmitRequest)

// WithPriority sets the job priority.
func WithPriority(priority int) SubmitOption {
	return func(r *SubmitRequest) { r.Priority = &priority }
}

// WithMaxAttempts overrides the server's default attempt budget.
func WithMaxAttempts(n int) SubmitOption {
	return func(r *SubmitRequest) { r.MaxAttempts = &n }
}

// WithDelay postpones the first claim. It is sent in whole seconds.
func WithDelay(d time.Duration) SubmitOption {
	return func(r *SubmitRequest) {
		s := int(d / time.Second)
		r.DelaySeconds = &s
	}
}

// WithQueue routes the job through a named queue.
func WithQueue(queue string) SubmitOption {
	return func(r *SubmitRequest) { r.Queue = queue }
}

// SubmitJob creates a job for toolSlug. input is JSON-encoded unless it is
// already a json.RawMessage.
func (c *Client) SubmitJob(ctx context.Context, toolSlug string, input any, opts ...SubmitOption) (*job.Job, error) {
	raw, ok := input.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(input); err != nil {
			return nil, fmt.Errorf("toolqueue/client: marshal input: %w", err)
		}
	}

	req := SubmitRequest{ToolSlug: toolSlug, Input: raw}
	for _, opt := range opts {
		opt(&req)
	}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", nil, req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob retrieves a job by ID. A job owned by someone else reads as
// not found.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// CancelJob cancels a PENDING job and returns its new state.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// DeleteJob removes a job record.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(jobID), nil, nil, nil)
}

// ListOptions filters ListJobs.
type ListOptions struct {
	Status   job.Status
	ToolSlug string
	Limit    int
	Offset   int
}

// JobList is one page of jobs.
type JobList struct {
	Jobs  []*job.Job `json:"jobs"`
	Total int64      `json:"total"`
}

// ListJobs lists the caller's jobs, newest first.
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) (*JobList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.ToolSlug != "" {
		q.Set("toolSlug", opts.ToolSlug)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var list JobList
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", q, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Stats retrieves queue depth and job counts from the server. Like Sweep,
// it needs the cron secret as the client token.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Sweep triggers one sweep run. The client must carry the cron secret
// as its token.
func (c *Client) Sweep(ctx context.Context) (*sweep.Report, error) {
	var report sweep.Report
	if err := c.do(ctx, http.MethodPost, "/v1/cron/sweep", nil, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
