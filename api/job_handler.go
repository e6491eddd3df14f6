package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/scope"
	"github.com/aagnone3/toolqueue/stream"
)

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	ToolSlug     string          `json:"toolSlug"`
	Input        json.RawMessage `json:"input"`
	Priority     *int            `json:"priority,omitempty"`
	MaxAttempts  *int            `json:"maxAttempts,omitempty"`
	DelaySeconds *int            `json:"delaySeconds,omitempty"`
	Queue        string          `json:"queue,omitempty"`
}

func (req *SubmitJobRequest) options() ([]job.Option, error) {
	var opts []job.Option
	if req.Priority != nil {
		opts = append(opts, job.WithPriority(*req.Priority))
	}
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 1 {
			return nil, errors.New("maxAttempts must be at least 1")
		}
		opts = append(opts, job.WithMaxAttempts(*req.MaxAttempts))
	}
	if req.DelaySeconds != nil {
		if *req.DelaySeconds < 0 {
			return nil, errors.New("delaySeconds must not be negative")
		}
		opts = append(opts, job.WithDelay(time.Duration(*req.DelaySeconds)*time.Second))
	}
	if req.Queue != "" {
		opts = append(opts, job.WithQueue(req.Queue))
	}
	return opts, nil
}

// ListJobsResponse is the body of GET /v1/jobs.
type ListJobsResponse struct {
	Jobs  []*job.Job `json:"jobs"`
	Total int64      `json:"total"`
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req SubmitJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "can't unmarshal body")
		return
	}
	if req.ToolSlug == "" {
		a.writeError(w, http.StatusBadRequest, "toolSlug is required")
		return
	}
	opts, err := req.options()
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %s", err.Error()))
		return
	}

	j, err := a.eng.SubmitJobWithOptions(r.Context(), req.ToolSlug, req.Input, opts...)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	owner, ok := scope.Capture(r.Context())
	if !ok {
		a.writeError(w, http.StatusBadRequest, HeaderUserID+" or "+HeaderSessionID+" is required")
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil || limit < 1 {
		a.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxListLimit)
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		a.writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	status := job.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}

	opts := job.ListOpts{
		Status:    status,
		ToolSlug:  q.Get("toolSlug"),
		Queue:     q.Get("queue"),
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		Limit:     limit,
		Offset:    offset,
	}
	jobs, err := a.eng.ListJobs(r.Context(), opts)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	total, err := a.eng.CountJobs(r.Context(), job.CountOpts{
		Status:    opts.Status,
		ToolSlug:  opts.ToolSlug,
		Queue:     opts.Queue,
		UserID:    opts.UserID,
		SessionID: opts.SessionID,
	})
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	a.writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs, Total: total})
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	j, ok := a.visibleJob(w, r)
	if !ok {
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	j, ok := a.visibleJob(w, r)
	if !ok {
		return
	}
	cancelled, err := a.eng.CancelJob(r.Context(), j.ID)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, cancelled)
}

func (a *API) deleteJob(w http.ResponseWriter, r *http.Request) {
	j, ok := a.visibleJob(w, r)
	if !ok {
		return
	}
	if err := a.eng.DeleteJob(r.Context(), j.ID); err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) streamSSE(w http.ResponseWriter, r *http.Request) {
	seq, ok := a.openStream(w, r)
	if !ok {
		return
	}
	defer seq.Close()

	if err := stream.ServeSSE(w, r, seq, a.keepAlive); err != nil {
		a.logStreamError("sse", r, err)
	}
}

func (a *API) streamWebSocket(w http.ResponseWriter, r *http.Request) {
	seq, ok := a.openStream(w, r)
	if !ok {
		return
	}
	defer seq.Close()

	if err := stream.ServeWebSocket(w, r, seq, a.keepAlive); err != nil {
		a.logStreamError("ws", r, err)
	}
}

func (a *API) openStream(w http.ResponseWriter, r *http.Request) (*stream.Sequence, bool) {
	j, ok := a.visibleJob(w, r)
	if !ok {
		return nil, false
	}
	seq, err := a.eng.Stream(r.Context(), j.ID)
	if err != nil {
		a.writeStoreError(w, r, err)
		return nil, false
	}
	return seq, true
}

func (a *API) logStreamError(transport string, r *http.Request, err error) {
	a.logger.Warn("status stream ended with error",
		slog.String("transport", transport),
		slog.String("job_id", chi.URLParam(r, "jobID")),
		slog.String("error", err.Error()),
	)
}

// visibleJob loads the job named in the path and checks the caller may
// see it. A job owned by someone else is reported as not found. Jobs
// submitted anonymously are visible to every caller.
func (a *API) visibleJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	j, err := a.eng.GetJob(r.Context(), jobID)
	if err != nil {
		a.writeStoreError(w, r, err)
		return nil, false
	}
	if j.UserID == "" && j.SessionID == "" {
		return j, true
	}
	owner, _ := scope.Capture(r.Context())
	if !j.OwnedBy(owner.UserID, owner.SessionID) {
		a.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return j, true
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
