package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/client"
	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/sweep"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newJob(status job.Status) *job.Job {
	j := job.New("echo", json.RawMessage(`{"text":"hi"}`), job.Options{MaxAttempts: 3, Queue: "default"}, time.Now())
	j.Status = status
	return j
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestSubmitJob(t *testing.T) {
	var got client.SubmitRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(client.HeaderSessionID) != "sess-1" {
			t.Errorf("session header = %q", r.Header.Get(client.HeaderSessionID))
		}
		if r.Header.Get(client.HeaderUserID) != "" {
			t.Errorf("unexpected user header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeJSON(t, w, http.StatusCreated, newJob(job.StatusPending))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.New(srv.URL, client.WithOwner("", "sess-1"))
	j, err := c.SubmitJob(context.Background(), "transcribe", map[string]string{"url": "s3://a"},
		client.WithPriority(5),
		client.WithMaxAttempts(2),
		client.WithDelay(90*time.Second),
		client.WithQueue("audio"),
	)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if j.Status != job.StatusPending || j.ID.IsNil() {
		t.Fatalf("unexpected job: %+v", j)
	}

	if got.ToolSlug != "transcribe" || string(got.Input) != `{"url":"s3://a"}` || got.Queue != "audio" {
		t.Errorf("request = %+v", got)
	}
	if got.Priority == nil || *got.Priority != 5 {
		t.Errorf("priority = %v", got.Priority)
	}
	if got.MaxAttempts == nil || *got.MaxAttempts != 2 {
		t.Errorf("maxAttempts = %v", got.MaxAttempts)
	}
	if got.DelaySeconds == nil || *got.DelaySeconds != 90 {
		t.Errorf("delaySeconds = %v", got.DelaySeconds)
	}
}

func TestSubmitJob_RawInputAndDefaults(t *testing.T) {
	var body map[string]json.RawMessage
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(t, w, http.StatusCreated, newJob(job.StatusPending))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := client.New(srv.URL).SubmitJob(context.Background(), "echo", json.RawMessage(`[1,2]`))
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if string(body["input"]) != "[1,2]" {
		t.Errorf("input = %s", body["input"])
	}
	for _, key := range []string{"priority", "maxAttempts", "delaySeconds", "queue"} {
		if _, ok := body[key]; ok {
			t.Errorf("unset option %q was sent", key)
		}
	}
}

func TestGetJob_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]string{"error": "job not found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := client.New(srv.URL).GetJob(context.Background(), "job_missing")
	if !errors.Is(err, toolqueue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "job not found" {
		t.Fatalf("unexpected error: %#v", err)
	}
}

func TestAPIError_PlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := client.New(srv.URL).GetJob(context.Background(), "job_x")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream exploded" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if errors.Is(err, toolqueue.ErrJobNotFound) {
		t.Error("502 must not read as not found")
	}
}

func TestCancelAndDelete(t *testing.T) {
	cancelled := newJob(job.StatusCancelled)
	var deleted string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, cancelled)
	})
	mux.HandleFunc("DELETE /v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted = r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.New(srv.URL)
	j, err := c.CancelJob(context.Background(), cancelled.ID.String())
	if err != nil || j.Status != job.StatusCancelled {
		t.Fatalf("CancelJob: %+v, %v", j, err)
	}
	if err := c.DeleteJob(context.Background(), "job_abc"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if deleted != "job_abc" {
		t.Errorf("deleted = %q", deleted)
	}
}

func TestListJobs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "FAILED" || q.Get("toolSlug") != "echo" || q.Get("limit") != "10" || q.Get("offset") != "20" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		writeJSON(t, w, http.StatusOK, client.JobList{Jobs: []*job.Job{newJob(job.StatusFailed)}, Total: 21})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	list, err := client.New(srv.URL).ListJobs(context.Background(), client.ListOptions{
		Status: job.StatusFailed, ToolSlug: "echo", Limit: 10, Offset: 20,
	})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(list.Jobs) != 1 || list.Total != 21 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSweepSendsToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/cron/sweep", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			writeJSON(t, w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(t, w, http.StatusOK, sweep.Report{Stuck: 1, Processed: 2, Cleaned: 3})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if _, err := client.New(srv.URL).Sweep(context.Background()); err == nil {
		t.Fatal("expected 401 without token")
	}
	report, err := client.New(srv.URL, client.WithToken("s3cret")).Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Stuck != 1 || report.Processed != 2 || report.Cleaned != 3 {
		t.Errorf("report = %+v", report)
	}
}
