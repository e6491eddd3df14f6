package job_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/job"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status job.Status
		want   bool
	}{
		{job.StatusPending, false},
		{job.StatusProcessing, false},
		{job.StatusCompleted, true},
		{job.StatusFailed, true},
		{job.StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestFailureKind_Retryable(t *testing.T) {
	if !job.FailureProcessor.Retryable() {
		t.Error("processor failures should be retryable")
	}
	if job.FailureConfiguration.Retryable() {
		t.Error("configuration failures must not be retried")
	}
	if job.FailureStuck.Retryable() {
		t.Error("stuck failures must not be retried")
	}
}

func TestNew_AppliesOptions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opts := job.DefaultOptions(toolqueue.DefaultConfig()).Apply(
		job.WithPriority(7),
		job.WithMaxAttempts(2),
		job.WithDelay(time.Minute),
		job.WithQueue("audio"),
		job.WithOwner("", "sess-1"),
	)

	j := job.New("echo", json.RawMessage(`{"x":1}`), opts, now)

	if j.Status != job.StatusPending {
		t.Errorf("Status = %s, want PENDING", j.Status)
	}
	if j.ID.IsNil() {
		t.Error("expected an ID")
	}
	if j.Priority != 7 || j.MaxAttempts != 2 || j.Queue != "audio" {
		t.Errorf("options not applied: %+v", j)
	}
	if !j.RunAt.Equal(now.Add(time.Minute)) {
		t.Errorf("RunAt = %v, want %v", j.RunAt, now.Add(time.Minute))
	}
	if !j.ExpiresAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", j.ExpiresAt)
	}
	if j.Attempts != 0 || j.StartedAt != nil || j.CompletedAt != nil {
		t.Errorf("fresh job carries runtime state: %+v", j)
	}
	if j.SessionID != "sess-1" || j.UserID != "" {
		t.Errorf("owner = %q/%q", j.UserID, j.SessionID)
	}
}

func TestNew_ClampsMaxAttempts(t *testing.T) {
	j := job.New("echo", nil, job.Options{MaxAttempts: 0}, time.Now())
	if j.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", j.MaxAttempts)
	}
	if string(j.Input) != "null" {
		t.Errorf("Input = %s, want null", j.Input)
	}
}

func TestWithOwner_UserWins(t *testing.T) {
	o := job.Options{}.Apply(job.WithOwner("user-1", "sess-1"))
	if o.UserID != "user-1" || o.SessionID != "" {
		t.Errorf("owner = %q/%q, want user-1 only", o.UserID, o.SessionID)
	}
}

func TestOwnedBy(t *testing.T) {
	byUser := &job.Job{UserID: "u1"}
	bySession := &job.Job{SessionID: "s1"}
	orphan := &job.Job{}

	if !byUser.OwnedBy("u1", "") {
		t.Error("user should own their job")
	}
	if byUser.OwnedBy("u2", "s1") {
		t.Error("other user must not own the job")
	}
	if !bySession.OwnedBy("", "s1") {
		t.Error("session should own its job")
	}
	if bySession.OwnedBy("u1", "s2") {
		t.Error("foreign session must not own the job")
	}
	if orphan.OwnedBy("", "") {
		t.Error("anonymous caller must not own an ownerless job")
	}
}

func TestClone_IsDeep(t *testing.T) {
	started := time.Now()
	j := &job.Job{Input: json.RawMessage(`{"a":1}`), StartedAt: &started}
	cp := j.Clone()

	cp.Input[2] = 'b'
	*cp.StartedAt = started.Add(time.Hour)

	if string(j.Input) != `{"a":1}` {
		t.Errorf("original input mutated: %s", j.Input)
	}
	if !j.StartedAt.Equal(started) {
		t.Error("original StartedAt mutated")
	}
}

func TestChanged(t *testing.T) {
	now := time.Now()
	a := &job.Job{Status: job.StatusPending, Entity: toolqueue.Entity{UpdatedAt: now}}
	b := a.Clone()
	if a.Changed(b) {
		t.Error("identical snapshots reported as changed")
	}
	b.Status = job.StatusProcessing
	if !a.Changed(b) {
		t.Error("status change not detected")
	}
	if !a.Changed(nil) {
		t.Error("nil previous snapshot must count as changed")
	}
}
