package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aagnone3/toolqueue"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
)

var terminalStatuses = []string{
	string(job.StatusCompleted),
	string(job.StatusFailed),
	string(job.StatusCancelled),
}

// CreateJob persists a new PENDING job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.jobs().InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			return toolqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("toolqueue/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, toolqueue.ErrJobNotFound
		}
		return nil, fmt.Errorf("toolqueue/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ClaimNextPendingJob atomically flips the best eligible PENDING job to
// PROCESSING with FindOneAndUpdate.
func (s *Store) ClaimNextPendingJob(ctx context.Context, f job.ClaimFilter) (*job.Job, error) {
	t := f.Now
	if t.IsZero() {
		t = s.now()
	}
	filter := bson.M{
		"status": string(job.StatusPending),
		"run_at": bson.M{"$lte": t},
	}
	if f.ToolSlug != "" {
		filter["tool_slug"] = f.ToolSlug
	}
	if f.Queue != "" {
		filter["queue"] = f.Queue
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "priority", Value: -1},
			{Key: "created_at", Value: 1},
		})
	return s.claim(ctx, filter, t, opts)
}

// ClaimJob claims one specific job if it is PENDING and due.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	filter := bson.M{
		"_id":    jobID.String(),
		"status": string(job.StatusPending),
		"run_at": bson.M{"$lte": now},
	}
	return s.claim(ctx, filter, now, options.FindOneAndUpdate().SetReturnDocument(options.After))
}

func (s *Store) claim(ctx context.Context, filter bson.M, t time.Time, opts *options.FindOneAndUpdateOptionsBuilder) (*job.Job, error) {
	update := bson.M{
		"$set": bson.M{
			"status":     string(job.StatusProcessing),
			"started_at": t,
			"updated_at": t,
		},
		"$inc": bson.M{"attempts": 1},
	}

	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("toolqueue/mongo: claim job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJobTerminal records the outcome of a PROCESSING job.
func (s *Store) UpdateJobTerminal(ctx context.Context, jobID id.JobID, t job.Terminal) error {
	if t.Status != job.StatusCompleted && t.Status != job.StatusFailed {
		return toolqueue.ErrInvalidTransition
	}
	completed := t.CompletedAt
	if completed.IsZero() {
		completed = s.now()
	}

	set := bson.M{
		"status":       string(t.Status),
		"error":        t.Error,
		"failure_kind": string(t.FailureKind),
		"completed_at": completed,
		"updated_at":   completed,
	}
	update := bson.M{"$set": set}
	if len(t.Output) > 0 {
		set["output"] = []byte(t.Output)
	} else {
		update["$unset"] = bson.M{"output": ""}
	}

	res, err := s.jobs().UpdateOne(ctx,
		bson.M{"_id": jobID.String(), "status": string(job.StatusProcessing)},
		update,
	)
	if err != nil {
		return fmt.Errorf("toolqueue/mongo: update terminal: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.transitionError(ctx, jobID, toolqueue.ErrInvalidTransition)
	}
	return nil
}

// RequeueJob returns a PROCESSING or FAILED job to PENDING.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, runAt time.Time) error {
	res, err := s.jobs().UpdateOne(ctx,
		bson.M{
			"_id":    jobID.String(),
			"status": bson.M{"$in": bson.A{string(job.StatusProcessing), string(job.StatusFailed)}},
		},
		bson.M{
			"$set": bson.M{
				"status":       string(job.StatusPending),
				"error":        "",
				"failure_kind": "",
				"run_at":       runAt,
				"updated_at":   s.now(),
			},
			"$unset": bson.M{"output": "", "completed_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("toolqueue/mongo: requeue job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.transitionError(ctx, jobID, toolqueue.ErrInvalidTransition)
	}
	return nil
}

// ListStuckJobs returns PROCESSING jobs started before startedBefore.
func (s *Store) ListStuckJobs(ctx context.Context, startedBefore time.Time) ([]*job.Job, error) {
	return s.find(ctx, "list stuck jobs",
		bson.M{
			"status":     string(job.StatusProcessing),
			"started_at": bson.M{"$lt": startedBefore},
		},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}),
	)
}

// ListRetryableJobs returns FAILED processor failures with attempts left.
func (s *Store) ListRetryableJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, "list retryable jobs",
		bson.M{
			"status":       string(job.StatusFailed),
			"failure_kind": string(job.FailureProcessor),
			"$expr":        bson.M{"$lt": bson.A{"$attempts", "$max_attempts"}},
		},
		opts,
	)
}

// DeleteExpiredJobs removes terminal jobs whose expiresAt is before now.
func (s *Store) DeleteExpiredJobs(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.jobs().DeleteMany(ctx, bson.M{
		"status":     bson.M{"$in": terminalStatuses},
		"expires_at": bson.M{"$lt": now},
	})
	if err != nil {
		return 0, fmt.Errorf("toolqueue/mongo: delete expired jobs: %w", err)
	}
	return res.DeletedCount, nil
}

// CancelJob moves a PENDING job to CANCELLED.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) error {
	res, err := s.jobs().UpdateOne(ctx,
		bson.M{"_id": jobID.String(), "status": string(job.StatusPending)},
		bson.M{"$set": bson.M{
			"status":       string(job.StatusCancelled),
			"error":        job.CancelledMessage,
			"completed_at": now,
			"updated_at":   now,
		}},
	)
	if err != nil {
		return fmt.Errorf("toolqueue/mongo: cancel job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.transitionError(ctx, jobID, toolqueue.ErrJobTerminal)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.jobs().DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("toolqueue/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return toolqueue.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching opts, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	filter := jobFilter(job.CountOpts{
		Status:    opts.Status,
		ToolSlug:  opts.ToolSlug,
		Queue:     opts.Queue,
		UserID:    opts.UserID,
		SessionID: opts.SessionID,
	})
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	return s.find(ctx, "list jobs", filter, findOpts)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	n, err := s.jobs().CountDocuments(ctx, jobFilter(opts))
	if err != nil {
		return 0, fmt.Errorf("toolqueue/mongo: count jobs: %w", err)
	}
	return n, nil
}

func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

func (s *Store) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*job.Job, error) {
	cursor, err := s.jobs().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("toolqueue/mongo: %s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("toolqueue/mongo: %s decode: %w", op, err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// jobFilter mirrors job.Job.OwnedBy: a user id wins over a session id.
func jobFilter(opts job.CountOpts) bson.M {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.ToolSlug != "" {
		filter["tool_slug"] = opts.ToolSlug
	}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	switch {
	case opts.UserID != "" && opts.SessionID != "":
		filter["$or"] = bson.A{
			bson.M{"user_id": opts.UserID},
			bson.M{"user_id": "", "session_id": opts.SessionID},
		}
	case opts.UserID != "":
		filter["user_id"] = opts.UserID
	case opts.SessionID != "":
		filter["user_id"] = ""
		filter["session_id"] = opts.SessionID
	}
	return filter
}

// transitionError explains why a conditional update matched nothing.
// terminal is returned when the job exists in a terminal state.
func (s *Store) transitionError(ctx context.Context, jobID id.JobID, terminal error) error {
	var m struct {
		Status string `bson:"status"`
	}
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()},
		options.FindOne().SetProjection(bson.M{"status": 1}),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return toolqueue.ErrJobNotFound
		}
		return fmt.Errorf("toolqueue/mongo: load status: %w", err)
	}
	if job.Status(m.Status).IsTerminal() {
		return terminal
	}
	return toolqueue.ErrInvalidTransition
}
