package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/aagnone3/toolqueue/job"
	"github.com/aagnone3/toolqueue/store"
	"github.com/aagnone3/toolqueue/sweep"
)

// Collection name constants.
const (
	colJobs  = "toolqueue_jobs"
	colLocks = "toolqueue_locks"
)

// Ensure Store implements the capabilities it serves at compile time.
var (
	_ store.Store  = (*Store)(nil)
	_ job.Store    = (*Store)(nil)
	_ sweep.Locker = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	client *mongod.Client
	owned  bool
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source for lock expiry and bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New connects to uri and returns a store on database. Close disconnects
// the client.
func New(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("toolqueue/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("toolqueue/mongo: ping: %w", err)
	}
	s := NewFromDatabase(client.Database(database), opts...)
	s.owned = true
	return s, nil
}

// NewFromDatabase creates a store on an existing database handle. The
// caller owns the client lifecycle; Close will not disconnect it.
func NewFromDatabase(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		client: db.Client(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all toolqueue collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("toolqueue/mongo: migrate %s indexes: %w", col, err)
		}
		s.logger.Debug("ensured indexes", slog.String("collection", col), slog.Int("count", len(models)))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client when the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Claim index: status + priority + created_at.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "created_at", Value: 1},
			}},
			// Stuck sweep.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "started_at", Value: 1},
			}},
			// Retry sweep.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "failure_kind", Value: 1},
				{Key: "updated_at", Value: 1},
			}},
			// Cleanup.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "expires_at", Value: 1},
			}},
			// Owner listings.
			{Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			}},
			{Keys: bson.D{
				{Key: "session_id", Value: 1},
				{Key: "created_at", Value: -1},
			}},
		},
		colLocks: {
			{Keys: bson.D{{Key: "until", Value: 1}}},
		},
	}
}
