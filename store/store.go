package store

import (
	"context"

	"github.com/aagnone3/toolqueue/job"
)

// Store is the persistence contract a backend must meet to host the
// pipeline. A backend may additionally implement queue.Engine,
// sweep.Locker and stream.Notifier; the engine picks those up when present.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend's connections.
	Close() error
}
