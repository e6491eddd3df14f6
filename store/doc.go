// Package store defines the aggregate persistence interface.
//
// The job record lives behind [job.Store]; delivery, leader election and
// change notification are separate capabilities a backend may add:
//
//	type Store interface {
//	    job.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory: maps behind a mutex; job store, queue engine and lock
//   - store/postgres: pgx/v5; job store, queue engine, lease-row lock and
//     LISTEN/NOTIFY change notifier
//   - store/mongo: mongo-driver v2; job store and lock
//   - store/redis: go-redis v9; queue engine, lock and pub/sub notifier
//     (pair it with a durable job store)
//
// # Usage
//
//	s, err := postgres.New(ctx, dsn)
//	if err != nil { ... }
//	if err := s.Migrate(ctx); err != nil { ... }
//	eng, err := engine.Build(s, registry)
package store
