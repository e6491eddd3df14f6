package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	audithook "github.com/aagnone3/toolqueue/audit_hook"
	"github.com/aagnone3/toolqueue/config"
	"github.com/aagnone3/toolqueue/engine"
	"github.com/aagnone3/toolqueue/store"
	"github.com/aagnone3/toolqueue/store/memory"
	"github.com/aagnone3/toolqueue/store/mongo"
	"github.com/aagnone3/toolqueue/store/postgres"
	"github.com/aagnone3/toolqueue/store/redis"
)

// backend is an opened job store plus whatever the engine should use
// alongside it.
type backend struct {
	store store.Store
	opts  []engine.Option
	close func() error
}

// openBackend connects the configured job store and, when QueueURL is set,
// a Redis queue engine that also serves the sweep lock and notifications.
func openBackend(ctx context.Context, s config.Settings, logger *slog.Logger) (*backend, error) {
	b := &backend{}
	closers := []func() error{}

	switch s.Store.Driver {
	case config.DriverMemory:
		b.store = memory.New()
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, s.Store.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.store = pg
	case config.DriverMongo:
		mg, err := mongo.New(ctx, s.Store.DSN, s.Store.Database, mongo.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.store = mg
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.Store.Driver)
	}
	closers = append(closers, b.store.Close)

	if s.Store.QueueURL != "" {
		opts, err := goredis.ParseURL(s.Store.QueueURL)
		if err != nil {
			_ = b.store.Close()
			return nil, fmt.Errorf("parse queue url: %w", err)
		}
		client := goredis.NewClient(opts)
		q := redis.New(client, redis.WithLogger(logger))
		if err := q.Ping(ctx); err != nil {
			_ = client.Close()
			_ = b.store.Close()
			return nil, fmt.Errorf("redis queue: %w", err)
		}
		b.opts = append(b.opts,
			engine.WithQueueEngine(q),
			engine.WithLocker(q),
			engine.WithNotifier(q),
		)
		closers = append(closers, client.Close)
	}

	b.close = func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	return b, nil
}

// buildEngine opens the backend, migrates it and builds an engine with the
// built-in tools registered.
func (a *app) buildEngine(ctx context.Context, extra ...engine.Option) (*engine.Engine, *backend, error) {
	b, err := openBackend(ctx, a.settings, a.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := b.store.Migrate(ctx); err != nil {
		_ = b.close()
		return nil, nil, err
	}

	opts := []engine.Option{
		engine.WithConfig(a.settings.Pipeline),
		engine.WithLogger(a.logger),
	}
	if audit := a.settings.Audit; audit.Enabled {
		var auditOpts []audithook.Option
		if len(audit.Actions) > 0 {
			auditOpts = append(auditOpts, audithook.WithActions(audit.Actions...))
		}
		auditOpts = append(auditOpts, audithook.WithLogger(a.logger))
		opts = append(opts, engine.WithExtension(audithook.New(audithook.NewSlogRecorder(a.logger), auditOpts...)))
	}
	opts = append(opts, b.opts...)
	opts = append(opts, extra...)

	eng, err := engine.Build(b.store, builtinTools(), opts...)
	if err != nil {
		_ = b.close()
		return nil, nil, err
	}
	return eng, b, nil
}
