package postgres

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aagnone3/toolqueue/backoff"
	"github.com/aagnone3/toolqueue/id"
)

// notifyChannel is the LISTEN channel fed by the toolqueue_jobs trigger.
// Each payload is the id of the changed job.
const notifyChannel = "toolqueue_jobs"

// Watch returns a channel that receives a value whenever the job's row
// changes. The first call starts a listener on a dedicated connection.
func (s *Store) Watch(_ context.Context, jobID id.JobID) (<-chan struct{}, func(), error) {
	s.mu.Lock()
	if s.listener == nil {
		s.listener = newListener(s)
	}
	l := s.listener
	s.mu.Unlock()

	ch, cancel := l.subscribe(jobID.String())
	return ch, cancel, nil
}

// listener owns one connection in LISTEN mode and fans notifications out
// to per-job subscriber channels. Sends never block: a full channel
// already holds a pending wake-up.
type listener struct {
	store  *Store
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

func newListener(s *Store) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{
		store:  s,
		logger: s.logger,
		subs:   make(map[string]map[chan struct{}]struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

func (l *listener) subscribe(key string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	l.mu.Lock()
	set, ok := l.subs[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		l.subs[key] = set
	}
	set[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subs[key], ch)
			if len(l.subs[key]) == 0 {
				delete(l.subs, key)
			}
		})
	}
}

func (l *listener) dispatch(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// run listens until ctx is cancelled, reconnecting with backoff when the
// connection drops. Subscribers fall back to polling in the meantime.
func (l *listener) run(ctx context.Context) {
	defer close(l.done)

	retry := backoff.Reconnect()
	attempt := 0
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
		}
		attempt++
		delay := retry.Delay(attempt)
		l.logger.Warn("postgres listener disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// listen reports whether LISTEN succeeded before the connection failed.
func (l *listener) listen(ctx context.Context) (bool, error) {
	conn, err := l.store.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		// The connection goes back to the pool; drop the subscription first.
		_, _ = conn.Exec(context.Background(), "UNLISTEN "+notifyChannel)
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return false, err
	}
	l.logger.Debug("postgres listener connected", slog.String("channel", notifyChannel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		l.dispatch(n.Payload)
	}
}

func (l *listener) stop() {
	l.cancel()
	<-l.done
}
