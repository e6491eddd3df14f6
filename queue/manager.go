package queue

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aagnone3/toolqueue"
)

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  toolqueue.QueueConfig
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-queue concurrency caps and rate limits at fetch
// time. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...toolqueue.QueueConfig) *Manager {
	m := &Manager{queues: make(map[string]*queueState, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg toolqueue.QueueConfig) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Reserve grants up to n execution slots on queue, bounded by the free
// concurrency and the rate tokens available now. Every granted slot must be
// returned with Release.
func (m *Manager) Reserve(queue string, n int) int {
	if n <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return n
	}

	granted := n
	if c := qs.config.Concurrency; c > 0 {
		granted = min(granted, c-qs.active)
	}
	if qs.limiter != nil && granted > 0 {
		now := time.Now()
		granted = min(granted, int(qs.limiter.TokensAt(now)))
		if granted > 0 && !qs.limiter.AllowN(now, granted) {
			granted = 0
		}
	}
	if granted <= 0 {
		return 0
	}
	qs.active += granted
	return granted
}

// Release returns n slots to queue.
func (m *Manager) Release(queue string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil {
		qs.active = max(qs.active-n, 0)
	}
}

// Queues returns every configured queue, sorted by name.
func (m *Manager) Queues() []toolqueue.QueueConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]toolqueue.QueueConfig, 0, len(m.queues))
	for _, qs := range m.queues {
		out = append(out, qs.config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
