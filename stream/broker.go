package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aagnone3/toolqueue/ext"
	"github.com/aagnone3/toolqueue/id"
	"github.com/aagnone3/toolqueue/job"
)

var (
	_ ext.Extension    = (*Broker)(nil)
	_ ext.JobSubmitted = (*Broker)(nil)
	_ ext.JobClaimed   = (*Broker)(nil)
	_ ext.JobCompleted = (*Broker)(nil)
	_ ext.JobFailed    = (*Broker)(nil)
	_ ext.JobRetrying  = (*Broker)(nil)
	_ ext.JobCancelled = (*Broker)(nil)
	_ ext.JobDeleted   = (*Broker)(nil)
	_ ext.Shutdown     = (*Broker)(nil)
	_ Notifier         = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber notice buffer.
const DefaultBufferSize = 64

// Broker fans lifecycle hooks out to in-process subscribers. It only sees
// transitions made by runners in the same process; cross-process setups
// use a store-backed Notifier instead.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	bufferSize     int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber notice buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Watch implements Notifier. Every notice on the job's topic becomes a
// wake-up; wake-ups coalesce while the reader is busy.
func (b *Broker) Watch(ctx context.Context, jobID id.JobID) (<-chan struct{}, func(), error) {
	subID := id.NewSubscriptionID().String()
	sub := b.Subscribe(subID, JobTopic(jobID.String()))

	wake := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer b.RemoveSubscriber(subID)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.C():
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake, cancel, nil
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topicCount"`
	SubscriberCount int   `json:"subscriberCount"`
	TotalPublished  int64 `json:"totalPublished"`
}

// Publish broadcasts n to every matching topic.
func (b *Broker) Publish(n *Notice) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	n.Topic = JobTopic(n.JobID)
	delivered := b.topics.Broadcast(resolveTopics(n), n)
	b.totalPublished.Add(int64(delivered))
}

func (b *Broker) publishJob(t NoticeType, j *job.Job) {
	b.Publish(&Notice{
		Type:     t,
		JobID:    j.ID.String(),
		ToolSlug: j.ToolSlug,
		Queue:    j.Queue,
		Status:   j.Status,
	})
}

func (b *Broker) OnJobSubmitted(_ context.Context, j *job.Job) error {
	b.publishJob(NoticeSubmitted, j)
	return nil
}

func (b *Broker) OnJobClaimed(_ context.Context, j *job.Job) error {
	b.publishJob(NoticeClaimed, j)
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	b.publishJob(NoticeCompleted, j)
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	b.publishJob(NoticeFailed, j)
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	b.publishJob(NoticeRetrying, j)
	return nil
}

func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job) error {
	b.publishJob(NoticeCancelled, j)
	return nil
}

func (b *Broker) OnJobDeleted(_ context.Context, jobID id.JobID) error {
	b.Publish(&Notice{Type: NoticeDeleted, JobID: jobID.String()})
	return nil
}

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // sync.Map keys are strings
		value.(*Subscriber).Close()           //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
