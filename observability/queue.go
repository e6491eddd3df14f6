package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aagnone3/toolqueue/queue"
)

// RegisterQueueDepth registers observable gauges reporting ready, leased
// and dead-lettered message counts for every named queue. The engine is
// queried on each collection. Unregister the returned registration to
// stop reporting.
func RegisterQueueDepth(meter metric.Meter, engine queue.Engine, queues []string) (metric.Registration, error) {
	depth, err := meter.Int64ObservableGauge(
		"toolqueue.queue.depth",
		metric.WithDescription("Messages per queue and state"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for _, name := range queues {
			stats, err := engine.Depth(ctx, name)
			if err != nil {
				// Leave this queue unobserved for this collection.
				continue
			}
			q := attribute.String("queue", name)
			o.ObserveInt64(depth, int64(stats.Ready), metric.WithAttributes(q, attribute.String("state", "ready")))
			o.ObserveInt64(depth, int64(stats.Leased), metric.WithAttributes(q, attribute.String("state", "leased")))
			o.ObserveInt64(depth, int64(stats.Dead), metric.WithAttributes(q, attribute.String("state", "dead")))
		}
		return nil
	}, depth)
}
