package events

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisBus implements Bus over Redis pub/sub, fanning conversation events
// out across API nodes. Redis pub/sub is fire-and-forget per connection;
// combined with client retries this yields the at-least-once, unordered
// delivery the reconciliation merge is built for.
type redisBus struct {
	client *redis.Client
	logger *zap.Logger
	buffer int
}

// NewRedisBus creates a Bus backed by Redis pub/sub.
func NewRedisBus(client *redis.Client, logger *zap.Logger, buffer int) Bus {
	return &redisBus{client: client, logger: logger, buffer: buffer}
}

func (b *redisBus) Publish(ctx context.Context, topic string, data []byte) error {
	return b.client.Publish(ctx, topic, data).Err()
}

func (b *redisBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := newSubscription(b.buffer, func() {
		_ = pubsub.Close()
	})

	go func() {
		defer close(sub.ch)
		for msg := range pubsub.Channel() {
			select {
			case sub.ch <- []byte(msg.Payload):
			default:
				b.logger.Warn("dropping event for slow subscriber", zap.String("topic", topic))
			}
		}
	}()

	return sub, nil
}
