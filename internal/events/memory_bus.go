package events

import (
	"context"
	"sync"
)

// memoryBus is a single-process Bus used by tests and single-node
// deployments. Slow subscribers have deliveries dropped rather than
// blocking publishers; the authoritative list() fetch closes any gap.
type memoryBus struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	buffer int
}

// NewMemoryBus creates an in-process Bus.
func NewMemoryBus(buffer int) Bus {
	return &memoryBus{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

func (b *memoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[topic] {
		payload := make([]byte, len(data))
		copy(payload, data)
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sub *Subscription
	sub = newSubscription(b.buffer, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[topic]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
		close(sub.ch)
	})

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Subscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	return sub, nil
}
