package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-chat/internal/events"
)

// Handle releases a realtime subscription. A session owns at most one live
// handle and must close it before opening a replacement.
type Handle interface {
	Close()
}

// Subscriber is the realtime event channel boundary. Delivery is
// at-least-once and only covers events committed after subscription start;
// callers close the gap with an authoritative list() merged by id.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string, onInsert func(Inbound)) (Handle, error)
}

// busSubscriber adapts the event bus into the session's insert callback,
// decoding committed-message events and dropping everything else.
type busSubscriber struct {
	bus    events.Bus
	logger *zap.Logger
}

// NewBusSubscriber builds a Subscriber over an event bus.
func NewBusSubscriber(bus events.Bus, logger *zap.Logger) Subscriber {
	return &busSubscriber{bus: bus, logger: logger}
}

func (b *busSubscriber) Subscribe(ctx context.Context, conversationID string, onInsert func(Inbound)) (Handle, error) {
	sub, err := b.bus.Subscribe(ctx, events.TopicForConversation(conversationID))
	if err != nil {
		return nil, err
	}

	go func() {
		for data := range sub.Events() {
			event, err := events.Decode(data)
			if err != nil {
				b.logger.Warn("decode event", zap.Error(err))
				continue
			}
			if event.Type != events.EventMessageCommitted {
				continue
			}
			var payload events.MessageCommittedPayload
			if err := events.DecodePayload(event, &payload); err != nil {
				b.logger.Warn("decode message payload", zap.Error(err))
				continue
			}
			in := Inbound{
				MessageID:  payload.MessageID,
				SenderID:   payload.SenderID,
				SenderRole: payload.SenderRole,
				Content:    payload.Content,
				CreatedAt:  payload.CreatedAt,
			}
			if payload.ClientKey != nil {
				in.ClientKey = *payload.ClientKey
			}
			onInsert(in)
		}
	}()

	return sub, nil
}
