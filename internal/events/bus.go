package events

import (
	"context"
	"encoding/json"
	"sync"
)

// TopicForConversation names the per-conversation fan-out channel.
func TopicForConversation(conversationID string) string {
	return "chat:conversation:" + conversationID
}

// Encode serializes an event for transport over a Bus.
func Encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// Decode deserializes an event received from a Bus. The payload comes back
// as raw JSON; use DecodePayload to project it onto a typed struct.
func Decode(data []byte) (Event, error) {
	var event Event
	var raw struct {
		Event
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return event, err
	}
	event = raw.Event
	event.Payload = raw.Payload
	return event, nil
}

// DecodePayload unmarshals the raw payload of a decoded event into out.
func DecodePayload(event Event, out interface{}) error {
	raw, ok := event.Payload.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		raw = data
	}
	return json.Unmarshal(raw, out)
}

// Bus fans serialized events out to topic subscribers. Delivery is
// at-least-once with no ordering guarantee across hops; duplicate delivery
// of the same event is possible and consumers must merge idempotently.
type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
}

// Subscription is a live handle onto a Bus topic. Callers own the handle
// and must Close it before opening a replacement for the same surface.
type Subscription struct {
	ch      chan []byte
	once    sync.Once
	release func()
}

func newSubscription(buffer int, release func()) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	return &Subscription{ch: make(chan []byte, buffer), release: release}
}

// Events exposes the delivery channel. The channel is closed when the
// subscription is released.
func (s *Subscription) Events() <-chan []byte {
	return s.ch
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}
