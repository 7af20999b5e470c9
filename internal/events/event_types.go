package events

import (
	"time"

	"github.com/spec-kit/marketplace-chat/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventConversationCreated EventType = "conversation_created"
	EventConversationClosed  EventType = "conversation_closed"
	EventMessageCommitted    EventType = "message_committed"
	EventMessagesRead        EventType = "messages_read"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID string                 `json:"user_id"`
	Role   domain.ParticipantRole `json:"role"`
}

// Event represents a domain event emitted by services. Events fan out over
// the Bus with at-least-once semantics; consumers must merge idempotently.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// ConversationCreatedPayload payload.
type ConversationCreatedPayload struct {
	Type        domain.ConversationType `json:"type"`
	InitiatorID string                  `json:"initiator_id"`
	ResponderID string                  `json:"responder_id"`
	ContextRef  *string                 `json:"context_ref,omitempty"`
}

// ConversationClosedPayload payload.
type ConversationClosedPayload struct {
	ClosedBy string `json:"closed_by"`
}

// MessageCommittedPayload carries enough identity for a client to reconcile
// the insert against its local optimistic state: server id, the sender's
// client key (temp id correlator), and the commit timestamp.
type MessageCommittedPayload struct {
	MessageID   string                 `json:"message_id"`
	ClientKey   *string                `json:"client_key,omitempty"`
	SenderID    string                 `json:"sender_id"`
	SenderRole  domain.ParticipantRole `json:"sender_role"`
	Content     string                 `json:"content"`
	BodyPreview string                 `json:"body_preview"`
	HasAttach   bool                   `json:"has_attachment"`
	CreatedAt   time.Time              `json:"created_at"`
}

// MessagesReadPayload payload.
type MessagesReadPayload struct {
	ReaderID string `json:"reader_id"`
	Count    int64  `json:"count"`
}
