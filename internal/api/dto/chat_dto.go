package dto

import (
	"time"

	"github.com/spec-kit/marketplace-chat/internal/domain"
)

// OpenConversationRequest resolves or creates a conversation.
type OpenConversationRequest struct {
	Type       domain.ConversationType `json:"type"`
	PeerID     string                  `json:"peer_id"`
	ContextRef *string                 `json:"context_ref,omitempty"`
}

// SendMessageRequest appends one message.
type SendMessageRequest struct {
	Content    string             `json:"content"`
	Attachment *AttachmentPayload `json:"attachment,omitempty"`
	ClientKey  *string            `json:"client_key,omitempty"`
}

// AttachmentPayload defines attachment metadata.
type AttachmentPayload struct {
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
}

// ConversationSummary is the list/detail projection of a conversation.
type ConversationSummary struct {
	ID            string                    `json:"id"`
	Type          domain.ConversationType   `json:"type"`
	InitiatorID   string                    `json:"initiator_id"`
	ResponderID   string                    `json:"responder_id"`
	PeerID        string                    `json:"peer_id"`
	ContextRef    *string                   `json:"context_ref,omitempty"`
	Status        domain.ConversationStatus `json:"status"`
	UnreadCount   int64                     `json:"unread_count"`
	LastMessageAt time.Time                 `json:"last_message_at"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// MessageResponse is the wire projection of a persisted message.
type MessageResponse struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	SenderID       string                 `json:"sender_id"`
	SenderRole     domain.ParticipantRole `json:"sender_role"`
	Content        string                 `json:"content"`
	Attachment     *AttachmentPayload     `json:"attachment,omitempty"`
	ClientKey      *string                `json:"client_key,omitempty"`
	IsRead         bool                   `json:"is_read"`
	CreatedAt      time.Time              `json:"created_at"`
}

// MarkReadResponse reports how many messages a mark-read flipped.
type MarkReadResponse struct {
	Flipped int64 `json:"flipped"`
}

// UnreadResponse aggregates unread counts for a participant.
type UnreadResponse struct {
	Total          int64            `json:"total"`
	ByConversation map[string]int64 `json:"by_conversation"`
}
