package domain

import (
	"strings"
	"time"
)

// Message is a persisted entry in a conversation's append-only log. Rows are
// immutable after insert except for the IsRead flag. Canonical order is
// created_at ascending with ties broken by id.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderRole     ParticipantRole
	Content        string
	Attachment     *AttachmentRef
	ClientKey      *string
	IsRead         bool
	CreatedAt      time.Time
}

// HasBody reports whether the message carries any content or attachment.
func (m *Message) HasBody() bool {
	return strings.TrimSpace(m.Content) != "" || m.Attachment != nil
}

// AttachmentRef stores metadata for a message attachment.
type AttachmentRef struct {
	StorageKey string
	FileName   string
	MimeType   string
	SizeBytes  int64
}
