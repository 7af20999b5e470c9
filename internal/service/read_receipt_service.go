package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/marketplace-chat/internal/domain"
	"github.com/spec-kit/marketplace-chat/internal/events"
	"github.com/spec-kit/marketplace-chat/internal/repository"
	apperrors "github.com/spec-kit/marketplace-chat/pkg/util"
)

// ReadReceiptService marks messages read and recomputes unread counts.
// Counts are always recomputed rather than decremented so a message racing
// an in-flight mark-read settles at the correct value instead of drifting.
type ReadReceiptService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	dispatcher    events.Dispatcher
}

// NewReadReceiptService constructs the service.
func NewReadReceiptService(conversations repository.ConversationRepository, messages repository.MessageRepository, dispatcher events.Dispatcher) *ReadReceiptService {
	return &ReadReceiptService{
		conversations: conversations,
		messages:      messages,
		dispatcher:    dispatcher,
	}
}

// MarkRead bulk-flips is_read on all not-self unread messages in the
// conversation. Idempotent; callers invoke it on every conversation open.
func (s *ReadReceiptService) MarkRead(ctx context.Context, readerID string, readerRole domain.ParticipantRole, conversationID string) (int64, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NewNotFound("conversation", nil)
		}
		return 0, apperrors.NewUpstream("conversation lookup failed", err)
	}
	if !conversation.HasParticipant(readerID) {
		return 0, apperrors.NewForbidden("not a participant")
	}

	flipped, err := s.messages.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, apperrors.NewUpstream("mark read failed", err)
	}

	if flipped > 0 && s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:             uuid.NewString(),
			Type:           events.EventMessagesRead,
			ConversationID: conversationID,
			Actor:          events.Actor{UserID: readerID, Role: readerRole},
			Timestamp:      time.Now().UTC(),
			Payload:        events.MessagesReadPayload{ReaderID: readerID, Count: flipped},
		})
	}
	return flipped, nil
}

// UnreadCount recomputes the participant's unread count for one conversation.
func (s *ReadReceiptService) UnreadCount(ctx context.Context, participantID, conversationID string) (int64, error) {
	count, err := s.messages.UnreadCount(ctx, conversationID, participantID)
	if err != nil {
		return 0, apperrors.NewUpstream("unread count failed", err)
	}
	return count, nil
}

// UnreadByConversation recomputes per-conversation unread counts across all
// of the participant's conversations.
func (s *ReadReceiptService) UnreadByConversation(ctx context.Context, participantID string) (map[string]int64, error) {
	counts, err := s.messages.UnreadCounts(ctx, participantID)
	if err != nil {
		return nil, apperrors.NewUpstream("unread counts failed", err)
	}
	return counts, nil
}

// TotalUnread sums the participant's unread messages across all visible
// conversations.
func (s *ReadReceiptService) TotalUnread(ctx context.Context, participantID string) (int64, error) {
	total, err := s.messages.UnreadTotal(ctx, participantID)
	if err != nil {
		return 0, apperrors.NewUpstream("unread total failed", err)
	}
	return total, nil
}
