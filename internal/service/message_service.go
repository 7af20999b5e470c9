package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-chat/internal/domain"
	"github.com/spec-kit/marketplace-chat/internal/events"
	"github.com/spec-kit/marketplace-chat/internal/repository"
	apperrors "github.com/spec-kit/marketplace-chat/pkg/util"
)

// MessageService owns the append path of the message store and fans commits
// out over the event bus.
type MessageService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	profiles      repository.ProfileRepository
	dispatcher    events.Dispatcher
	bus           events.Bus
	logger        *zap.Logger
	previewMax    int
}

// MessageDependencies bundles collaborators for the message service.
type MessageDependencies struct {
	ConversationRepo repository.ConversationRepository
	MessageRepo      repository.MessageRepository
	ProfileRepo      repository.ProfileRepository
	Dispatcher       events.Dispatcher
	Bus              events.Bus
	Logger           *zap.Logger
	PreviewMaxRunes  int
}

// AppendInput describes a message append request.
type AppendInput struct {
	ConversationID string
	SenderID       string
	SenderRole     domain.ParticipantRole
	Content        string
	Attachment     *domain.AttachmentRef
	// ClientKey is the sender's idempotency key. Appends retried with the
	// same key collapse onto the originally committed row.
	ClientKey *string
}

// NewMessageService constructs the service.
func NewMessageService(deps MessageDependencies) *MessageService {
	previewMax := deps.PreviewMaxRunes
	if previewMax <= 0 {
		previewMax = 80
	}
	return &MessageService{
		conversations: deps.ConversationRepo,
		messages:      deps.MessageRepo,
		profiles:      deps.ProfileRepo,
		dispatcher:    deps.Dispatcher,
		bus:           deps.Bus,
		logger:        deps.Logger,
		previewMax:    previewMax,
	}
}

// Append validates, persists, and fans out one message. The conversation's
// last_message_at is advanced as a side effect of the repository append.
func (s *MessageService) Append(ctx context.Context, input AppendInput) (*domain.Message, error) {
	msg := &domain.Message{
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		SenderRole:     input.SenderRole,
		Content:        input.Content,
		Attachment:     input.Attachment,
		ClientKey:      input.ClientKey,
	}
	if !msg.HasBody() {
		return nil, apperrors.NewValidationError("content or attachment required", nil)
	}
	if !input.SenderRole.Valid() {
		return nil, apperrors.NewValidationError("unknown sender role", nil)
	}

	conversation, err := s.conversations.GetByID(ctx, input.ConversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("conversation", nil)
		}
		return nil, apperrors.NewUpstream("conversation lookup failed", err)
	}
	if !conversation.HasParticipant(input.SenderID) {
		return nil, apperrors.NewForbidden("not a participant")
	}
	if conversation.Status != domain.ConversationActive {
		return nil, apperrors.NewValidationError("conversation is not active", map[string]any{"status": conversation.Status})
	}

	profile := domain.Profile{UserID: input.SenderID, Role: input.SenderRole}
	if err := s.profiles.Ensure(ctx, &profile); err != nil {
		return nil, apperrors.NewUpstream("identity provider unavailable", err)
	}

	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, apperrors.NewUpstream("message append failed", err)
	}

	s.fanOut(ctx, msg)
	return msg, nil
}

// List returns the conversation's log in canonical order for a participant.
func (s *MessageService) List(ctx context.Context, participantID, conversationID string) ([]domain.Message, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("conversation", nil)
		}
		return nil, apperrors.NewUpstream("conversation lookup failed", err)
	}
	if !conversation.HasParticipant(participantID) {
		return nil, apperrors.NewForbidden("not a participant")
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperrors.NewUpstream("message list failed", err)
	}
	return msgs, nil
}

// fanOut publishes the commit to in-process handlers and to the bus. A bus
// failure is logged, not surfaced: subscribers recover the gap through the
// authoritative list() they perform around subscription start.
func (s *MessageService) fanOut(ctx context.Context, msg *domain.Message) {
	event := events.Event{
		ID:             uuid.NewString(),
		Type:           events.EventMessageCommitted,
		ConversationID: msg.ConversationID,
		Actor:          events.Actor{UserID: msg.SenderID, Role: msg.SenderRole},
		Timestamp:      time.Now().UTC(),
		Payload: events.MessageCommittedPayload{
			MessageID:   msg.ID,
			ClientKey:   msg.ClientKey,
			SenderID:    msg.SenderID,
			SenderRole:  msg.SenderRole,
			Content:     msg.Content,
			BodyPreview: preview(msg.Content, s.previewMax),
			HasAttach:   msg.Attachment != nil,
			CreatedAt:   msg.CreatedAt,
		},
	}

	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, event)
	}
	if s.bus == nil {
		return
	}
	data, err := events.Encode(event)
	if err != nil {
		s.logger.Error("encode message event", zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, events.TopicForConversation(msg.ConversationID), data); err != nil {
		s.logger.Warn("publish message event",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err))
	}
}

func preview(content string, maxRunes int) string {
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return string(runes[:maxRunes])
}
