package chat

import (
	"context"

	"github.com/spec-kit/marketplace-chat/internal/domain"
	"github.com/spec-kit/marketplace-chat/internal/service"
)

// serviceStore adapts the message and read-receipt services to the session's
// Store boundary for in-process deployments, such as the support chatbot
// surface running inside the API node.
type serviceStore struct {
	selfID   string
	role     domain.ParticipantRole
	messages *service.MessageService
	receipts *service.ReadReceiptService
}

// NewServiceStore builds a Store backed by the local services, scoped to one
// participant.
func NewServiceStore(selfID string, role domain.ParticipantRole, messages *service.MessageService, receipts *service.ReadReceiptService) Store {
	return &serviceStore{selfID: selfID, role: role, messages: messages, receipts: receipts}
}

func (s *serviceStore) Append(ctx context.Context, req AppendRequest) (domain.Message, error) {
	input := service.AppendInput{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		SenderRole:     req.SenderRole,
		Content:        req.Content,
		Attachment:     req.Attachment,
	}
	if req.ClientKey != "" {
		key := req.ClientKey
		input.ClientKey = &key
	}
	msg, err := s.messages.Append(ctx, input)
	if err != nil {
		return domain.Message{}, err
	}
	return *msg, nil
}

func (s *serviceStore) List(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return s.messages.List(ctx, s.selfID, conversationID)
}

func (s *serviceStore) MarkRead(ctx context.Context, conversationID, readerID string) error {
	_, err := s.receipts.MarkRead(ctx, readerID, s.role, conversationID)
	return err
}
