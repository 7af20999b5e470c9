package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-chat/internal/config"
	"github.com/spec-kit/marketplace-chat/internal/events"
)

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventConversationCreated, n.handleConversationCreated)
	n.dispatcher.Subscribe(events.EventConversationClosed, n.handleConversationClosed)
	n.dispatcher.Subscribe(events.EventMessageCommitted, n.handleMessageCommitted)
}

func (n *NotificationService) handleConversationCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("ConversationCreated", zap.String("conversation_id", event.ConversationID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleConversationClosed(ctx context.Context, event events.Event) error {
	n.logger.Info("ConversationClosed", zap.String("conversation_id", event.ConversationID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleMessageCommitted(ctx context.Context, event events.Event) error {
	n.logger.Info("MessageCommitted", zap.String("conversation_id", event.ConversationID), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("conversation_id", event.ConversationID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("conversation_id", event.ConversationID),
		zap.String("event_type", string(event.Type)))
}
