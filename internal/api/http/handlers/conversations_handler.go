package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marketplace-chat/internal/api/dto"
	"github.com/spec-kit/marketplace-chat/internal/auth"
	"github.com/spec-kit/marketplace-chat/internal/domain"
	"github.com/spec-kit/marketplace-chat/internal/service"
	apperrors "github.com/spec-kit/marketplace-chat/pkg/util"
)

// ConversationsHandler manages conversation registry endpoints.
type ConversationsHandler struct {
	conversations *service.ConversationService
	receipts      *service.ReadReceiptService
}

// NewConversationsHandler constructs handler.
func NewConversationsHandler(conversations *service.ConversationService, receipts *service.ReadReceiptService) *ConversationsHandler {
	return &ConversationsHandler{conversations: conversations, receipts: receipts}
}

// OpenConversation POST /conversations.
func (h *ConversationsHandler) OpenConversation(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.OpenConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	conversation, err := h.conversations.GetOrCreate(c.Context(), principal.UserID, principal.Role, service.OpenConversationInput{
		Type:       req.Type,
		PeerID:     req.PeerID,
		ContextRef: req.ContextRef,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"data": conversationSummary(conversation, principal.UserID, 0)})
}

// ListConversations GET /conversations.
func (h *ConversationsHandler) ListConversations(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	conversations, err := h.conversations.ListForParticipant(c.Context(), principal.UserID)
	if err != nil {
		return err
	}
	unread, err := h.receipts.UnreadByConversation(c.Context(), principal.UserID)
	if err != nil {
		return err
	}

	items := make([]dto.ConversationSummary, 0, len(conversations))
	for i := range conversations {
		conversation := &conversations[i]
		items = append(items, conversationSummary(conversation, principal.UserID, unread[conversation.ID]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetConversation GET /conversations/:id.
func (h *ConversationsHandler) GetConversation(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	conversation, err := h.conversations.Get(c.Context(), principal.UserID, c.Params("id"))
	if err != nil {
		return err
	}
	count, err := h.receipts.UnreadCount(c.Context(), principal.UserID, conversation.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": conversationSummary(conversation, principal.UserID, count)})
}

// CloseConversation POST /conversations/:id/close.
func (h *ConversationsHandler) CloseConversation(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	conversation, err := h.conversations.Close(c.Context(), principal.UserID, principal.Role, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": conversationSummary(conversation, principal.UserID, 0)})
}

// MarkRead POST /conversations/:id/read.
func (h *ConversationsHandler) MarkRead(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	flipped, err := h.receipts.MarkRead(c.Context(), principal.UserID, principal.Role, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.MarkReadResponse{Flipped: flipped}})
}

// Unread GET /conversations/unread.
func (h *ConversationsHandler) Unread(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	total, err := h.receipts.TotalUnread(c.Context(), principal.UserID)
	if err != nil {
		return err
	}
	byConversation, err := h.receipts.UnreadByConversation(c.Context(), principal.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.UnreadResponse{Total: total, ByConversation: byConversation}})
}

func conversationSummary(conversation *domain.Conversation, selfID string, unread int64) dto.ConversationSummary {
	return dto.ConversationSummary{
		ID:            conversation.ID,
		Type:          conversation.Type,
		InitiatorID:   conversation.InitiatorID,
		ResponderID:   conversation.ResponderID,
		PeerID:        conversation.PeerOf(selfID),
		ContextRef:    conversation.ContextRef,
		Status:        conversation.Status,
		UnreadCount:   unread,
		LastMessageAt: conversation.LastMessageAt,
		CreatedAt:     conversation.CreatedAt,
	}
}
