package handlers

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marketplace-chat/internal/api/dto"
	"github.com/spec-kit/marketplace-chat/internal/auth"
	"github.com/spec-kit/marketplace-chat/internal/domain"
	"github.com/spec-kit/marketplace-chat/internal/events"
	"github.com/spec-kit/marketplace-chat/internal/observability"
	"github.com/spec-kit/marketplace-chat/internal/service"
	apperrors "github.com/spec-kit/marketplace-chat/pkg/util"
)

// MessagesHandler manages message log endpoints and the realtime stream.
type MessagesHandler struct {
	messages      *service.MessageService
	conversations *service.ConversationService
	bus           events.Bus
	metrics       *observability.Metrics
	heartbeat     time.Duration
}

// MessagesHandlerDeps bundles handler collaborators.
type MessagesHandlerDeps struct {
	Messages      *service.MessageService
	Conversations *service.ConversationService
	Bus           events.Bus
	Metrics       *observability.Metrics
	Heartbeat     time.Duration
}

// NewMessagesHandler constructs handler.
func NewMessagesHandler(deps MessagesHandlerDeps) *MessagesHandler {
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &MessagesHandler{
		messages:      deps.Messages,
		conversations: deps.Conversations,
		bus:           deps.Bus,
		metrics:       deps.Metrics,
		heartbeat:     heartbeat,
	}
}

// ListMessages GET /conversations/:id/messages.
func (h *MessagesHandler) ListMessages(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	msgs, err := h.messages.List(c.Context(), principal.UserID, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.MessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, messageResponse(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// SendMessage POST /conversations/:id/messages.
func (h *MessagesHandler) SendMessage(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.AppendInput{
		ConversationID: c.Params("id"),
		SenderID:       principal.UserID,
		SenderRole:     principal.Role,
		Content:        req.Content,
		ClientKey:      req.ClientKey,
	}
	if req.Attachment != nil {
		input.Attachment = &domain.AttachmentRef{
			StorageKey: req.Attachment.StorageKey,
			FileName:   req.Attachment.FileName,
			MimeType:   req.Attachment.MimeType,
			SizeBytes:  req.Attachment.SizeBytes,
		}
	}

	msg, err := h.messages.Append(c.Context(), input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": messageResponse(msg)})
}

// Stream GET /conversations/:id/stream pushes committed messages over SSE.
// Delivery starts at subscription time; clients close the gap by fetching
// the message list around stream start and merging by id.
func (h *MessagesHandler) Stream(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	conversation, err := h.conversations.Get(c.Context(), principal.UserID, c.Params("id"))
	if err != nil {
		return err
	}

	sub, err := h.bus.Subscribe(context.Background(), events.TopicForConversation(conversation.ID))
	if err != nil {
		return apperrors.NewUpstream("subscribe failed", err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	h.metrics.StreamOpened()
	heartbeat := h.heartbeat
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.metrics.StreamClosed()
		defer sub.Close()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case data, open := <-sub.Events():
				if !open {
					return
				}
				if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func messageResponse(msg *domain.Message) dto.MessageResponse {
	resp := dto.MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderRole:     msg.SenderRole,
		Content:        msg.Content,
		ClientKey:      msg.ClientKey,
		IsRead:         msg.IsRead,
		CreatedAt:      msg.CreatedAt,
	}
	if att := msg.Attachment; att != nil {
		resp.Attachment = &dto.AttachmentPayload{
			StorageKey: att.StorageKey,
			FileName:   att.FileName,
			MimeType:   att.MimeType,
			SizeBytes:  att.SizeBytes,
		}
	}
	return resp
}
