package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marketplace-chat/internal/api/http/handlers"
	"github.com/spec-kit/marketplace-chat/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Conversations  *handlers.ConversationsHandler
	Messages       *handlers.MessagesHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/conversations", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	api.Post("", cfg.Conversations.OpenConversation)
	api.Get("", cfg.Conversations.ListConversations)
	api.Get("/unread", cfg.Conversations.Unread)
	api.Get("/:id", cfg.Conversations.GetConversation)
	api.Post("/:id/close", cfg.Conversations.CloseConversation)
	api.Post("/:id/read", cfg.Conversations.MarkRead)
	api.Get("/:id/messages", cfg.Messages.ListMessages)
	api.Post("/:id/messages", cfg.Messages.SendMessage)
	api.Get("/:id/stream", cfg.Messages.Stream)
}
