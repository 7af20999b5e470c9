package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/marketplace-chat/internal/api/http"
	"github.com/spec-kit/marketplace-chat/internal/api/http/handlers"
	"github.com/spec-kit/marketplace-chat/internal/auth"
	"github.com/spec-kit/marketplace-chat/internal/config"
	"github.com/spec-kit/marketplace-chat/internal/events"
	"github.com/spec-kit/marketplace-chat/internal/observability"
	"github.com/spec-kit/marketplace-chat/internal/persistence"
	"github.com/spec-kit/marketplace-chat/internal/repository"
	"github.com/spec-kit/marketplace-chat/internal/service"
	"github.com/spec-kit/marketplace-chat/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis)
	defer redis.Close()

	pool := pg.PoolHandle()
	conversationRepo := repository.NewConversationRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)

	dispatcher := events.NewInMemoryDispatcher()
	var bus events.Bus
	if err := redis.Ping(ctx); err != nil {
		logger.Warn("redis unavailable; falling back to in-process event bus", zap.Error(err))
		bus = events.NewMemoryBus(cfg.Chat.StreamChannelBufferSize)
	} else {
		bus = events.NewRedisBus(redis.Client, logger, cfg.Chat.StreamChannelBufferSize)
	}

	conversationService := service.NewConversationService(service.ConversationDependencies{
		ConversationRepo: conversationRepo,
		ProfileRepo:      profileRepo,
		Dispatcher:       dispatcher,
	})
	messageService := service.NewMessageService(service.MessageDependencies{
		ConversationRepo: conversationRepo,
		MessageRepo:      messageRepo,
		ProfileRepo:      profileRepo,
		Dispatcher:       dispatcher,
		Bus:              bus,
		Logger:           logger,
		PreviewMaxRunes:  cfg.Chat.MessagePreviewMaxRunes,
	})
	receiptService := service.NewReadReceiptService(conversationRepo, messageRepo, dispatcher)
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokenManager)

	metrics := observability.NewMetrics()

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(pg, redis)
	conversationsHandler := handlers.NewConversationsHandler(conversationService, receiptService)
	messagesHandler := handlers.NewMessagesHandler(handlers.MessagesHandlerDeps{
		Messages:      messageService,
		Conversations: conversationService,
		Bus:           bus,
		Metrics:       metrics,
		Heartbeat:     cfg.Chat.StreamHeartbeat(),
	})

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Conversations:  conversationsHandler,
		Messages:       messagesHandler,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
