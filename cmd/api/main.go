package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/roamsquad/roamsquad-go-api/internal/config"
	"github.com/roamsquad/roamsquad-go-api/internal/database"
	"github.com/roamsquad/roamsquad-go-api/internal/handler"
	"github.com/roamsquad/roamsquad-go-api/internal/middleware"
	"github.com/roamsquad/roamsquad-go-api/internal/models"
	"github.com/roamsquad/roamsquad-go-api/internal/repository"
	"github.com/roamsquad/roamsquad-go-api/internal/router"
	"github.com/roamsquad/roamsquad-go-api/internal/service"
	cloud "github.com/roamsquad/roamsquad-go-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.ChatMessage{}, &models.SupportTicket{}, &models.Notification{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Close()

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	chatRepo := repository.NewChatRepository(db)
	ticketRepo := repository.NewTicketRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// The support service authorizes room access, so wire it before chat.
	supportService := service.NewSupportService(ticketRepo, nil, validate, logger)
	chatService := service.NewChatService(chatRepo, supportService, redisClient, cfg.ChannelBase, natsConn, validate, logger)
	supportService.BindChat(chatService)
	notificationService := service.NewNotificationService(notificationRepo, chatService, validate, logger)
	attachmentService := service.NewAttachmentService(uploader, int64(cfg.UploadMaxMB)<<20, logger)

	realtimeHandler := handler.NewRealtimeHandler(chatService, logger)
	messageHandler := handler.NewMessageHandler(chatService, validate, logger)
	ticketHandler := handler.NewTicketHandler(supportService, logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, logger)
	attachmentHandler := handler.NewAttachmentHandler(attachmentService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		RealtimeHandler:     realtimeHandler,
		MessageHandler:      messageHandler,
		TicketHandler:       ticketHandler,
		NotificationHandler: notificationHandler,
		AttachmentHandler:   attachmentHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	runCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()
	chatService.Start(runCtx)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
