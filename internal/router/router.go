package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/roamsquad/roamsquad-go-api/internal/config"
	"github.com/roamsquad/roamsquad-go-api/internal/handler"
	"github.com/roamsquad/roamsquad-go-api/internal/middleware"
	"github.com/roamsquad/roamsquad-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RealtimeHandler     *handler.RealtimeHandler
	MessageHandler      *handler.MessageHandler
	TicketHandler       *handler.TicketHandler
	NotificationHandler *handler.NotificationHandler
	AttachmentHandler   *handler.AttachmentHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Realtime websocket
	if deps.RealtimeHandler != nil {
		realtime := app.Group("/api/v2/realtime", jwtMiddleware)
		deps.RealtimeHandler.Register(realtime)
	}

	// Messages (history, send, delete)
	if deps.MessageHandler != nil {
		messages := app.Group("/api/v2/messages", jwtMiddleware)
		sendLimiter := middleware.RateLimit("message-send", cfg.SendRateLimit, cfg.SendRateWindow)
		deps.MessageHandler.Register(messages, sendLimiter)
	}

	// Support tickets
	if deps.TicketHandler != nil {
		tickets := app.Group("/api/v2/support/tickets", jwtMiddleware)
		deps.TicketHandler.Register(tickets)
	}

	// Notifications
	if deps.NotificationHandler != nil {
		notifications := app.Group("/api/v2/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}

	// Attachments
	if deps.AttachmentHandler != nil {
		attachments := app.Group("/api/v2/attachments", jwtMiddleware)
		deps.AttachmentHandler.Register(attachments)
	}
}
