package handler

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
	"github.com/roamsquad/roamsquad-go-api/internal/middleware"
	"github.com/roamsquad/roamsquad-go-api/internal/service"
	"github.com/roamsquad/roamsquad-go-api/internal/utils"
)

// MessageHandler exposes the REST message surface: history, send and delete.
type MessageHandler struct {
	service   service.ChatService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewMessageHandler creates a message handler instance.
func NewMessageHandler(service service.ChatService, validator *validator.Validate, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register binds message routes under the provided router group. send is
// expected to arrive already rate-limited by the router.
func (h *MessageHandler) Register(router fiber.Router, send ...fiber.Handler) {
	router.Get("/history", h.history)
	router.Post("", append(send, h.send)...)
	router.Delete("/:id", h.delete)
}

func (h *MessageHandler) history(c *fiber.Ctx) error {
	roomID := strings.TrimSpace(c.Query("room_id"))
	if roomID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "room_id required")
	}

	var beforePtr *time.Time
	if before := c.Query("before"); before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		beforePtr = &parsed
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	query := dto.ChatHistoryQuery{
		RoomID: roomID,
		Before: beforePtr,
		Limit:  limit,
	}

	messages, err := h.service.History(requestContext(c), query)
	if err != nil {
		return h.mapError(c, err, "failed to load history")
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	var payload dto.SendMessageRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.Send(requestContext(c), middleware.UserID(c), middleware.UserRole(c), payload)
	if err != nil {
		return h.mapError(c, err, "failed to send message")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessageHandler) delete(c *fiber.Ctx) error {
	messageID := strings.TrimSpace(c.Params("id"))
	if messageID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "message id required")
	}

	if err := h.service.Delete(requestContext(c), middleware.UserID(c), middleware.UserRole(c), messageID); err != nil {
		return h.mapError(c, err, "failed to delete message")
	}

	return utils.SendSuccess(c, "message deleted", nil)
}

func (h *MessageHandler) mapError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case isValidationError(err), errors.Is(err, service.ErrInvalidRoom):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRoomNotAuthorised), errors.Is(err, service.ErrNotMessageOwner):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "message not found")
	default:
		h.logger.Error().Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}
