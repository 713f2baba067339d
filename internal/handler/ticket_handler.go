package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
	"github.com/roamsquad/roamsquad-go-api/internal/middleware"
	"github.com/roamsquad/roamsquad-go-api/internal/models"
	"github.com/roamsquad/roamsquad-go-api/internal/service"
	"github.com/roamsquad/roamsquad-go-api/internal/utils"
)

// TicketHandler exposes the support ticket surface. Users open tickets and
// see their own; the full listing and status changes are admin-only.
type TicketHandler struct {
	service service.SupportService
	logger  zerolog.Logger
}

// NewTicketHandler creates a ticket handler instance.
func NewTicketHandler(service service.SupportService, logger zerolog.Logger) *TicketHandler {
	return &TicketHandler{
		service: service,
		logger:  logger.With().Str("component", "ticket_handler").Logger(),
	}
}

// Register binds ticket routes under the provided router group.
func (h *TicketHandler) Register(router fiber.Router) {
	router.Post("", h.create)
	router.Get("/mine", h.listMine)
	router.Get("", middleware.RequireRole(models.RoleAdmin), h.list)
	router.Get("/:id", h.get)
	router.Patch("/:id", middleware.RequireRole(models.RoleAdmin), h.updateStatus)
}

func (h *TicketHandler) create(c *fiber.Ctx) error {
	var payload dto.TicketCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	ticket, err := h.service.Create(requestContext(c), middleware.UserID(c), payload)
	if err != nil {
		return h.mapError(c, err, "failed to open ticket")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "ticket opened", ticket)
}

func (h *TicketHandler) listMine(c *fiber.Ctx) error {
	tickets, err := h.service.ListMine(requestContext(c), middleware.UserID(c))
	if err != nil {
		return h.mapError(c, err, "failed to list tickets")
	}
	return utils.SendSuccess(c, "support tickets", tickets)
}

func (h *TicketHandler) list(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	query := dto.TicketListQuery{
		Status: strings.TrimSpace(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}

	tickets, err := h.service.List(requestContext(c), query)
	if err != nil {
		return h.mapError(c, err, "failed to list tickets")
	}
	return utils.SendSuccess(c, "support tickets", tickets)
}

func (h *TicketHandler) get(c *fiber.Ctx) error {
	ticketID := strings.TrimSpace(c.Params("id"))
	if ticketID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "ticket id required")
	}

	ticket, err := h.service.Get(requestContext(c), middleware.UserID(c), middleware.UserRole(c), ticketID)
	if err != nil {
		return h.mapError(c, err, "failed to load ticket")
	}
	return utils.SendSuccess(c, "support ticket", ticket)
}

func (h *TicketHandler) updateStatus(c *fiber.Ctx) error {
	ticketID := strings.TrimSpace(c.Params("id"))
	if ticketID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "ticket id required")
	}

	var payload dto.TicketUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	ticket, err := h.service.UpdateStatus(requestContext(c), ticketID, payload)
	if err != nil {
		return h.mapError(c, err, "failed to update ticket")
	}
	return utils.SendSuccess(c, "ticket updated", ticket)
}

func (h *TicketHandler) mapError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTicketNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRoomNotAuthorised):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	default:
		h.logger.Error().Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}
