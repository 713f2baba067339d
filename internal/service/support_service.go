package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
	"github.com/roamsquad/roamsquad-go-api/internal/models"
	"github.com/roamsquad/roamsquad-go-api/internal/repository"
	"github.com/roamsquad/roamsquad-go-api/pkg/realtime"
)

// ErrTicketNotFound indicates the requested ticket does not exist.
var ErrTicketNotFound = errors.New("ticket not found")

// SupportService manages support tickets and gates access to their rooms:
// every support chat room is owned by exactly one ticket.
type SupportService interface {
	RoomAuthorizer
	// BindChat attaches the chat service after construction; support and chat
	// reference each other, so one side binds late.
	BindChat(chat LastMessageFetcher)
	// TicketOwner resolves the owner of a ticket for targeted pushes, empty
	// when the ticket cannot be loaded.
	TicketOwner(ctx context.Context, ticketID string) string
	Create(ctx context.Context, userID string, payload dto.TicketCreateRequest) (dto.TicketResponse, error)
	Get(ctx context.Context, requesterID, requesterRole, ticketID string) (dto.TicketResponse, error)
	List(ctx context.Context, query dto.TicketListQuery) ([]dto.TicketResponse, error)
	ListMine(ctx context.Context, userID string) ([]dto.TicketResponse, error)
	UpdateStatus(ctx context.Context, ticketID string, payload dto.TicketUpdateRequest) (dto.TicketResponse, error)
}

// LastMessageFetcher is the slice of the chat service the support service
// needs for list-view enrichment.
type LastMessageFetcher interface {
	LastMessage(ctx context.Context, roomID string) (*dto.ChatMessageResponse, error)
}

type supportService struct {
	repo      repository.TicketRepository
	chat      LastMessageFetcher
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewSupportService constructs the ticket service. chat may be nil in tests
// that do not assert last-message enrichment.
func NewSupportService(repo repository.TicketRepository, chat LastMessageFetcher, validate *validator.Validate, logger zerolog.Logger) SupportService {
	return &supportService{
		repo:      repo,
		chat:      chat,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "support_service").Logger(),
	}
}

func (s *supportService) BindChat(chat LastMessageFetcher) {
	s.chat = chat
}

// Authorize admits any authenticated user into trip and community rooms.
// Support rooms are restricted to the ticket owner and admins.
func (s *supportService) Authorize(ctx context.Context, userID, role string, room realtime.Room) error {
	if room.Kind != realtime.RoomSupport {
		return nil
	}
	if role == models.RoleAdmin {
		return nil
	}

	ticket, err := s.repo.FindByID(ctx, room.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotAuthorised
		}
		return err
	}
	if ticket.UserID != userID {
		return ErrRoomNotAuthorised
	}
	return nil
}

// TicketOwner resolves a ticket's owner for targeted summary pushes. Returns
// the empty string when the ticket cannot be loaded.
func (s *supportService) TicketOwner(ctx context.Context, ticketID string) string {
	ticket, err := s.repo.FindByID(ctx, ticketID)
	if err != nil {
		return ""
	}
	return ticket.UserID
}

func (s *supportService) Create(ctx context.Context, userID string, payload dto.TicketCreateRequest) (dto.TicketResponse, error) {
	payload.Subject = strings.TrimSpace(s.sanitizer.Sanitize(payload.Subject))
	if err := s.validator.Struct(payload); err != nil {
		return dto.TicketResponse{}, err
	}

	ticket := models.SupportTicket{
		UserID:  userID,
		Subject: payload.Subject,
		Status:  models.TicketOpen,
	}
	if err := s.repo.Create(ctx, &ticket); err != nil {
		return dto.TicketResponse{}, err
	}

	s.logger.Info().Str("ticket_id", ticket.ID).Str("user_id", userID).Msg("support ticket opened")
	return dto.NewTicketResponse(ticket), nil
}

func (s *supportService) Get(ctx context.Context, requesterID, requesterRole, ticketID string) (dto.TicketResponse, error) {
	ticket, err := s.repo.FindByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.TicketResponse{}, ErrTicketNotFound
		}
		return dto.TicketResponse{}, err
	}
	if ticket.UserID != requesterID && requesterRole != models.RoleAdmin {
		return dto.TicketResponse{}, ErrRoomNotAuthorised
	}

	response := dto.NewTicketResponse(ticket)
	s.attachLastMessage(ctx, &response)
	return response, nil
}

func (s *supportService) List(ctx context.Context, query dto.TicketListQuery) ([]dto.TicketResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	tickets, err := s.repo.List(ctx, query.Status, query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}

	responses := dto.NewTicketResponseSlice(tickets)
	for i := range responses {
		s.attachLastMessage(ctx, &responses[i])
	}
	return responses, nil
}

func (s *supportService) ListMine(ctx context.Context, userID string) ([]dto.TicketResponse, error) {
	tickets, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := dto.NewTicketResponseSlice(tickets)
	for i := range responses {
		s.attachLastMessage(ctx, &responses[i])
	}
	return responses, nil
}

// UpdateStatus closes or reopens a ticket. Repeating the current status is a
// no-op, not an error.
func (s *supportService) UpdateStatus(ctx context.Context, ticketID string, payload dto.TicketUpdateRequest) (dto.TicketResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TicketResponse{}, err
	}

	ticket, err := s.repo.UpdateStatus(ctx, ticketID, payload.Status)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.TicketResponse{}, ErrTicketNotFound
		}
		return dto.TicketResponse{}, err
	}

	s.logger.Info().Str("ticket_id", ticket.ID).Str("status", ticket.Status).Msg("support ticket status changed")
	return dto.NewTicketResponse(ticket), nil
}

func (s *supportService) attachLastMessage(ctx context.Context, ticket *dto.TicketResponse) {
	if s.chat == nil {
		return
	}
	last, err := s.chat.LastMessage(ctx, realtime.SupportRoom(ticket.ID).Key())
	if err != nil {
		return
	}
	ticket.LastMessage = last
}
