package dto

import (
	"time"

	"github.com/roamsquad/roamsquad-go-api/internal/models"
)

// TicketCreateRequest opens a new support conversation.
type TicketCreateRequest struct {
	Subject string `json:"subject" validate:"required,min=3,max=255"`
}

// TicketUpdateRequest closes or reopens a ticket.
type TicketUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=open closed"`
}

// TicketListQuery filters the admin ticket listing.
type TicketListQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=open closed"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset int    `query:"offset" validate:"omitempty,min=0"`
}

// TicketResponse is the serialized support ticket, including the cached last
// message used by list views.
type TicketResponse struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	Subject     string               `json:"subject"`
	Status      string               `json:"status"`
	Metadata    map[string]string    `json:"metadata,omitempty"`
	LastMessage *ChatMessageResponse `json:"last_message,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// NewTicketResponse converts a ticket model to a DTO.
func NewTicketResponse(model models.SupportTicket) TicketResponse {
	response := TicketResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		Subject:   model.Subject,
		Status:    model.Status,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	if model.Metadata != nil {
		response.Metadata = make(map[string]string)
		for key, value := range model.Metadata {
			if str, ok := value.(string); ok {
				response.Metadata[key] = str
			}
		}
	}
	return response
}

// NewTicketResponseSlice converts ticket models to DTOs.
func NewTicketResponseSlice(items []models.SupportTicket) []TicketResponse {
	out := make([]TicketResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewTicketResponse(item))
	}
	return out
}
