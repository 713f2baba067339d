package dto

import (
	"time"

	"github.com/roamsquad/roamsquad-go-api/internal/models"
)

// SendMessageRequest is the REST payload for posting a message into a room.
// The same shape arrives inside send_* socket envelopes.
type SendMessageRequest struct {
	RoomID   string `json:"room_id" validate:"required,min=3,max=128"`
	Body     string `json:"body" validate:"omitempty,max=4000"`
	Kind     string `json:"kind" validate:"omitempty,oneof=text image"`
	MediaURL string `json:"media_url" validate:"omitempty,url,max=512"`
}

// ChatHistoryQuery filters a room's message history.
type ChatHistoryQuery struct {
	RoomID string     `query:"room_id" validate:"required,min=3,max=128"`
	Before *time.Time `query:"before"`
	Limit  int        `query:"limit" validate:"omitempty,min=1,max=100"`
}

// ChatMessageResponse is the serialized message clients reconcile against.
type ChatMessageResponse struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role,omitempty"`
	Body       string    `json:"body"`
	Kind       string    `json:"kind"`
	MediaURL   string    `json:"media_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:         message.ID,
		RoomID:     message.RoomID,
		SenderID:   message.SenderID,
		SenderRole: message.SenderRole,
		Body:       message.Body,
		Kind:       message.Kind,
		MediaURL:   message.MediaURL,
		CreatedAt:  message.CreatedAt,
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}

// AttachmentResponse describes a stored image attachment for image-kind
// messages.
type AttachmentResponse struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// NotificationCreateRequest describes the payload to publish a notification.
type NotificationCreateRequest struct {
	UserID  string `json:"user_id" validate:"required,max=64"`
	Type    string `json:"type" validate:"required,max=64"`
	Message string `json:"message" validate:"required,min=1,max=2000"`
}

// NotificationResponse represents notification data returned to clients and
// pushed as new_notification events.
type NotificationResponse struct {
	ID        uint      `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotificationResponse converts a notification model to a DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		Type:      model.Type,
		Message:   model.Message,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}
