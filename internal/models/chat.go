package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Sender roles attached to chat messages. Squad and community messages carry
// the implicit user role; support tickets distinguish admin replies.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ChatMessage is a persisted message inside a room (trip squad, community or
// support ticket). The id is server-assigned and is the de-duplication key
// clients rely on.
type ChatMessage struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID     string    `gorm:"size:128;index" json:"room_id"`
	SenderID   string    `gorm:"size:64;index" json:"sender_id"`
	SenderRole string    `gorm:"size:16;default:user" json:"sender_role"`
	Body       string    `gorm:"type:text" json:"body"`
	Kind       string    `gorm:"size:16;default:text" json:"kind"`
	MediaURL   string    `gorm:"size:512" json:"media_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeCreate assigns the server id.
func (m *ChatMessage) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Support ticket states.
const (
	TicketOpen   = "open"
	TicketClosed = "closed"
)

// SupportTicket is a support conversation between a user and the admin team.
// Its id doubles as the chat_id of the ticket's room.
type SupportTicket struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	UserID    string            `gorm:"size:64;index" json:"user_id"`
	Subject   string            `gorm:"size:255" json:"subject"`
	Status    string            `gorm:"size:16;default:open;index" json:"status"`
	Metadata  datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// BeforeCreate assigns the ticket id.
func (t *SupportTicket) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Notification is a push notification targeted at a single user, delivered
// over the same realtime connection as chat traffic.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	Type      string    `gorm:"size:64" json:"type"`
	Message   string    `gorm:"type:text" json:"message"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
