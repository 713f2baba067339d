package realtime

import (
	"encoding/json"
	"time"
)

// Event names exchanged over the multiplexed socket. Outbound events are
// emitted by clients, inbound events are broadcast by the server. The
// connect/disconnect/error events are synthetic: they never cross the wire
// and are delivered locally by the connection manager.
const (
	EventJoinRoom         = "join_room"
	EventJoinCommunity    = "join_community"
	EventJoinSupportChat  = "join_support_chat"
	EventLeaveRoom        = "leave_room"
	EventLeaveCommunity   = "leave_community"
	EventLeaveSupportChat = "leave_support_chat"

	EventSendMessage          = "send_message"
	EventSendCommunityMessage = "send_community_message"
	EventSendSupportMessage   = "send_support_message"

	EventReceiveMessage          = "receive_message"
	EventReceiveCommunityMessage = "receive_community_message"
	EventReceiveSupportMessage   = "receive_support_message"

	EventMessageDeleted     = "message_deleted"
	EventSupportChatUpdated = "support_chat_updated"
	EventNewNotification    = "new_notification"

	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"
)

// Envelope is the framing used for every payload on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessageKind classifies a chat message payload.
type MessageKind string

// Supported message kinds.
const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindSystem MessageKind = "system"
)

// MessageState tracks a message through optimistic-send reconciliation.
type MessageState int

// Reconciliation states. Confirmed messages carry a server-assigned id,
// pending ones a temporary client id.
const (
	StateConfirmed MessageState = iota
	StatePending
	StateFailed
)

// Message is the client-side view of a chat message. Confirmed messages use
// the server id; optimistic messages use a temp-<n> id until their echo
// arrives.
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	SenderRole string      `json:"sender_role,omitempty"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	MediaURL   string      `json:"media_url,omitempty"`
	Timestamp  time.Time   `json:"created_at"`

	State MessageState `json:"-"`
}

// Pending reports whether the message is still awaiting confirmation.
func (m Message) Pending() bool { return m.State == StatePending }

// receiveEvent is the inbound broadcast payload for all receive_* events.
// Exactly one of the scope ids is set depending on the room kind.
type receiveEvent struct {
	RoomID      string    `json:"room_id,omitempty"`
	TripID      string    `json:"trip_id,omitempty"`
	CommunityID string    `json:"community_id,omitempty"`
	ChatID      string    `json:"chat_id,omitempty"`
	Message     Message   `json:"message"`
	SenderName  string    `json:"sender_name,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

type messageDeletedEvent struct {
	MessageID string `json:"message_id"`
}

type supportChatUpdatedEvent struct {
	ChatID      string  `json:"chat_id"`
	LastMessage Message `json:"last_message"`
}
