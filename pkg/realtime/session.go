package realtime

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// NotificationHandler consumes new_notification payloads delivered on the
// same connection as chat traffic.
type NotificationHandler func(data json.RawMessage)

// Session glues the connection manager, room tracker and reconciler together
// for one authenticated client: it routes every broadcast event into the
// reconciler and exposes the optimistic send path chat surfaces use.
type Session struct {
	conn    *Conn
	tracker *RoomTracker
	rec     *Reconciler
	logger  zerolog.Logger

	subs     []Subscription
	onNotify NotificationHandler
}

// SessionConfig customises a session.
type SessionConfig struct {
	Logger zerolog.Logger
	// OnNotification receives new_notification events; nil drops them.
	OnNotification NotificationHandler
}

// NewSession builds a session on top of an owned connection manager. The
// caller drives the connection via Connect on the returned session.
func NewSession(conn *Conn, cfg SessionConfig) *Session {
	s := &Session{
		conn:     conn,
		tracker:  NewRoomTracker(conn, cfg.Logger),
		rec:      NewReconciler(cfg.Logger),
		logger:   cfg.Logger.With().Str("component", "realtime_session").Logger(),
		onNotify: cfg.OnNotification,
	}

	s.subs = append(s.subs,
		conn.On(EventReceiveMessage, s.receiveFor(RoomTrip)),
		conn.On(EventReceiveCommunityMessage, s.receiveFor(RoomCommunity)),
		conn.On(EventReceiveSupportMessage, s.receiveFor(RoomSupport)),
		conn.On(EventMessageDeleted, s.handleDeleted),
		conn.On(EventSupportChatUpdated, s.handleSupportUpdated),
		conn.On(EventNewNotification, s.handleNotification),
	)
	return s
}

// Connect dials the realtime endpoint with the session's bearer token.
func (s *Session) Connect(url, token string) error { return s.conn.Connect(url, token) }

// Close releases event handlers and tears down the transport.
func (s *Session) Close() error {
	for _, sub := range s.subs {
		s.conn.Off(sub)
	}
	s.subs = nil
	return s.conn.Close()
}

// Reconciler exposes the message state for rendering and tests.
func (s *Session) Reconciler() *Reconciler { return s.rec }

// Tracker exposes room membership state.
func (s *Session) Tracker() *RoomTracker { return s.tracker }

// IsConnected reports transport liveness.
func (s *Session) IsConnected() bool { return s.conn.IsConnected() }

// Enter mounts a room: membership is joined (and re-joined on reconnect by
// the tracker) and the room's message list starts accepting broadcasts.
func (s *Session) Enter(room Room) error {
	s.rec.Open(room.Key())
	return s.tracker.Join(room)
}

// Leave unmounts a room. The message list is released so stale broadcasts
// cannot mutate state for a view that no longer exists.
func (s *Session) Leave(room Room) error {
	s.rec.Close(room.Key())
	return s.tracker.Leave(room)
}

// PrimeHistory merges a fetched history page into a mounted room.
func (s *Session) PrimeHistory(room Room, history []Message) {
	s.rec.Prime(room.Key(), history)
}

// Send appends an optimistic pending message and emits it. The returned
// message carries the temporary id; confirmation arrives either through the
// socket echo or through ConfirmSend when a REST send path is used instead.
// When the emit fails the pending entry is flagged failed immediately.
func (s *Session) Send(room Room, senderID, body string, kind MessageKind, mediaURL string) (Message, error) {
	pending := s.rec.AppendPending(room.Key(), senderID, body, kind, mediaURL)

	payload := map[string]any{
		"body": body,
		"kind": string(kind),
	}
	if mediaURL != "" {
		payload["media_url"] = mediaURL
	}
	for key, value := range room.payload() {
		payload[key] = value
	}

	if err := s.conn.Emit(sendEventFor(room.Kind), payload); err != nil {
		s.rec.FailPending(room.Key(), pending.ID)
		return pending, err
	}
	return pending, nil
}

// ConfirmSend resolves a pending entry from a REST send response.
func (s *Session) ConfirmSend(room Room, tempID string, confirmed Message) {
	s.rec.ConfirmSend(room.Key(), tempID, confirmed)
}

func sendEventFor(kind RoomKind) string {
	switch kind {
	case RoomCommunity:
		return EventSendCommunityMessage
	case RoomSupport:
		return EventSendSupportMessage
	default:
		return EventSendMessage
	}
}

// receiveFor routes a receive_* broadcast into the reconciler, resolving the
// room key from whichever scope id the payload carries.
func (s *Session) receiveFor(kind RoomKind) Handler {
	return func(data json.RawMessage) {
		var event receiveEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Warn().Err(err).Msg("invalid receive payload")
			return
		}

		id := event.RoomID
		switch kind {
		case RoomTrip:
			if event.TripID != "" {
				id = event.TripID
			}
		case RoomCommunity:
			if event.CommunityID != "" {
				id = event.CommunityID
			}
		case RoomSupport:
			if event.ChatID != "" {
				id = event.ChatID
			}
		}
		if id == "" {
			s.logger.Warn().Str("kind", string(kind)).Msg("receive payload without room id")
			return
		}

		s.rec.Ingest(Room{Kind: kind, ID: id}.Key(), event.Message)
	}
}

func (s *Session) handleDeleted(data json.RawMessage) {
	var event messageDeletedEvent
	if err := json.Unmarshal(data, &event); err != nil || event.MessageID == "" {
		s.logger.Warn().Msg("invalid message_deleted payload")
		return
	}
	s.rec.RemoveByID(event.MessageID)
}

func (s *Session) handleSupportUpdated(data json.RawMessage) {
	var event supportChatUpdatedEvent
	if err := json.Unmarshal(data, &event); err != nil || event.ChatID == "" {
		s.logger.Warn().Msg("invalid support_chat_updated payload")
		return
	}
	s.rec.SetLastMessage(SupportRoom(event.ChatID).Key(), event.LastMessage)
}

func (s *Session) handleNotification(data json.RawMessage) {
	if s.onNotify != nil {
		s.onNotify(data)
	}
}
