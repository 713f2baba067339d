package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
	"github.com/roamsquad/roamsquad-go-api/internal/observability"
	"github.com/roamsquad/roamsquad-go-api/pkg/realtime"
)

const keepaliveInterval = 30 * time.Second

// hub tracks live connections by room and by user. All lookups copy the
// client set under the read lock so broadcasts never write while iterating.
type hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*hubClient]struct{}
	users map[string]map[*hubClient]struct{}
	log   zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		rooms: make(map[string]map[*hubClient]struct{}),
		users: make(map[string]map[*hubClient]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}
}

// hubClient is one multiplexed websocket connection. Room membership lives in
// the hub; the client only carries its identity and send queue.
type hubClient struct {
	conn    *websocket.Conn
	send    chan realtime.Envelope
	opts    ConnectionOptions
	service *chatService
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context
}

func (h *hub) register(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := client.opts.UserID
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[*hubClient]struct{})
	}
	h.users[userID][client] = struct{}{}
	h.log.Debug().Str("user_id", userID).Msg("client connected")
}

func (h *hub) unregister(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := client.opts.UserID
	if clients, ok := h.users[userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.users, userID)
		}
	}
	for roomKey, clients := range h.rooms {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomKey)
		}
	}
	h.log.Debug().Str("user_id", userID).Msg("client disconnected")
}

func (h *hub) join(client *hubClient, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomKey]; !ok {
		h.rooms[roomKey] = make(map[*hubClient]struct{})
	}
	// Duplicate joins are tolerated: the map makes them idempotent.
	h.rooms[roomKey][client] = struct{}{}
	h.log.Debug().Str("room", roomKey).Str("user_id", client.opts.UserID).Msg("client joined room")
}

func (h *hub) leave(client *hubClient, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[roomKey]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomKey)
		}
	}
	h.log.Debug().Str("room", roomKey).Str("user_id", client.opts.UserID).Msg("client left room")
}

func (h *hub) joined(client *hubClient, roomKey string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomKey][client]
	return ok
}

func (h *hub) broadcastRoom(roomKey string, envelope realtime.Envelope) {
	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.rooms[roomKey]))
	for client := range h.rooms[roomKey] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	h.deliver(targets, envelope)
}

func (h *hub) broadcastUser(userID string, envelope realtime.Envelope) {
	if userID == "" {
		return
	}

	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.users[userID]))
	for client := range h.users[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	h.deliver(targets, envelope)
}

func (h *hub) broadcastRole(role string, envelope realtime.Envelope) {
	h.mu.RLock()
	targets := make([]*hubClient, 0)
	for _, clients := range h.users {
		for client := range clients {
			if client.opts.Role == role {
				targets = append(targets, client)
			}
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, envelope)
}

func (h *hub) deliver(targets []*hubClient, envelope realtime.Envelope) {
	for _, client := range targets {
		select {
		case client.send <- envelope:
		default:
			observability.DroppedFrames().WithLabelValues(envelope.Event).Inc()
			h.log.Warn().Str("event", envelope.Event).Str("user_id", client.opts.UserID).Msg("dropping frame for slow client")
		}
	}
}

// scopePayload is the data of join/leave/send envelopes; exactly one scope id
// is set.
type scopePayload struct {
	TripID      string `json:"trip_id,omitempty"`
	CommunityID string `json:"community_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
}

func (p scopePayload) room(event string) (realtime.Room, bool) {
	switch event {
	case realtime.EventJoinRoom, realtime.EventLeaveRoom, realtime.EventSendMessage:
		if p.TripID != "" {
			return realtime.TripRoom(p.TripID), true
		}
	case realtime.EventJoinCommunity, realtime.EventLeaveCommunity, realtime.EventSendCommunityMessage:
		if p.CommunityID != "" {
			return realtime.CommunityRoom(p.CommunityID), true
		}
	case realtime.EventJoinSupportChat, realtime.EventLeaveSupportChat, realtime.EventSendSupportMessage:
		if p.ChatID != "" {
			return realtime.SupportRoom(p.ChatID), true
		}
	}
	return realtime.Room{}, false
}

type socketSendPayload struct {
	scopePayload
	Body     string `json:"body"`
	Message  string `json:"message"`
	Kind     string `json:"kind"`
	Type     string `json:"type"`
	MediaURL string `json:"media_url"`
}

func (c *hubClient) reader() {
	defer c.close()

	for {
		var envelope realtime.Envelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			c.service.logger.Debug().Err(err).Msg("read loop ended")
			return
		}
		c.handle(envelope)
	}
}

func (c *hubClient) handle(envelope realtime.Envelope) {
	switch envelope.Event {
	case realtime.EventJoinRoom, realtime.EventJoinCommunity, realtime.EventJoinSupportChat:
		c.handleJoin(envelope)
	case realtime.EventLeaveRoom, realtime.EventLeaveCommunity, realtime.EventLeaveSupportChat:
		c.handleLeave(envelope)
	case realtime.EventSendMessage, realtime.EventSendCommunityMessage, realtime.EventSendSupportMessage:
		c.handleSend(envelope)
	default:
		c.service.logger.Debug().Str("event", envelope.Event).Msg("ignoring unknown client event")
	}
}

func (c *hubClient) handleJoin(envelope realtime.Envelope) {
	var payload scopePayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.sendError("invalid join payload", "")
		return
	}
	room, ok := payload.room(envelope.Event)
	if !ok {
		c.sendError("join payload missing scope id", "")
		return
	}

	if err := c.service.authorize(c.baseCtx, c.opts.UserID, c.opts.Role, room); err != nil {
		c.service.logger.Warn().
			Str("user_id", c.opts.UserID).
			Str("room", room.Key()).
			Msg("join rejected")
		c.sendError("join rejected", room.Key())
		return
	}

	c.service.hub.join(c, room.Key())
	observability.RoomJoins().WithLabelValues(string(room.Kind)).Inc()
}

func (c *hubClient) handleLeave(envelope realtime.Envelope) {
	var payload scopePayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return
	}
	if room, ok := payload.room(envelope.Event); ok {
		c.service.hub.leave(c, room.Key())
	}
}

func (c *hubClient) handleSend(envelope realtime.Envelope) {
	var payload socketSendPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.sendError("invalid send payload", "")
		return
	}

	room, ok := payload.scopePayload.room(envelope.Event)
	if !ok {
		c.sendError("send payload missing scope id", "")
		return
	}
	if !c.service.hub.joined(c, room.Key()) {
		c.sendError(ErrRoomNotJoined.Error(), room.Key())
		return
	}

	body := payload.Body
	if body == "" {
		body = payload.Message
	}
	kind := payload.Kind
	if kind == "" {
		kind = payload.Type
	}

	request := dto.SendMessageRequest{
		RoomID:   room.Key(),
		Body:     body,
		Kind:     kind,
		MediaURL: payload.MediaURL,
	}
	if _, err := c.service.processSend(c.baseCtx, c.opts.UserID, c.opts.Role, request); err != nil {
		c.service.logger.Warn().Err(err).Str("room", room.Key()).Msg("socket send failed")
		c.sendError("send failed", room.Key())
	}
}

// sendError pushes an error envelope to this client only. Errors never tear
// the connection down.
func (c *hubClient) sendError(message, roomKey string) {
	data, err := json.Marshal(map[string]string{"message": message, "room": roomKey})
	if err != nil {
		return
	}
	select {
	case c.send <- realtime.Envelope{Event: realtime.EventError, Data: data}:
	default:
	}
}

func (c *hubClient) writer() {
	defer c.close()

	for {
		select {
		case envelope, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(envelope); err != nil {
				c.service.logger.Debug().Err(err).Msg("write loop terminated")
				return
			}
		case <-time.After(keepaliveInterval):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("keepalive ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		_ = c.conn.Close()
	})
}
