package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
	"github.com/roamsquad/roamsquad-go-api/internal/models"
	"github.com/roamsquad/roamsquad-go-api/internal/observability"
	"github.com/roamsquad/roamsquad-go-api/internal/repository"
	"github.com/roamsquad/roamsquad-go-api/pkg/realtime"
)

const (
	lastMessageTTL = 30 * time.Minute
	sendBufferSize = 32
)

var (
	// ErrRoomNotAuthorised indicates the client attempted to enter or post
	// into a room it has no access to.
	ErrRoomNotAuthorised = errors.New("not authorised for room")
	// ErrNotMessageOwner indicates a delete attempt by someone who is neither
	// the sender nor an admin.
	ErrNotMessageOwner = errors.New("not the message owner")
	// ErrInvalidRoom indicates a room id that does not parse to a known scope.
	ErrInvalidRoom = errors.New("invalid room id")
	// ErrRoomNotJoined indicates a socket send into a room the connection has
	// not joined.
	ErrRoomNotJoined = errors.New("room not joined")
)

// RoomAuthorizer decides whether a user may enter a room. The support service
// implements it against ticket ownership; a nil authorizer admits everyone.
type RoomAuthorizer interface {
	Authorize(ctx context.Context, userID, role string, room realtime.Room) error
}

// TicketOwnerResolver is the optional authorizer extension that maps a support
// room to its ticket owner for targeted summary pushes.
type TicketOwnerResolver interface {
	TicketOwner(ctx context.Context, ticketID string) string
}

// ConnectionOptions wraps metadata extracted during the websocket upgrade.
type ConnectionOptions struct {
	UserID        string
	Role          string
	CorrelationID string
	Context       context.Context
}

// ChatService runs the realtime hub: one multiplexed websocket per client,
// room join/leave routing, message persistence and fan-out.
type ChatService interface {
	ServeConnection(conn *websocket.Conn, opts ConnectionOptions)
	History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error)
	Send(ctx context.Context, senderID, senderRole string, payload dto.SendMessageRequest) (dto.ChatMessageResponse, error)
	Delete(ctx context.Context, requesterID, requesterRole, messageID string) error
	LastMessage(ctx context.Context, roomID string) (*dto.ChatMessageResponse, error)
	PushToUser(userID, event string, payload any)
	Start(ctx context.Context)
}

type chatService struct {
	repo        repository.ChatRepository
	authorizer  RoomAuthorizer
	redis       *redis.Client
	redisStream string
	redisCache  string
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	hub         *hub
	nodeID      string
}

// NewChatService creates the realtime hub service. channelBase namespaces the
// redis channel, cache prefix and NATS subject used for cross-node fan-out.
func NewChatService(repo repository.ChatRepository, authorizer RoomAuthorizer, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	stream := ""
	cachePrefix := ""
	natsSubject := ""
	if channelBase != "" {
		stream = channelBase + ":realtime"
		cachePrefix = channelBase + ":room:last"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".realtime"
	}

	return &chatService{
		repo:        repo,
		authorizer:  authorizer,
		redis:       redisClient,
		redisStream: stream,
		redisCache:  cachePrefix,
		nats:        natsConn,
		natsSubject: natsSubject,
		validator:   validate,
		logger:      logger.With().Str("component", "chat_service").Logger(),
		tracer:      otel.Tracer("github.com/roamsquad/roamsquad-go-api/internal/service/chat"),
		sanitizer:   sanitizer,
		hub:         newHub(logger),
		nodeID:      uuid.NewString(),
	}
}

func (s *chatService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *chatService) ServeConnection(conn *websocket.Conn, opts ConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &hubClient{
		conn:    conn,
		send:    make(chan realtime.Envelope, sendBufferSize),
		opts:    opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	s.hub.register(client)
	observability.Connections().Inc()
	defer observability.Connections().Dec()

	go client.writer()
	client.reader()
}

func (s *chatService) History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}
	if _, err := parseRoomKey(query.RoomID); err != nil {
		return nil, err
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.repo.ListByRoom(ctx, query.RoomID, before, query.Limit)
	if err != nil {
		return nil, err
	}
	return dto.NewChatMessageResponseSlice(messages), nil
}

// Send is the REST send path. The socket send path funnels into the same
// processSend so both confirmations look identical to clients.
func (s *chatService) Send(ctx context.Context, senderID, senderRole string, payload dto.SendMessageRequest) (dto.ChatMessageResponse, error) {
	room, err := parseRoomKey(strings.TrimSpace(payload.RoomID))
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}
	if err := s.authorize(ctx, senderID, senderRole, room); err != nil {
		return dto.ChatMessageResponse{}, err
	}
	return s.processSend(ctx, senderID, senderRole, payload)
}

func (s *chatService) Delete(ctx context.Context, requesterID, requesterRole, messageID string) error {
	message, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		return err
	}

	if message.SenderID != requesterID && requesterRole != models.RoleAdmin {
		return ErrNotMessageOwner
	}

	if err := s.repo.Delete(ctx, messageID); err != nil {
		return err
	}
	s.invalidateLastMessage(ctx, message.RoomID)

	data, err := json.Marshal(map[string]string{"message_id": messageID})
	if err != nil {
		return err
	}
	envelope := realtime.Envelope{Event: realtime.EventMessageDeleted, Data: data}
	s.hub.broadcastRoom(message.RoomID, envelope)
	s.publish(ctx, hubEvent{Event: realtime.EventMessageDeleted, RoomKey: message.RoomID, Data: data})
	return nil
}

// LastMessage returns the cached per-room summary, falling back to the
// repository on a cache miss.
func (s *chatService) LastMessage(ctx context.Context, roomID string) (*dto.ChatMessageResponse, error) {
	if cached := s.fetchLastMessage(ctx, roomID); cached != nil {
		return cached, nil
	}

	message, err := s.repo.LatestByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	response := dto.NewChatMessageResponse(message)
	s.cacheLastMessage(ctx, response)
	return &response, nil
}

// PushToUser delivers an event to every live connection of one user, on this
// node and on peers via the fan-out channel.
func (s *chatService) PushToUser(userID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("failed to marshal user push")
		return
	}
	envelope := realtime.Envelope{Event: event, Data: data}
	s.hub.broadcastUser(userID, envelope)
	s.publish(context.Background(), hubEvent{Event: event, UserID: userID, Data: data})
}

func (s *chatService) processSend(ctx context.Context, senderID, senderRole string, payload dto.SendMessageRequest) (dto.ChatMessageResponse, error) {
	payload.RoomID = strings.TrimSpace(payload.RoomID)
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	room, err := parseRoomKey(payload.RoomID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	kind := payload.Kind
	if kind == "" {
		kind = string(realtime.KindText)
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Body))
	if clean == "" && kind != string(realtime.KindImage) {
		return dto.ChatMessageResponse{}, fmt.Errorf("message body empty after sanitization")
	}
	if kind == string(realtime.KindImage) && payload.MediaURL == "" {
		return dto.ChatMessageResponse{}, fmt.Errorf("image message requires media_url")
	}

	role := models.RoleUser
	if senderRole == models.RoleAdmin {
		role = models.RoleAdmin
	}

	attrs := []attribute.KeyValue{
		attribute.String("chat.room_id", payload.RoomID),
		attribute.String("chat.sender_id", senderID),
		attribute.String("chat.kind", kind),
	}
	spanCtx, span := s.tracer.Start(ctx, "chat.broadcast", trace.WithAttributes(attrs...))
	defer span.End()

	model := models.ChatMessage{
		RoomID:     payload.RoomID,
		SenderID:   senderID,
		SenderRole: role,
		Body:       clean,
		Kind:       kind,
		MediaURL:   payload.MediaURL,
	}
	if err := s.repo.Save(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	response := dto.NewChatMessageResponse(model)
	s.cacheLastMessage(spanCtx, response)
	s.broadcastMessage(spanCtx, room, response)
	observability.MessagesSent().WithLabelValues(kind).Inc()

	return response, nil
}

// broadcastMessage fans a persisted message out as its receive_* event, plus
// the list-level support_chat_updated summary for support rooms.
func (s *chatService) broadcastMessage(ctx context.Context, room realtime.Room, message dto.ChatMessageResponse) {
	data, err := json.Marshal(receivePayload(room, message))
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal receive payload")
		return
	}

	event := receiveEventFor(room.Kind)
	s.hub.broadcastRoom(room.Key(), realtime.Envelope{Event: event, Data: data})
	s.publish(ctx, hubEvent{Event: event, RoomKey: room.Key(), Data: data})

	if room.Kind == realtime.RoomSupport {
		summary, err := json.Marshal(map[string]any{
			"chat_id":      room.ID,
			"last_message": message,
		})
		if err != nil {
			return
		}
		owner := ticketOwnerFromRoom(ctx, s, room)
		envelope := realtime.Envelope{Event: realtime.EventSupportChatUpdated, Data: summary}
		s.hub.broadcastRole(models.RoleAdmin, envelope)
		s.hub.broadcastUser(owner, envelope)
		s.publish(ctx, hubEvent{Event: realtime.EventSupportChatUpdated, Role: models.RoleAdmin, Data: summary})
		if owner != "" {
			s.publish(ctx, hubEvent{Event: realtime.EventSupportChatUpdated, UserID: owner, Data: summary})
		}
	}
}

func (s *chatService) authorize(ctx context.Context, userID, role string, room realtime.Room) error {
	if s.authorizer == nil {
		return nil
	}
	return s.authorizer.Authorize(ctx, userID, role, room)
}

func (s *chatService) cacheLastMessage(ctx context.Context, message dto.ChatMessageResponse) {
	if s.redis == nil || s.redisCache == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal message for cache")
		return
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, message.RoomID)
	if err := s.redis.Set(ctx, key, payload, lastMessageTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache last message")
	}
}

// invalidateLastMessage drops the cached summary so a deleted message never
// survives in list views; the next read repopulates from the repository.
func (s *chatService) invalidateLastMessage(ctx context.Context, roomID string) {
	if s.redis == nil || s.redisCache == "" {
		return
	}
	key := fmt.Sprintf("%s:%s", s.redisCache, roomID)
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to invalidate last message cache")
	}
}

func (s *chatService) fetchLastMessage(ctx context.Context, roomID string) *dto.ChatMessageResponse {
	if s.redis == nil || s.redisCache == "" {
		return nil
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, roomID)
	result, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return nil
	}

	var message dto.ChatMessageResponse
	if err := json.Unmarshal([]byte(result), &message); err != nil {
		s.logger.Warn().Err(err).Msg("failed to unmarshal cached message")
		return nil
	}
	return &message
}

// hubEvent replicates a local broadcast to peer nodes.
type hubEvent struct {
	Source  string          `json:"source"`
	Event   string          `json:"event"`
	RoomKey string          `json:"room_key,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Role    string          `json:"role,omitempty"`
	Data    json.RawMessage `json:"data"`
	SentAt  time.Time       `json:"sent_at"`
}

func (s *chatService) publish(ctx context.Context, event hubEvent) {
	event.Source = s.nodeID
	event.SentAt = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal hub event")
		return
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish hub event to redis")
		}
	}
	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish hub event to nats")
		}
	}
}

func (s *chatService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("realtime redis subscription closed")
			return
		}
		s.handlePeerEvent([]byte(msg.Payload))
	}
}

func (s *chatService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "roamsquad-realtime", func(msg *nats.Msg) {
		s.handlePeerEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats realtime subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain realtime nats subscription")
		}
	}()
}

func (s *chatService) handlePeerEvent(data []byte) {
	var event hubEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid hub event")
		return
	}
	if event.Source == s.nodeID {
		return
	}

	envelope := realtime.Envelope{Event: event.Event, Data: event.Data}
	switch {
	case event.RoomKey != "":
		s.hub.broadcastRoom(event.RoomKey, envelope)
	case event.UserID != "":
		s.hub.broadcastUser(event.UserID, envelope)
	case event.Role != "":
		s.hub.broadcastRole(event.Role, envelope)
	}
}

// parseRoomKey validates a namespaced room id of the form kind:id.
func parseRoomKey(roomID string) (realtime.Room, error) {
	parts := strings.SplitN(roomID, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return realtime.Room{}, ErrInvalidRoom
	}

	switch realtime.RoomKind(parts[0]) {
	case realtime.RoomTrip:
		return realtime.TripRoom(parts[1]), nil
	case realtime.RoomCommunity:
		return realtime.CommunityRoom(parts[1]), nil
	case realtime.RoomSupport:
		return realtime.SupportRoom(parts[1]), nil
	default:
		return realtime.Room{}, ErrInvalidRoom
	}
}

func receiveEventFor(kind realtime.RoomKind) string {
	switch kind {
	case realtime.RoomCommunity:
		return realtime.EventReceiveCommunityMessage
	case realtime.RoomSupport:
		return realtime.EventReceiveSupportMessage
	default:
		return realtime.EventReceiveMessage
	}
}

// receivePayload builds the wire payload of a receive_* broadcast.
func receivePayload(room realtime.Room, message dto.ChatMessageResponse) map[string]any {
	payload := map[string]any{
		"room_id":   room.Key(),
		"message":   message,
		"timestamp": message.CreatedAt,
	}
	switch room.Kind {
	case realtime.RoomCommunity:
		payload["community_id"] = room.ID
	case realtime.RoomSupport:
		payload["chat_id"] = room.ID
	default:
		payload["trip_id"] = room.ID
	}
	return payload
}

// ticketOwnerFromRoom resolves the ticket owner for summary pushes. The
// authorizer owns ticket data; when it cannot resolve, only admins get the
// summary.
func ticketOwnerFromRoom(ctx context.Context, s *chatService, room realtime.Room) string {
	resolver, ok := s.authorizer.(TicketOwnerResolver)
	if !ok {
		return ""
	}
	return resolver.TicketOwner(ctx, room.ID)
}
