package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RoomKind identifies the broadcast scope a room belongs to. Each kind maps
// to its own join/leave event pair and payload key on the wire.
type RoomKind string

// Supported room kinds.
const (
	RoomTrip      RoomKind = "trip"
	RoomCommunity RoomKind = "community"
	RoomSupport   RoomKind = "support"
)

// Room is a logical broadcast scope: a trip squad, a community, or a support
// ticket chat.
type Room struct {
	Kind RoomKind
	ID   string
}

// TripRoom builds a trip-squad room reference.
func TripRoom(id string) Room { return Room{Kind: RoomTrip, ID: id} }

// CommunityRoom builds a community room reference.
func CommunityRoom(id string) Room { return Room{Kind: RoomCommunity, ID: id} }

// SupportRoom builds a support-ticket room reference.
func SupportRoom(id string) Room { return Room{Kind: RoomSupport, ID: id} }

// Key returns the namespace key used for local bookkeeping and server-side
// room routing.
func (r Room) Key() string { return string(r.Kind) + ":" + r.ID }

func (r Room) joinEvent() string {
	switch r.Kind {
	case RoomCommunity:
		return EventJoinCommunity
	case RoomSupport:
		return EventJoinSupportChat
	default:
		return EventJoinRoom
	}
}

func (r Room) leaveEvent() string {
	switch r.Kind {
	case RoomCommunity:
		return EventLeaveCommunity
	case RoomSupport:
		return EventLeaveSupportChat
	default:
		return EventLeaveRoom
	}
}

func (r Room) payload() map[string]string {
	switch r.Kind {
	case RoomCommunity:
		return map[string]string{"community_id": r.ID}
	case RoomSupport:
		return map[string]string{"chat_id": r.ID}
	default:
		return map[string]string{"trip_id": r.ID}
	}
}

// emitter is the slice of the connection manager the tracker depends on.
type emitter interface {
	Emit(event string, payload any) error
	On(event string, handler Handler) Subscription
}

type membership struct {
	room     Room
	joinedAt time.Time
	active   bool
}

// RoomTracker translates view lifecycle into join/leave emits and keeps room
// membership alive across reconnects: it binds to the manager's connect event
// and re-emits a join for every room still active, so a transient drop never
// silently severs a room's event stream.
type RoomTracker struct {
	conn   emitter
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*membership
}

// NewRoomTracker wires a tracker to the connection manager.
func NewRoomTracker(conn emitter, logger zerolog.Logger) *RoomTracker {
	t := &RoomTracker{
		conn:   conn,
		logger: logger.With().Str("component", "room_tracker").Logger(),
		rooms:  make(map[string]*membership),
	}
	conn.On(EventConnect, func(json.RawMessage) { t.rejoinActive() })
	return t
}

// Join enters a room's broadcast scope. Duplicate joins re-emit (the server
// tolerates them) but the local bookkeeping stays idempotent.
func (t *RoomTracker) Join(room Room) error {
	t.mu.Lock()
	entry, ok := t.rooms[room.Key()]
	if !ok {
		entry = &membership{room: room}
		t.rooms[room.Key()] = entry
	}
	if !entry.active {
		entry.active = true
		entry.joinedAt = time.Now()
	}
	t.mu.Unlock()

	return t.conn.Emit(room.joinEvent(), room.payload())
}

// Leave exits a room's scope. Emits exactly once per active membership; a
// leave for an inactive room is a no-op.
func (t *RoomTracker) Leave(room Room) error {
	t.mu.Lock()
	entry, ok := t.rooms[room.Key()]
	if !ok || !entry.active {
		t.mu.Unlock()
		return nil
	}
	entry.active = false
	t.mu.Unlock()

	return t.conn.Emit(room.leaveEvent(), room.payload())
}

// IsActive reports whether the client currently holds membership in the room.
func (t *RoomTracker) IsActive(room Room) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.rooms[room.Key()]
	return ok && entry.active
}

// Active returns the rooms currently joined.
func (t *RoomTracker) Active() []Room {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Room, 0, len(t.rooms))
	for _, entry := range t.rooms {
		if entry.active {
			out = append(out, entry.room)
		}
	}
	return out
}

func (t *RoomTracker) rejoinActive() {
	for _, room := range t.Active() {
		if err := t.conn.Emit(room.joinEvent(), room.payload()); err != nil {
			t.logger.Warn().Err(err).Str("room", room.Key()).Msg("re-join emit failed")
		} else {
			t.logger.Debug().Str("room", room.Key()).Msg("re-joined after reconnect")
		}
	}
}
