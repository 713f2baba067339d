package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler merges the three message sources a chat surface sees (fetched
// history, optimistic local sends and socket broadcasts) into one
// de-duplicated, arrival-ordered list per room.
//
// Rules:
//   - An incoming message whose server id is already present is discarded,
//     whichever path delivered it first (REST response or socket echo).
//   - A confirmed message replaces the oldest pending entry in its room with
//     a matching sender and body, consuming at most one pending slot, so two
//     identical optimistic sends never collapse into one.
//   - Messages append at the tail in arrival order; the list is never
//     re-sorted. Out-of-order delivery is tolerated, not corrected.
//   - The per-room last-message summary updates even for rooms that are not
//     open, so list views stay current without a mounted message list.
//
// The reconciler never drops a message it cannot match: an unmatched
// confirmed message is appended rather than discarded. All methods take the
// internal lock and never invoke callbacks, so a send triggered from within a
// receive handler serialises instead of nesting.
type Reconciler struct {
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*roomList
	seq   uint64
}

// roomList holds one room's ordered entries plus an id index keeping merges
// O(1) amortised instead of a full scan per receive.
type roomList struct {
	open    bool
	entries []Message
	byID    map[string]int
	last    *Message
}

// NewReconciler creates an empty reconciliation engine.
func NewReconciler(logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		logger: logger.With().Str("component", "reconciler").Logger(),
		rooms:  make(map[string]*roomList),
	}
}

// Open marks a room's message list as mounted: subsequent broadcasts for the
// room append to its list. Idempotent.
func (r *Reconciler) Open(roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room(roomKey).open = true
}

// Close unmounts a room's list. Entries are released and later broadcasts
// stop appending, which is the cancellation behaviour navigation requires;
// the last-message summary is kept for list views.
func (r *Reconciler) Close(roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomKey]
	if !ok {
		return
	}
	room.open = false
	room.entries = nil
	room.byID = make(map[string]int)
}

// Prime merges a fetched history page into the room. History arrives
// server-ordered and is placed ahead of anything the socket already
// delivered; entries whose id is already present are discarded.
func (r *Reconciler) Prime(roomKey string, history []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.room(roomKey)
	fresh := make([]Message, 0, len(history))
	for _, msg := range history {
		if msg.ID == "" {
			continue
		}
		if _, dup := room.byID[msg.ID]; dup {
			continue
		}
		msg.State = StateConfirmed
		fresh = append(fresh, msg)
		// Reserve the id so a duplicate inside the page itself is dropped too.
		room.byID[msg.ID] = -1
	}

	room.entries = append(fresh, room.entries...)
	room.reindex()
	if tail := room.tail(); tail != nil {
		room.setLast(*tail)
	}
}

// AppendPending records an optimistic local send and returns the pending
// message carrying its temporary id.
func (r *Reconciler) AppendPending(roomKey, senderID, body string, kind MessageKind, mediaURL string) Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	msg := Message{
		ID:        fmt.Sprintf("temp-%d-%d", time.Now().UnixMilli(), r.seq),
		RoomID:    roomKey,
		SenderID:  senderID,
		Body:      body,
		Kind:      kind,
		MediaURL:  mediaURL,
		Timestamp: time.Now(),
		State:     StatePending,
	}

	room := r.room(roomKey)
	room.byID[msg.ID] = len(room.entries)
	room.entries = append(room.entries, msg)
	return msg
}

// ConfirmSend resolves a pending entry using the send API's response. When
// the socket echo arrived first the confirmed message already exists; the
// pending entry is removed instead of appended twice.
func (r *Reconciler) ConfirmSend(roomKey, tempID string, confirmed Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.room(roomKey)
	confirmed.State = StateConfirmed

	if _, dup := room.byID[confirmed.ID]; dup && confirmed.ID != "" {
		room.remove(tempID)
		room.setLast(confirmed)
		return
	}

	if idx, ok := room.byID[tempID]; ok && idx >= 0 {
		delete(room.byID, tempID)
		room.entries[idx] = confirmed
		room.byID[confirmed.ID] = idx
	} else if room.open {
		room.byID[confirmed.ID] = len(room.entries)
		room.entries = append(room.entries, confirmed)
	}
	room.setLast(confirmed)
}

// FailPending flags a pending entry whose send attempt errored so the caller
// can surface a retry. The entry is never left silently pending.
func (r *Reconciler) FailPending(roomKey, tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomKey]
	if !ok {
		return false
	}
	idx, ok := room.byID[tempID]
	if !ok || idx < 0 {
		return false
	}
	room.entries[idx].State = StateFailed
	return true
}

// Drop removes a message (pending, failed or confirmed) from a room's list.
func (r *Reconciler) Drop(roomKey, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomKey]
	if !ok {
		return false
	}
	return room.remove(id)
}

// Ingest merges a server broadcast. The room's last-message summary updates
// regardless of whether its list is open; the list itself only changes while
// mounted.
func (r *Reconciler) Ingest(roomKey string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.room(roomKey)
	msg.State = StateConfirmed

	if msg.ID != "" {
		if _, dup := room.byID[msg.ID]; dup {
			return
		}
	}

	room.setLast(msg)
	if !room.open {
		return
	}

	// Oldest pending entry from the same sender with the same body consumes
	// this confirmation. Body equality is an approximation, not a correlation
	// id, so at most one slot is ever consumed.
	for idx, entry := range room.entries {
		if entry.State != StatePending || entry.SenderID != msg.SenderID || entry.Body != msg.Body {
			continue
		}
		delete(room.byID, entry.ID)
		room.entries[idx] = msg
		if msg.ID != "" {
			room.byID[msg.ID] = idx
		}
		return
	}

	if msg.ID != "" {
		room.byID[msg.ID] = len(room.entries)
	}
	room.entries = append(room.entries, msg)
}

// RemoveByID handles a deletion broadcast, which carries only the message id.
func (r *Reconciler) RemoveByID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		if room.remove(id) {
			if room.last != nil && room.last.ID == id {
				if tail := room.tail(); tail != nil {
					room.setLast(*tail)
				} else {
					room.last = nil
				}
			}
			return
		}
	}
}

// SetLastMessage overrides a room's summary, used by list-level update
// events for rooms without a mounted message list.
func (r *Reconciler) SetLastMessage(roomKey string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room(roomKey).setLast(msg)
}

// Messages returns a snapshot of a room's ordered list.
func (r *Reconciler) Messages(roomKey string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomKey]
	if !ok {
		return nil
	}
	out := make([]Message, len(room.entries))
	copy(out, room.entries)
	return out
}

// LastMessage returns the room's cached summary entry.
func (r *Reconciler) LastMessage(roomKey string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomKey]
	if !ok || room.last == nil {
		return Message{}, false
	}
	return *room.last, true
}

func (r *Reconciler) room(key string) *roomList {
	room, ok := r.rooms[key]
	if !ok {
		room = &roomList{byID: make(map[string]int)}
		r.rooms[key] = room
	}
	return room
}

func (l *roomList) reindex() {
	l.byID = make(map[string]int, len(l.entries))
	for idx, entry := range l.entries {
		if entry.ID == "" {
			continue
		}
		l.byID[entry.ID] = idx
	}
}

func (l *roomList) remove(id string) bool {
	idx, ok := l.byID[id]
	if !ok || idx < 0 {
		return false
	}
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	l.reindex()
	return true
}

func (l *roomList) setLast(msg Message) {
	copyMsg := msg
	l.last = &copyMsg
}

func (l *roomList) tail() *Message {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].State == StateConfirmed {
			return &l.entries[i]
		}
	}
	return nil
}
