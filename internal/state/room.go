package state

import "github.com/chime-im/chime/internal/protocol"

// Room is one joined conversation: identity, display name, timeline, unread
// count and the backward-pagination cursor.
//
// The cursor collapses "no more history" and "fetch in flight" into the empty
// string; it is consumed the moment a fetch is dispatched, which is what
// prevents duplicate concurrent fetches for the same room.
type Room struct {
	ID       protocol.RoomID
	Name     string
	Timeline Timeline
	Unread   int

	cursor string
	seen   map[protocol.EventID]struct{}
}

// NewRoom creates an empty room.
func NewRoom(id protocol.RoomID, name string) *Room {
	return &Room{
		ID:   id,
		Name: name,
		seen: make(map[protocol.EventID]struct{}),
	}
}

// AddLive folds a live message into the timeline. Duplicate deliveries of an
// already-seen id are rejected. A message carrying the transaction id of a
// pending local echo reconciles that echo in place instead of appending.
// Returns true when the timeline changed.
func (r *Room) AddLive(msg protocol.Message) bool {
	if r.isSeen(msg.ID) {
		return false
	}
	if msg.TxnID != "" && r.Timeline.Reconcile(msg.TxnID, msg) {
		r.markSeen(msg.ID)
		return true
	}
	r.markSeen(msg.ID)
	r.Timeline.PushLive(msg)
	return true
}

// AddHistorical folds a paginated message in at the head, rejecting ids the
// room has already seen (a page can overlap the live stream).
func (r *Room) AddHistorical(msg protocol.Message) bool {
	if r.isSeen(msg.ID) {
		return false
	}
	r.markSeen(msg.ID)
	r.Timeline.PushHistorical(msg)
	return true
}

// AddLocalEcho appends a provisional, not-yet-confirmed message at the tail.
// Its id is not recorded as seen; the confirmed id arrives with the echo.
func (r *Room) AddLocalEcho(msg protocol.Message) {
	r.Timeline.PushLive(msg)
}

// TakeCursor consumes the pagination cursor. ok is false when there is no
// cursor, either because history is exhausted or because a fetch is already
// in flight.
func (r *Room) TakeCursor() (token string, ok bool) {
	if r.cursor == "" {
		return "", false
	}
	token = r.cursor
	r.cursor = ""
	return token, true
}

// SetCursor stores the server-supplied continuation token. An empty token
// leaves the room with no cursor, stalling pagination at this boundary until
// a fresh token arrives.
func (r *Room) SetCursor(token string) {
	r.cursor = token
}

// HasCursor reports whether a pagination fetch could be dispatched now.
func (r *Room) HasCursor() bool { return r.cursor != "" }

func (r *Room) isSeen(id protocol.EventID) bool {
	if id == "" {
		return false
	}
	_, ok := r.seen[id]
	return ok
}

func (r *Room) markSeen(id protocol.EventID) {
	if id == "" {
		return
	}
	if r.seen == nil {
		r.seen = make(map[protocol.EventID]struct{})
	}
	r.seen[id] = struct{}{}
}
