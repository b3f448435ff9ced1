package state

import "github.com/chime-im/chime/internal/protocol"

// Registry is the insertion-ordered set of known rooms plus the current-room
// cursor. Rooms are created on first observation and live until process
// teardown.
type Registry struct {
	rooms   []*Room
	byID    map[protocol.RoomID]*Room
	current int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[protocol.RoomID]*Room)}
}

// Upsert creates a room on first sight, appending it to registry order, or
// updates the display name of an existing one. Returns the room either way.
func (g *Registry) Upsert(id protocol.RoomID, name string) *Room {
	if room, ok := g.byID[id]; ok {
		room.Name = name
		return room
	}
	room := NewRoom(id, name)
	g.rooms = append(g.rooms, room)
	g.byID[id] = room
	return room
}

// Find looks a room up by id.
func (g *Registry) Find(id protocol.RoomID) (*Room, bool) {
	room, ok := g.byID[id]
	return room, ok
}

// Current returns the room under the cursor. ok is false only while the
// registry is empty, which is a valid state right after startup.
func (g *Registry) Current() (*Room, bool) {
	if len(g.rooms) == 0 {
		return nil, false
	}
	return g.rooms[g.current], true
}

// CurrentIndex returns the position of the current room in registry order.
func (g *Registry) CurrentIndex() int { return g.current }

// CycleCurrent advances the current-room cursor by delta, wrapping modulo the
// registry size. No-op on an empty registry.
func (g *Registry) CycleCurrent(delta int) {
	n := len(g.rooms)
	if n == 0 {
		return
	}
	g.current = ((g.current+delta)%n + n) % n
}

// Len returns the number of known rooms.
func (g *Registry) Len() int { return len(g.rooms) }

// Rooms returns all rooms in insertion order. Callers must not mutate.
func (g *Registry) Rooms() []*Room { return g.rooms }
