package dispatch

import (
	"github.com/chime-im/chime/internal/state"
)

// Snapshot is the read-only rendering contract handed to the renderer after
// every applied event. It carries no references into live state; the renderer
// may keep it across frames.
type Snapshot struct {
	Rooms    []RoomEntry
	Timeline []TimelineEntry

	// CurrentRoom is the display name of the current room, empty before the
	// first room is known.
	CurrentRoom string

	// Input is the compose buffer; InputWidth is the caret column in runes.
	Input      string
	InputWidth int

	// Replying is set when a submit right now would quote a selected message.
	Replying bool

	// MoreHistory reports that the current room has a pagination cursor, so
	// scrolling past the top can load further back.
	MoreHistory bool
}

// RoomEntry is one row of the room strip.
type RoomEntry struct {
	Name    string
	Unread  int
	Current bool
}

// TimelineEntry is one formatted row of the current room's timeline.
type TimelineEntry struct {
	Sender    string
	Body      string
	Reactions []state.ReactionCount
	Redacted  bool
	Selected  bool
	Pending   bool
}

// Renderer consumes snapshots. Render must not block the dispatcher; the
// terminal frontend forwards snapshots into its own program loop.
type Renderer interface {
	Render(Snapshot)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(Snapshot)

// Render calls f.
func (f RendererFunc) Render(s Snapshot) { f(s) }

func (d *Dispatcher) snapshot() Snapshot {
	snap := Snapshot{
		Input:      d.input.String(),
		InputWidth: d.input.Len(),
	}
	snap.Rooms = make([]RoomEntry, 0, d.registry.Len())
	for i, room := range d.registry.Rooms() {
		snap.Rooms = append(snap.Rooms, RoomEntry{
			Name:    room.Name,
			Unread:  room.Unread,
			Current: i == d.registry.CurrentIndex(),
		})
	}

	room, ok := d.registry.Current()
	if !ok {
		return snap
	}
	snap.CurrentRoom = room.Name
	snap.MoreHistory = room.HasCursor()
	_, snap.Replying = room.Timeline.Selected()

	selIdx := room.Timeline.SelectionIndex()
	msgs := room.Timeline.Messages()
	snap.Timeline = make([]TimelineEntry, 0, len(msgs))
	for i, m := range msgs {
		snap.Timeline = append(snap.Timeline, TimelineEntry{
			Sender:    m.Sender.Localpart(),
			Body:      m.Body,
			Reactions: d.overlay.Reactions(m.ID),
			Redacted:  m.Redacted,
			Selected:  i == selIdx,
			Pending:   m.Local,
		})
	}
	return snap
}
