// Package dispatch contains the single-threaded event loop that owns all
// client state. Two channels feed it: protocol events from the transport
// subscription (plus pagination results looped back) and local events from
// the terminal. The loop applies exactly one event at a time to the room
// registry and overlay store, then hands a read-only snapshot to the
// renderer. Nothing else in the process mutates that state.
package dispatch

// LocalEvent is a user- or terminal-originated event.
type LocalEvent interface{ isLocal() }

// InputRune appends one character to the compose buffer.
type InputRune struct {
	Rune rune
}

// InputBackspace removes the final character of the compose buffer.
type InputBackspace struct{}

// InputClear empties the compose buffer.
type InputClear struct{}

// Submit sends the compose buffer to the current room, quoting the selected
// message when one is selected.
type Submit struct{}

// MoveSelection shifts the timeline selection; negative deltas move toward
// older messages. Moving up while already at the oldest loaded message
// triggers backward pagination instead.
type MoveSelection struct {
	Delta int
}

// SelectFirst jumps the selection to the oldest loaded message.
type SelectFirst struct{}

// SelectLast jumps the selection past the newest message, resuming
// auto-follow.
type SelectLast struct{}

// DeleteSelected redacts the currently selected message.
type DeleteSelected struct{}

// CycleRoom switches the current room, wrapping around the registry.
type CycleRoom struct {
	Delta int
}

// Resize reports a terminal size change; it only forces a redraw.
type Resize struct {
	Width  int
	Height int
}

// Tick fires periodically so time-based UI elements stay fresh even with no
// other events.
type Tick struct{}

// Quit terminates the event loop.
type Quit struct{}

func (InputRune) isLocal()      {}
func (InputBackspace) isLocal() {}
func (InputClear) isLocal()     {}
func (Submit) isLocal()         {}
func (MoveSelection) isLocal()  {}
func (SelectFirst) isLocal()    {}
func (SelectLast) isLocal()     {}
func (DeleteSelected) isLocal() {}
func (CycleRoom) isLocal()      {}
func (Resize) isLocal()         {}
func (Tick) isLocal()           {}
func (Quit) isLocal()           {}
