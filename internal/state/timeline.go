// Package state holds the client-side view of joined rooms: per-room message
// timelines, the room registry, and the reaction/redaction overlay. All types
// here are mutated exclusively from the dispatcher goroutine and carry no
// locking of their own.
package state

import "github.com/chime-im/chime/internal/protocol"

// Timeline is an ordered, gap-aware message sequence for one room plus a
// selection index. Messages run oldest to newest. The selection index ranges
// over [0, len]; len means "no message selected", which doubles as the
// caret-following-the-live-edge position and the compose anchor.
//
// Timeline performs no deduplication; Room layers a seen-id set on top so the
// backward scans here stay testable against duplicate ids.
type Timeline struct {
	messages  []protocol.Message
	selection int
}

// Len returns the number of messages.
func (t *Timeline) Len() int { return len(t.messages) }

// Messages returns the backing slice, oldest first. Callers must not mutate.
func (t *Timeline) Messages() []protocol.Message { return t.messages }

// SelectionIndex returns the current selection position in [0, Len()].
func (t *Timeline) SelectionIndex() int { return t.selection }

// Selected returns the message under the selection, if any. An index of Len()
// means nothing is selected.
func (t *Timeline) Selected() (protocol.Message, bool) {
	if t.selection >= len(t.messages) {
		return protocol.Message{}, false
	}
	return t.messages[t.selection], true
}

// AtOldest reports whether the selection sits at the oldest loaded position,
// which is also true of an empty timeline. The dispatcher uses this as the
// trigger condition for backward pagination.
func (t *Timeline) AtOldest() bool {
	return t.selection == 0
}

// PushLive appends a message at the tail. If the selection was pinned past
// the end (auto-follow), it advances with the tail; otherwise it stays on the
// message it pointed at.
func (t *Timeline) PushLive(msg protocol.Message) {
	follow := t.selection == len(t.messages)
	t.messages = append(t.messages, msg)
	if follow {
		t.selection++
	}
}

// PushHistorical inserts a message at the head and shifts the selection by
// one so it keeps pointing at the same logical message. Pagination results
// must be fed in the server's returned order, each prepended in turn.
func (t *Timeline) PushHistorical(msg protocol.Message) {
	t.messages = append([]protocol.Message{msg}, t.messages...)
	t.selection++
}

// MoveSelection shifts the selection by delta, clamped to [0, Len()].
func (t *Timeline) MoveSelection(delta int) {
	t.selection += delta
	if t.selection < 0 {
		t.selection = 0
	}
	if t.selection > len(t.messages) {
		t.selection = len(t.messages)
	}
}

// SelectFirst moves the selection to the oldest loaded message.
func (t *Timeline) SelectFirst() {
	t.selection = 0
}

// SelectLast moves the selection past the newest message, re-enabling
// auto-follow.
func (t *Timeline) SelectLast() {
	t.selection = len(t.messages)
}

// Redact scans from the newest message backward and marks the first match
// redacted. Recent redactions overwhelmingly target recent messages. Returns
// false when no loaded message has the given id.
func (t *Timeline) Redact(target protocol.EventID) bool {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == target {
			t.messages[i].Redacted = true
			return true
		}
	}
	return false
}

// Reconcile replaces the provisional local echo carrying txnID with the
// confirmed message, in place, preserving timeline position and selection.
// Returns false when no pending echo matches.
func (t *Timeline) Reconcile(txnID string, msg protocol.Message) bool {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Local && t.messages[i].TxnID == txnID {
			t.messages[i] = msg
			return true
		}
	}
	return false
}

// Newest returns the most recent confirmed message, skipping provisional
// local echoes. Used for read-receipt targeting.
func (t *Timeline) Newest() (protocol.Message, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if !t.messages[i].Local {
			return t.messages[i], true
		}
	}
	return protocol.Message{}, false
}
