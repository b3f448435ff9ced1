package state

import (
	"sort"

	"github.com/chime-im/chime/internal/protocol"
)

// Overlay stores reaction aggregates and pending redactions keyed by event
// id, independent of which timeline currently holds the target message.
// Reaction and redaction events may reference messages that have not arrived
// yet, or that sit many pages back in history.
type Overlay struct {
	reactions map[protocol.EventID]map[string]map[protocol.UserID]struct{}

	// pendingRedactions holds redaction targets whose message was not loaded
	// when the redaction arrived; applied if the message shows up later.
	pendingRedactions map[protocol.EventID]struct{}
}

// ReactionCount is one emoji aggregate on one event.
type ReactionCount struct {
	Key   string
	Count int
}

// NewOverlay creates an empty overlay store.
func NewOverlay() *Overlay {
	return &Overlay{
		reactions:         make(map[protocol.EventID]map[string]map[protocol.UserID]struct{}),
		pendingRedactions: make(map[protocol.EventID]struct{}),
	}
}

// RecordReaction adds user to the (target, key) set. Idempotent per
// (target, key, user) triple: redundant deliveries collapse.
func (o *Overlay) RecordReaction(target protocol.EventID, key string, user protocol.UserID) {
	byKey, ok := o.reactions[target]
	if !ok {
		byKey = make(map[string]map[protocol.UserID]struct{})
		o.reactions[target] = byKey
	}
	users, ok := byKey[key]
	if !ok {
		users = make(map[protocol.UserID]struct{})
		byKey[key] = users
	}
	users[user] = struct{}{}
}

// Reactions returns the aggregates for an event, sorted by key for stable
// rendering. Nil when the event has none.
func (o *Overlay) Reactions(target protocol.EventID) []ReactionCount {
	byKey := o.reactions[target]
	if len(byKey) == 0 {
		return nil
	}
	out := make([]ReactionCount, 0, len(byKey))
	for key, users := range byKey {
		out = append(out, ReactionCount{Key: key, Count: len(users)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ApplyRedaction marks the target message redacted in the room's timeline,
// scanning newest-first. When the message is not loaded the redaction is
// parked and replayed by ApplyPending if the message arrives later.
func (o *Overlay) ApplyRedaction(room *Room, target protocol.EventID) bool {
	if room != nil && room.Timeline.Redact(target) {
		return true
	}
	o.pendingRedactions[target] = struct{}{}
	return false
}

// ApplyPending consumes a parked redaction for id, if one exists. Callers
// invoke it for every newly added message and flip Redacted on a hit.
func (o *Overlay) ApplyPending(id protocol.EventID) bool {
	if _, ok := o.pendingRedactions[id]; !ok {
		return false
	}
	delete(o.pendingRedactions, id)
	return true
}
