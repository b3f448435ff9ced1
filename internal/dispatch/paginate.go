package dispatch

import (
	"context"

	"github.com/chime-im/chime/internal/protocol"
	"github.com/chime-im/chime/internal/state"
)

// triggerPagination consumes the room's cursor and spawns one backward
// history fetch. Consuming the cursor before the request leaves the room with
// no cursor while the fetch is in flight, so a second trigger cannot issue a
// concurrent fetch for the same room.
func (d *Dispatcher) triggerPagination(ctx context.Context, room *state.Room) {
	token, ok := room.TakeCursor()
	if !ok {
		return
	}
	roomID := room.ID
	go d.fetchHistory(ctx, roomID, token)
}

// fetchHistory runs outside the dispatcher goroutine and feeds its results
// back through the protocol-event channel: first the advanced cursor, then
// one event per returned message and reaction, in server order.
//
// On failure the cursor stays consumed: pagination at this boundary stalls
// until a fresh token arrives through sync. Deliberately no automatic retry;
// scrolling up again after the next cursor event re-triggers the fetch.
func (d *Dispatcher) fetchHistory(ctx context.Context, roomID protocol.RoomID, token string) {
	log := d.log.With().Str("room", string(roomID)).Logger()

	page, err := d.svc.FetchHistory(ctx, roomID, token, d.pageSize)
	if err != nil {
		log.Error().Err(err).Msg("history fetch failed")
		return
	}

	if page.NextCursor != "" {
		if !d.sendProtocol(ctx, protocol.PrevBatch{Room: roomID, Token: page.NextCursor}) {
			return
		}
	}
	for _, msg := range page.Messages {
		if !d.sendProtocol(ctx, protocol.OldMessage{Room: roomID, Message: msg}) {
			return
		}
	}
	for _, reaction := range page.Reactions {
		if !d.sendProtocol(ctx, reaction) {
			return
		}
	}
	log.Debug().Int("messages", len(page.Messages)).Int("reactions", len(page.Reactions)).
		Msg("history page applied")
}

func (d *Dispatcher) sendProtocol(ctx context.Context, ev protocol.Event) bool {
	select {
	case d.protocolCh <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
