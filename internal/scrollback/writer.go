package scrollback

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/chime-im/chime/internal/logging"
	"github.com/chime-im/chime/internal/protocol"
)

const writerBuffer = 256

// Writer applies cache writes on its own goroutine so the dispatcher never
// blocks on disk. Writes are fire-and-forget: failures and overflow are
// logged and dropped, since the cache only exists to warm the next startup.
//
// Writer implements dispatch.Archiver.
type Writer struct {
	store *Store
	ops   chan func(context.Context)
	done  chan struct{}
	log   zerolog.Logger
}

// NewWriter starts a writer over store. Call Close to drain and stop it.
func NewWriter(store *Store) *Writer {
	w := &Writer{
		store: store,
		ops:   make(chan func(context.Context), writerBuffer),
		done:  make(chan struct{}),
		log:   logging.Component("scrollback"),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	ctx := context.Background()
	for op := range w.ops {
		op(ctx)
	}
}

// Close drains pending writes and stops the writer goroutine.
func (w *Writer) Close() {
	close(w.ops)
	<-w.done
}

// RoomUpserted persists a room's name.
func (w *Writer) RoomUpserted(room protocol.RoomID, name string) {
	w.enqueue(func(ctx context.Context) {
		if err := w.store.SaveRoom(ctx, room, name); err != nil {
			w.log.Error().Err(err).Msg("cache write failed")
		}
	})
}

// MessageSaved persists one message.
func (w *Writer) MessageSaved(room protocol.RoomID, msg protocol.Message) {
	w.enqueue(func(ctx context.Context) {
		if err := w.store.SaveMessage(ctx, room, msg); err != nil {
			w.log.Error().Err(err).Msg("cache write failed")
		}
	})
}

// MessageRedacted flips the redacted flag on a cached message.
func (w *Writer) MessageRedacted(_ protocol.RoomID, target protocol.EventID) {
	w.enqueue(func(ctx context.Context) {
		if err := w.store.MarkRedacted(ctx, target); err != nil {
			w.log.Error().Err(err).Msg("cache write failed")
		}
	})
}

// UnreadChanged persists a room's unread count.
func (w *Writer) UnreadChanged(room protocol.RoomID, count int) {
	w.enqueue(func(ctx context.Context) {
		if err := w.store.SaveUnread(ctx, room, count); err != nil {
			w.log.Error().Err(err).Msg("cache write failed")
		}
	})
}

func (w *Writer) enqueue(op func(context.Context)) {
	select {
	case w.ops <- op:
	default:
		w.log.Warn().Msg("cache writer backlog full, write dropped")
	}
}
