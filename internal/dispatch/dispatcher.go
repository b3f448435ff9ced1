package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chime-im/chime/internal/logging"
	"github.com/chime-im/chime/internal/protocol"
	"github.com/chime-im/chime/internal/state"
)

const (
	defaultPageSize        = 50
	defaultChannelCapacity = 256
)

// Archiver receives fire-and-forget persistence notifications from the loop.
// Implementations must not block; failures are theirs to log.
type Archiver interface {
	RoomUpserted(room protocol.RoomID, name string)
	MessageSaved(room protocol.RoomID, msg protocol.Message)
	MessageRedacted(room protocol.RoomID, target protocol.EventID)
	UnreadChanged(room protocol.RoomID, count int)
}

// Config wires a Dispatcher.
type Config struct {
	// Service is the transport the loop issues outgoing requests against.
	Service protocol.Service

	// Renderer receives a snapshot after every applied event.
	Renderer Renderer

	// Self is the local user, used as the sender of provisional echoes.
	Self protocol.UserID

	// Registry may arrive pre-seeded from the scrollback cache.
	Registry *state.Registry

	// Archiver is optional; nil disables persistence.
	Archiver Archiver

	// PageSize bounds backward history fetches.
	PageSize int
}

// Dispatcher is the sole owner and mutator of client state. Run folds events
// from the protocol and local channels one at a time; producers only ever
// send.
type Dispatcher struct {
	svc      protocol.Service
	renderer Renderer
	archive  Archiver
	registry *state.Registry
	overlay  *state.Overlay
	input    inputBuffer
	self     protocol.UserID
	pageSize int

	protocolCh chan protocol.Event
	localCh    chan LocalEvent

	log zerolog.Logger
}

// New creates a Dispatcher. The protocol channel also receives pagination
// results looped back by the coordinator.
func New(cfg Config) *Dispatcher {
	registry := cfg.Registry
	if registry == nil {
		registry = state.NewRegistry()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = RendererFunc(func(Snapshot) {})
	}
	return &Dispatcher{
		svc:        cfg.Service,
		renderer:   renderer,
		archive:    cfg.Archiver,
		registry:   registry,
		overlay:    state.NewOverlay(),
		self:       cfg.Self,
		pageSize:   pageSize,
		protocolCh: make(chan protocol.Event, defaultChannelCapacity),
		localCh:    make(chan LocalEvent, defaultChannelCapacity),
		log:        logging.Component("dispatch"),
	}
}

// LocalEvents returns the sending half used by the terminal frontend.
func (d *Dispatcher) LocalEvents() chan<- LocalEvent { return d.localCh }

// ProtocolEvents returns the sending half used by the sync forwarder and the
// pagination coordinator.
func (d *Dispatcher) ProtocolEvents() chan<- protocol.Event { return d.protocolCh }

// Run subscribes to the transport and folds events until a Quit event
// arrives, ctx is cancelled, or both input channels are closed. One event is
// applied at a time; a snapshot goes to the renderer after each.
func (d *Dispatcher) Run(ctx context.Context) error {
	stream, err := d.svc.SubscribeLive(ctx)
	if err != nil {
		return err
	}
	go d.forwardLive(ctx, stream)

	d.renderer.Render(d.snapshot())

	protocolCh := d.protocolCh
	localCh := d.localCh
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-protocolCh:
			if !ok {
				protocolCh = nil
				break
			}
			d.applyProtocol(ev)
		case ev, ok := <-localCh:
			if !ok {
				localCh = nil
				break
			}
			if !d.applyLocal(ctx, ev) {
				return nil
			}
		}
		if protocolCh == nil && localCh == nil {
			return nil
		}
		d.renderer.Render(d.snapshot())
	}
}

// forwardLive copies subscription events into the protocol channel. It exits
// quietly when the stream ends or ctx is cancelled; the loop itself keeps
// serving local events either way.
func (d *Dispatcher) forwardLive(ctx context.Context, stream <-chan protocol.Event) {
	for ev := range stream {
		select {
		case d.protocolCh <- ev:
		case <-ctx.Done():
			return
		}
	}
	d.log.Debug().Msg("live subscription ended")
}

func (d *Dispatcher) applyProtocol(ev protocol.Event) {
	switch typed := ev.(type) {
	case protocol.RoomName:
		d.registry.Upsert(typed.Room, typed.Name)
		if d.archive != nil {
			d.archive.RoomUpserted(typed.Room, typed.Name)
		}
	case protocol.NewMessage:
		room, ok := d.registry.Find(typed.Room)
		if !ok {
			// Metadata for a room normally precedes its first message; when
			// it does not, the message is dropped.
			d.log.Warn().Str("room", string(typed.Room)).Str("event", string(typed.Message.ID)).
				Msg("live message for unknown room dropped")
			return
		}
		if room.AddLive(typed.Message) {
			d.settleMessage(room, typed.Message)
		}
	case protocol.OldMessage:
		room, ok := d.registry.Find(typed.Room)
		if !ok {
			d.log.Warn().Str("room", string(typed.Room)).Msg("historical message for unknown room dropped")
			return
		}
		if room.AddHistorical(typed.Message) {
			d.settleMessage(room, typed.Message)
		}
	case protocol.Notifications:
		if room, ok := d.registry.Find(typed.Room); ok {
			room.Unread = typed.Count
			if d.archive != nil {
				d.archive.UnreadChanged(typed.Room, typed.Count)
			}
		}
	case protocol.Reaction:
		d.overlay.RecordReaction(typed.Target, typed.Key, typed.Sender)
	case protocol.Redaction:
		room, _ := d.registry.Find(typed.Room)
		if d.overlay.ApplyRedaction(room, typed.Target) && d.archive != nil {
			d.archive.MessageRedacted(typed.Room, typed.Target)
		}
	case protocol.PrevBatch:
		if room, ok := d.registry.Find(typed.Room); ok {
			room.SetCursor(typed.Token)
		}
	default:
		d.log.Debug().Type("event", ev).Msg("unrecognized protocol event skipped")
	}
}

// settleMessage runs the bookkeeping shared by live and historical inserts:
// parked redactions are replayed and the message is persisted.
func (d *Dispatcher) settleMessage(room *state.Room, msg protocol.Message) {
	if d.overlay.ApplyPending(msg.ID) {
		room.Timeline.Redact(msg.ID)
		msg.Redacted = true
	}
	if d.archive != nil {
		d.archive.MessageSaved(room.ID, msg)
	}
}

func (d *Dispatcher) applyLocal(ctx context.Context, ev LocalEvent) bool {
	switch typed := ev.(type) {
	case InputRune:
		d.input.Append(typed.Rune)
	case InputBackspace:
		d.input.Backspace()
	case InputClear:
		d.input.Reset()
	case Submit:
		d.handleSubmit(ctx)
	case MoveSelection:
		d.handleMoveSelection(ctx, typed.Delta)
	case SelectFirst:
		if room, ok := d.registry.Current(); ok {
			room.Timeline.SelectFirst()
		}
	case SelectLast:
		if room, ok := d.registry.Current(); ok {
			room.Timeline.SelectLast()
		}
	case DeleteSelected:
		d.handleDeleteSelected(ctx)
	case CycleRoom:
		d.registry.CycleCurrent(typed.Delta)
	case Resize, Tick:
		// Redraw only.
	case Quit:
		return false
	}
	return true
}

// handleMoveSelection moves the selection, except that moving up while
// already on the oldest loaded message triggers backward pagination when a
// cursor is available.
func (d *Dispatcher) handleMoveSelection(ctx context.Context, delta int) {
	room, ok := d.registry.Current()
	if !ok {
		return
	}
	if delta < 0 && room.Timeline.AtOldest() && room.HasCursor() {
		d.triggerPagination(ctx, room)
		return
	}
	room.Timeline.MoveSelection(delta)
}

func (d *Dispatcher) handleSubmit(ctx context.Context) {
	room, ok := d.registry.Current()
	if !ok || d.input.Len() == 0 {
		return
	}

	body := d.input.String()
	var replyTo protocol.EventID
	if quoted, selected := room.Timeline.Selected(); selected {
		body = FormatReply(quoted, body)
		replyTo = quoted.ID
	}
	receiptTarget, hasReceipt := room.Timeline.Newest()

	txnID := uuid.NewString()
	room.AddLocalEcho(protocol.Message{
		ID:        protocol.EventID("~" + txnID),
		Sender:    d.self,
		Body:      body,
		Timestamp: time.Now().UTC(),
		Local:     true,
		TxnID:     txnID,
	})
	d.input.Reset()

	roomID := room.ID
	d.fireAndForget(ctx, "send message", func(ctx context.Context) error {
		return d.svc.SendMessage(ctx, roomID, body, replyTo, txnID)
	})
	if hasReceipt {
		upTo := receiptTarget.ID
		d.fireAndForget(ctx, "send read receipt", func(ctx context.Context) error {
			return d.svc.SendReadReceipt(ctx, roomID, upTo)
		})
	}
}

func (d *Dispatcher) handleDeleteSelected(ctx context.Context) {
	room, ok := d.registry.Current()
	if !ok {
		return
	}
	target, selected := room.Timeline.Selected()
	if !selected || target.Local {
		return
	}
	roomID := room.ID
	token := uuid.NewString()
	d.fireAndForget(ctx, "redact", func(ctx context.Context) error {
		return d.svc.Redact(ctx, roomID, target.ID, token)
	})
}

// fireAndForget runs one outgoing request in its own goroutine. Failures are
// logged and dropped; the result reappears, if at all, as a live event.
func (d *Dispatcher) fireAndForget(ctx context.Context, op string, fn func(context.Context) error) {
	go func() {
		if err := fn(ctx); err != nil {
			d.log.Error().Err(err).Str("op", op).Msg("outgoing request failed")
		}
	}()
}

// inputBuffer is the pending compose text.
type inputBuffer struct {
	runes []rune
}

func (b *inputBuffer) Append(r rune)  { b.runes = append(b.runes, r) }
func (b *inputBuffer) Len() int       { return len(b.runes) }
func (b *inputBuffer) String() string { return string(b.runes) }
func (b *inputBuffer) Reset()         { b.runes = b.runes[:0] }

func (b *inputBuffer) Backspace() {
	if len(b.runes) > 0 {
		b.runes = b.runes[:len(b.runes)-1]
	}
}
