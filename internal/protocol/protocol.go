// Package protocol defines the contract between chime and a chat transport.
//
// The transport (homeserver sync, encryption, federation) is a black box to
// the rest of the client: it delivers Events over a long-lived subscription,
// answers single-shot backward history fetches, and accepts fire-and-forget
// send/redact/receipt requests. Everything else in chime works purely in
// terms of the types in this package.
package protocol

import (
	"context"
	"strings"
	"time"
)

// RoomID identifies a conversation. Opaque, supplied by the transport.
type RoomID string

// UserID identifies a user on the network. Opaque, supplied by the transport.
type UserID string

// EventID identifies a single timeline event. Opaque, supplied by the
// transport; locally-echoed messages carry a provisional id until the live
// echo arrives (see Message.Local).
type EventID string

// Localpart returns the user-facing portion of the id: "@alice:example.org"
// becomes "alice". Ids without the federated form are returned unchanged.
func (u UserID) Localpart() string {
	s := strings.TrimPrefix(string(u), "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Message is a single renderable timeline entry.
type Message struct {
	ID        EventID
	Sender    UserID
	Body      string
	Timestamp time.Time

	// Redacted is the only field mutated after creation, flipped by a later
	// redaction event.
	Redacted bool

	// Local marks a provisional local echo that has not yet been confirmed
	// by the transport.
	Local bool

	// TxnID is the client transaction id attached to messages this client
	// sent; the live echo carries it back so the provisional entry can be
	// reconciled in place.
	TxnID string
}

// Event is a single item delivered by the live subscription or synthesized
// by a pagination fetch.
type Event interface{ isEvent() }

// RoomName announces a room's existence or a display-name change.
type RoomName struct {
	Room RoomID
	Name string
}

// NewMessage is a live message appended at the timeline tail.
type NewMessage struct {
	Room    RoomID
	Message Message
}

// OldMessage is a paginated historical message, prepended at the head.
type OldMessage struct {
	Room    RoomID
	Message Message
}

// Notifications overwrites a room's unread count.
type Notifications struct {
	Room  RoomID
	Count int
}

// Reaction records one user reacting to one event with one emoji key.
type Reaction struct {
	Room   RoomID
	Target EventID
	Key    string
	Sender UserID
}

// Redaction deletes the content of a previously delivered event.
type Redaction struct {
	Room   RoomID
	Target EventID
}

// PrevBatch advances a room's backward-pagination cursor. An empty Token
// means the server signalled end-of-history.
type PrevBatch struct {
	Room  RoomID
	Token string
}

func (RoomName) isEvent()      {}
func (NewMessage) isEvent()    {}
func (OldMessage) isEvent()    {}
func (Notifications) isEvent() {}
func (Reaction) isEvent()      {}
func (Redaction) isEvent()     {}
func (PrevBatch) isEvent()     {}

// HistoryPage is the result of one backward history fetch.
type HistoryPage struct {
	// Messages in the order returned by the server (newest first for a
	// backward fetch). Callers prepend each in turn.
	Messages []Message

	// Reactions found in the fetched span.
	Reactions []Reaction

	// NextCursor continues further back; empty means history is exhausted.
	NextCursor string
}

// Credentials carries whatever the transport needs to authenticate.
type Credentials struct {
	User     UserID
	Password string
	DeviceID string
}

// Service is the black-box transport contract.
//
// SubscribeLive delivers events until ctx is cancelled; the returned channel
// is closed when the subscription ends. Delivery is eventually-once:
// duplicates are tolerated downstream. The remaining methods are single-shot;
// Send, Redact and SendReadReceipt are fire-and-forget from the caller's
// point of view (failures are logged, never surfaced).
type Service interface {
	SubscribeLive(ctx context.Context) (<-chan Event, error)
	FetchHistory(ctx context.Context, room RoomID, cursor string, limit int) (HistoryPage, error)
	SendMessage(ctx context.Context, room RoomID, body string, replyTo EventID, txnID string) error
	Redact(ctx context.Context, room RoomID, target EventID, txnID string) error
	SendReadReceipt(ctx context.Context, room RoomID, upTo EventID) error
}
