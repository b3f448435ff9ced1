// Package loopback is an in-process protocol.Service: rooms and history are
// seeded in memory, sends echo straight back as live events, and an optional
// chatter ticker keeps the timeline moving. It backs `chime --demo` and the
// dispatcher's end-to-end tests; a real homeserver transport plugs in behind
// the same interface.
package loopback

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chime-im/chime/internal/protocol"
)

const subscribeBuffer = 256

// Service implements protocol.Service in memory. Safe for concurrent use by
// the producer tasks that share it.
type Service struct {
	self protocol.UserID

	mu         sync.Mutex
	rooms      []*room
	byID       map[protocol.RoomID]*room
	subscriber chan protocol.Event
	nextSeq    int

	chatter time.Duration
}

type room struct {
	id      protocol.RoomID
	name    string
	backlog []protocol.Message // oldest first; served backward by FetchHistory
	unread  int
}

// Option configures a Service.
type Option func(*Service)

// WithChatter emits a synthetic message to a seeded room at the given
// interval while a subscription is active.
func WithChatter(interval time.Duration) Option {
	return func(s *Service) { s.chatter = interval }
}

// NewService creates an empty loopback transport; self is the authenticated
// user, echoed back as the sender of its own sends.
func NewService(self protocol.UserID, opts ...Option) *Service {
	s := &Service{
		self: self,
		byID: make(map[protocol.RoomID]*room),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed registers a room with a backlog of historical messages, oldest first.
// The backlog is served through FetchHistory; only the room's metadata and
// pagination cursor are announced on subscribe.
func (s *Service) Seed(id protocol.RoomID, name string, unread int, backlog []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &room{id: id, name: name, backlog: backlog, unread: unread}
	s.rooms = append(s.rooms, r)
	s.byID[id] = r
}

// SubscribeLive announces each seeded room (name, unread count, initial
// pagination cursor) and then delivers echoes and chatter until ctx ends.
func (s *Service) SubscribeLive(ctx context.Context) (<-chan protocol.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriber != nil {
		return nil, fmt.Errorf("loopback: already subscribed")
	}
	ch := make(chan protocol.Event, subscribeBuffer)
	s.subscriber = ch

	for _, r := range s.rooms {
		ch <- protocol.RoomName{Room: r.id, Name: r.name}
		if r.unread > 0 {
			ch <- protocol.Notifications{Room: r.id, Count: r.unread}
		}
		if len(r.backlog) > 0 {
			ch <- protocol.PrevBatch{Room: r.id, Token: strconv.Itoa(len(r.backlog))}
		}
	}

	go s.serve(ctx, ch)
	return ch, nil
}

func (s *Service) serve(ctx context.Context, ch chan protocol.Event) {
	defer func() {
		s.mu.Lock()
		s.subscriber = nil
		s.mu.Unlock()
		close(ch)
	}()

	if s.chatter <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.chatter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitChatter()
		}
	}
}

var chatterLines = []struct {
	sender protocol.UserID
	body   string
}{
	{"@ada:loop.local", "has anyone looked at the pagination branch?"},
	{"@lin:loop.local", "shipping the fix after lunch"},
	{"@ada:loop.local", "nice, ping me when it lands"},
	{"@sol:loop.local", "standup in five"},
}

func (s *Service) emitChatter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriber == nil || len(s.rooms) == 0 {
		return
	}
	r := s.rooms[s.nextSeq%len(s.rooms)]
	line := chatterLines[s.nextSeq%len(chatterLines)]
	s.nextSeq++
	s.deliverLocked(protocol.NewMessage{
		Room: r.id,
		Message: protocol.Message{
			ID:        protocol.EventID(fmt.Sprintf("$chatter-%d", s.nextSeq)),
			Sender:    line.sender,
			Body:      line.body,
			Timestamp: time.Now().UTC(),
		},
	})
}

// FetchHistory serves a backward page of the seeded backlog. The cursor is
// the count of backlog messages still ahead of it; pages come back newest
// first, matching a backward fetch.
func (s *Service) FetchHistory(_ context.Context, roomID protocol.RoomID, cursor string, limit int) (protocol.HistoryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[roomID]
	if !ok {
		return protocol.HistoryPage{}, fmt.Errorf("loopback: unknown room %q", roomID)
	}
	remaining, err := strconv.Atoi(cursor)
	if err != nil || remaining < 0 || remaining > len(r.backlog) {
		return protocol.HistoryPage{}, fmt.Errorf("loopback: bad cursor %q", cursor)
	}
	if limit <= 0 {
		limit = 1
	}

	start := remaining - limit
	if start < 0 {
		start = 0
	}
	page := protocol.HistoryPage{}
	for i := remaining - 1; i >= start; i-- {
		page.Messages = append(page.Messages, r.backlog[i])
	}
	if start > 0 {
		page.NextCursor = strconv.Itoa(start)
	}
	return page, nil
}

// SendMessage assigns a server-side event id and echoes the message back on
// the live stream, transaction id attached.
func (s *Service) SendMessage(_ context.Context, roomID protocol.RoomID, body string, _ protocol.EventID, txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[roomID]; !ok {
		return fmt.Errorf("loopback: unknown room %q", roomID)
	}
	s.nextSeq++
	s.deliverLocked(protocol.NewMessage{
		Room: roomID,
		Message: protocol.Message{
			ID:        protocol.EventID(fmt.Sprintf("$sent-%d", s.nextSeq)),
			Sender:    s.self,
			Body:      body,
			Timestamp: time.Now().UTC(),
			TxnID:     txnID,
		},
	})
	return nil
}

// Redact echoes a redaction for the target back on the live stream.
func (s *Service) Redact(_ context.Context, roomID protocol.RoomID, target protocol.EventID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[roomID]; !ok {
		return fmt.Errorf("loopback: unknown room %q", roomID)
	}
	s.deliverLocked(protocol.Redaction{Room: roomID, Target: target})
	return nil
}

// SendReadReceipt clears the room's unread count and echoes the new count.
func (s *Service) SendReadReceipt(_ context.Context, roomID protocol.RoomID, _ protocol.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[roomID]
	if !ok {
		return fmt.Errorf("loopback: unknown room %q", roomID)
	}
	r.unread = 0
	s.deliverLocked(protocol.Notifications{Room: roomID, Count: 0})
	return nil
}

// deliverLocked drops the event when the subscriber buffer is full or no
// subscription is active; live delivery is best effort.
func (s *Service) deliverLocked(ev protocol.Event) {
	if s.subscriber == nil {
		return
	}
	select {
	case s.subscriber <- ev:
	default:
	}
}
