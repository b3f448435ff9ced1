package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chime-im/chime/internal/protocol"
	"github.com/chime-im/chime/internal/protocol/loopback"
)

const waitTimeout = 2 * time.Second

type sendCall struct {
	Room    protocol.RoomID
	Body    string
	ReplyTo protocol.EventID
	TxnID   string
}

type redactCall struct {
	Room   protocol.RoomID
	Target protocol.EventID
	Token  string
}

type receiptCall struct {
	Room protocol.RoomID
	UpTo protocol.EventID
}

type historyCall struct {
	Room   protocol.RoomID
	Cursor string
	Limit  int
}

// fakeService records outgoing requests and lets tests script history pages.
type fakeService struct {
	stream    chan protocol.Event
	sends     chan sendCall
	redacts   chan redactCall
	receipts  chan receiptCall
	histories chan historyCall
	historyFn func(room protocol.RoomID, cursor string, limit int) (protocol.HistoryPage, error)
}

func newFakeService() *fakeService {
	return &fakeService{
		stream:    make(chan protocol.Event),
		sends:     make(chan sendCall, 8),
		redacts:   make(chan redactCall, 8),
		receipts:  make(chan receiptCall, 8),
		histories: make(chan historyCall, 8),
	}
}

func (f *fakeService) SubscribeLive(context.Context) (<-chan protocol.Event, error) {
	return f.stream, nil
}

func (f *fakeService) FetchHistory(_ context.Context, room protocol.RoomID, cursor string, limit int) (protocol.HistoryPage, error) {
	f.histories <- historyCall{Room: room, Cursor: cursor, Limit: limit}
	if f.historyFn != nil {
		return f.historyFn(room, cursor, limit)
	}
	return protocol.HistoryPage{}, nil
}

func (f *fakeService) SendMessage(_ context.Context, room protocol.RoomID, body string, replyTo protocol.EventID, txnID string) error {
	f.sends <- sendCall{Room: room, Body: body, ReplyTo: replyTo, TxnID: txnID}
	return nil
}

func (f *fakeService) Redact(_ context.Context, room protocol.RoomID, target protocol.EventID, token string) error {
	f.redacts <- redactCall{Room: room, Target: target, Token: token}
	return nil
}

func (f *fakeService) SendReadReceipt(_ context.Context, room protocol.RoomID, upTo protocol.EventID) error {
	f.receipts <- receiptCall{Room: room, UpTo: upTo}
	return nil
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func requireNothing[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(50 * time.Millisecond):
	}
}

func tmsg(id, sender, body string) protocol.Message {
	return protocol.Message{
		ID:        protocol.EventID(id),
		Sender:    protocol.UserID(sender),
		Body:      body,
		Timestamp: time.Unix(1700000000, 0),
	}
}

func newTestDispatcher(svc protocol.Service) *Dispatcher {
	return New(Config{Service: svc, Self: "@me:example.org", PageSize: 50})
}

func TestApplyProtocolFoldsRoomAndMessages(t *testing.T) {
	d := newTestDispatcher(newFakeService())

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e1", "@alice:x", "one")})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e2", "@bob:x", "two")})
	d.applyProtocol(protocol.Notifications{Room: "!a", Count: 3})

	snap := d.snapshot()
	require.Equal(t, []RoomEntry{{Name: "general", Unread: 3, Current: true}}, snap.Rooms)
	require.Len(t, snap.Timeline, 2)
	require.Equal(t, "alice", snap.Timeline[0].Sender)
	require.Equal(t, "two", snap.Timeline[1].Body)
	require.False(t, snap.Replying, "selection follows the live edge")
}

func TestApplyProtocolDropsMessageForUnknownRoom(t *testing.T) {
	d := newTestDispatcher(newFakeService())

	d.applyProtocol(protocol.NewMessage{Room: "!ghost", Message: tmsg("e1", "@alice:x", "one")})

	require.Empty(t, d.snapshot().Rooms)
	require.Empty(t, d.snapshot().Timeline)
}

func TestRedactionBeforeMessageIsParkedAndReplayed(t *testing.T) {
	d := newTestDispatcher(newFakeService())
	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})

	d.applyProtocol(protocol.Redaction{Room: "!a", Target: "late"})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("late", "@alice:x", "oops")})

	snap := d.snapshot()
	require.Len(t, snap.Timeline, 1)
	require.True(t, snap.Timeline[0].Redacted)
}

func TestReactionsAggregateOntoSnapshot(t *testing.T) {
	d := newTestDispatcher(newFakeService())
	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e1", "@alice:x", "one")})

	d.applyProtocol(protocol.Reaction{Room: "!a", Target: "e1", Key: "👍", Sender: "@bob:x"})
	d.applyProtocol(protocol.Reaction{Room: "!a", Target: "e1", Key: "👍", Sender: "@bob:x"})

	snap := d.snapshot()
	require.Len(t, snap.Timeline[0].Reactions, 1)
	require.Equal(t, 1, snap.Timeline[0].Reactions[0].Count)
}

func TestSubmitSendsReplyAndClearsInput(t *testing.T) {
	svc := newFakeService()
	d := newTestDispatcher(svc)
	ctx := context.Background()

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e1", "alice", "hello\nworld")})
	d.applyLocal(ctx, SelectFirst{})
	for _, r := range "hi" {
		d.applyLocal(ctx, InputRune{Rune: r})
	}

	require.True(t, d.applyLocal(ctx, Submit{}))

	sent := recv(t, svc.sends, "send call")
	require.Equal(t, protocol.RoomID("!a"), sent.Room)
	require.Equal(t, "> <alice> > hello\n> world\n\nhi", sent.Body)
	require.Equal(t, protocol.EventID("e1"), sent.ReplyTo)
	require.NotEmpty(t, sent.TxnID)

	receipt := recv(t, svc.receipts, "read receipt")
	require.Equal(t, protocol.EventID("e1"), receipt.UpTo)

	snap := d.snapshot()
	require.Empty(t, snap.Input, "compose buffer cleared on submit")
	require.Len(t, snap.Timeline, 2)
	require.True(t, snap.Timeline[1].Pending, "local echo rendered immediately")
}

func TestSubmitLocalEchoReconciledByLiveEvent(t *testing.T) {
	svc := newFakeService()
	d := newTestDispatcher(svc)
	ctx := context.Background()

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyLocal(ctx, InputRune{Rune: 'y'})
	d.applyLocal(ctx, Submit{})
	sent := recv(t, svc.sends, "send call")

	echo := tmsg("$confirmed", "@me:example.org", "y")
	echo.TxnID = sent.TxnID
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: echo})

	snap := d.snapshot()
	require.Len(t, snap.Timeline, 1, "echo reconciled in place, not duplicated")
	require.False(t, snap.Timeline[0].Pending)
}

func TestSubmitNoopWithoutRoomOrInput(t *testing.T) {
	svc := newFakeService()
	d := newTestDispatcher(svc)
	ctx := context.Background()

	d.applyLocal(ctx, InputRune{Rune: 'x'})
	d.applyLocal(ctx, Submit{}) // no current room
	requireNothing(t, svc.sends, "send without a room")

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyLocal(ctx, InputClear{})
	d.applyLocal(ctx, Submit{}) // empty input
	requireNothing(t, svc.sends, "send with empty input")
}

func TestDeleteSelectedIssuesRedactWithToken(t *testing.T) {
	svc := newFakeService()
	d := newTestDispatcher(svc)
	ctx := context.Background()

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e1", "@me:example.org", "typo")})
	d.applyLocal(ctx, SelectFirst{})
	d.applyLocal(ctx, DeleteSelected{})

	call := recv(t, svc.redacts, "redact call")
	require.Equal(t, protocol.EventID("e1"), call.Target)
	require.NotEmpty(t, call.Token)
}

func TestDeleteSelectedSkipsPendingEcho(t *testing.T) {
	svc := newFakeService()
	d := newTestDispatcher(svc)
	ctx := context.Background()

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyLocal(ctx, InputRune{Rune: 'x'})
	d.applyLocal(ctx, Submit{})
	recv(t, svc.sends, "send call")

	d.applyLocal(ctx, SelectFirst{})
	d.applyLocal(ctx, DeleteSelected{})
	requireNothing(t, svc.redacts, "redact of an unconfirmed echo")
}

func TestMoveSelectionAtTopPaginatesOnce(t *testing.T) {
	svc := newFakeService()
	release := make(chan struct{})
	svc.historyFn = func(protocol.RoomID, string, int) (protocol.HistoryPage, error) {
		<-release
		return protocol.HistoryPage{
			Messages:   []protocol.Message{tmsg("h1", "@alice:x", "older")},
			NextCursor: "batch-2",
		}, nil
	}
	d := newTestDispatcher(svc)
	ctx := context.Background()

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e1", "@alice:x", "newest")})
	d.applyProtocol(protocol.PrevBatch{Room: "!a", Token: "batch-1"})
	d.applyLocal(ctx, SelectFirst{})

	d.applyLocal(ctx, MoveSelection{Delta: -1})
	call := recv(t, svc.histories, "history fetch")
	require.Equal(t, historyCall{Room: "!a", Cursor: "batch-1", Limit: 50}, call)

	// Cursor consumed: a second trigger while the fetch is in flight must
	// not issue another request.
	d.applyLocal(ctx, MoveSelection{Delta: -1})
	requireNothing(t, svc.histories, "second concurrent fetch")

	close(release)
	require.IsType(t, protocol.PrevBatch{}, recv(t, d.protocolCh, "cursor advance"))
	old := recv(t, d.protocolCh, "historical message")
	require.Equal(t, protocol.OldMessage{Room: "!a", Message: tmsg("h1", "@alice:x", "older")}, old)
}

func TestFailedFetchLeavesCursorConsumed(t *testing.T) {
	svc := newFakeService()
	svc.historyFn = func(protocol.RoomID, string, int) (protocol.HistoryPage, error) {
		return protocol.HistoryPage{}, errors.New("gateway timeout")
	}
	d := newTestDispatcher(svc)
	ctx := context.Background()

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e1", "@alice:x", "newest")})
	d.applyProtocol(protocol.PrevBatch{Room: "!a", Token: "batch-1"})
	d.applyLocal(ctx, SelectFirst{})

	d.applyLocal(ctx, MoveSelection{Delta: -1})
	recv(t, svc.histories, "history fetch")
	requireNothing(t, d.protocolCh, "events from a failed fetch")

	room, ok := d.registry.Find("!a")
	require.True(t, ok)
	require.False(t, room.HasCursor(), "pagination stalls until a fresh cursor arrives")
}

func TestMoveSelectionWithoutCursorJustMoves(t *testing.T) {
	svc := newFakeService()
	d := newTestDispatcher(svc)
	ctx := context.Background()

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e1", "@alice:x", "one")})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e2", "@alice:x", "two")})

	d.applyLocal(ctx, MoveSelection{Delta: -1})
	require.True(t, d.snapshot().Timeline[1].Selected)

	d.applyLocal(ctx, MoveSelection{Delta: -1})
	require.True(t, d.snapshot().Timeline[0].Selected)

	// At the top with no cursor: clamped, no fetch.
	d.applyLocal(ctx, MoveSelection{Delta: -1})
	require.True(t, d.snapshot().Timeline[0].Selected)
	requireNothing(t, svc.histories, "fetch without a cursor")
}

func TestRunEndsOnQuit(t *testing.T) {
	svc := newFakeService()
	d := newTestDispatcher(svc)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	d.LocalEvents() <- Quit{}
	require.NoError(t, recv(t, done, "loop exit"))
}

func TestRunEndsWhenBothChannelsClose(t *testing.T) {
	svc := newFakeService()
	close(svc.stream)
	d := newTestDispatcher(svc)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	close(d.protocolCh)
	close(d.localCh)
	require.NoError(t, recv(t, done, "loop exit"))
}

func TestRunEndToEndWithLoopback(t *testing.T) {
	svc := loopback.NewService("@me:loop.local")
	svc.Seed("!dev:loop.local", "dev", 0, []protocol.Message{
		tmsg("$h1", "@ada:loop.local", "first"),
		tmsg("$h2", "@ada:loop.local", "second"),
	})

	snaps := make(chan Snapshot, 64)
	d := New(Config{
		Service:  svc,
		Self:     "@me:loop.local",
		Renderer: RendererFunc(func(s Snapshot) { snaps <- s }),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitSnap := func(pred func(Snapshot) bool, what string) Snapshot {
		t.Helper()
		deadline := time.After(waitTimeout)
		for {
			select {
			case s := <-snaps:
				if pred(s) {
					return s
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %s", what)
			}
		}
	}

	waitSnap(func(s Snapshot) bool { return len(s.Rooms) == 1 && s.MoreHistory }, "room announcement")

	// Paginate the seeded backlog in.
	d.LocalEvents() <- SelectFirst{}
	d.LocalEvents() <- MoveSelection{Delta: -1}
	waitSnap(func(s Snapshot) bool { return len(s.Timeline) == 2 }, "history page")

	// Send and wait for the confirmed echo.
	d.LocalEvents() <- SelectLast{}
	d.LocalEvents() <- InputRune{Rune: 'o'}
	d.LocalEvents() <- InputRune{Rune: 'k'}
	d.LocalEvents() <- Submit{}
	snap := waitSnap(func(s Snapshot) bool {
		return len(s.Timeline) == 3 && !s.Timeline[2].Pending
	}, "reconciled echo")
	require.Equal(t, "ok", snap.Timeline[2].Body)
	require.Empty(t, snap.Input)

	d.LocalEvents() <- Quit{}
	require.NoError(t, recv(t, done, "loop exit"))
}

type archiveCall struct {
	Kind   string
	Room   protocol.RoomID
	Event  protocol.EventID
	Unread int
}

// recordingArchiver captures persistence notifications in order.
type recordingArchiver struct {
	calls []archiveCall
}

func (a *recordingArchiver) RoomUpserted(room protocol.RoomID, name string) {
	a.calls = append(a.calls, archiveCall{Kind: "room", Room: room})
}

func (a *recordingArchiver) MessageSaved(room protocol.RoomID, msg protocol.Message) {
	a.calls = append(a.calls, archiveCall{Kind: "message", Room: room, Event: msg.ID})
}

func (a *recordingArchiver) MessageRedacted(room protocol.RoomID, target protocol.EventID) {
	a.calls = append(a.calls, archiveCall{Kind: "redact", Room: room, Event: target})
}

func (a *recordingArchiver) UnreadChanged(room protocol.RoomID, count int) {
	a.calls = append(a.calls, archiveCall{Kind: "unread", Room: room, Unread: count})
}

func TestArchiverNotifiedOfFoldedEvents(t *testing.T) {
	archiver := &recordingArchiver{}
	d := New(Config{Service: newFakeService(), Self: "@me:example.org", Archiver: archiver})

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyProtocol(protocol.NewMessage{Room: "!a", Message: tmsg("e1", "@alice:x", "one")})
	d.applyProtocol(protocol.Redaction{Room: "!a", Target: "e1"})
	d.applyProtocol(protocol.Notifications{Room: "!a", Count: 2})

	require.Equal(t, []archiveCall{
		{Kind: "room", Room: "!a"},
		{Kind: "message", Room: "!a", Event: "e1"},
		{Kind: "redact", Room: "!a", Event: "e1"},
		{Kind: "unread", Room: "!a", Unread: 2},
	}, archiver.calls)
}

func TestArchiverNotNotifiedForLocalEcho(t *testing.T) {
	archiver := &recordingArchiver{}
	svc := newFakeService()
	d := New(Config{Service: svc, Self: "@me:example.org", Archiver: archiver})
	ctx := context.Background()

	d.applyProtocol(protocol.RoomName{Room: "!a", Name: "general"})
	d.applyLocal(ctx, InputRune{Rune: 'x'})
	d.applyLocal(ctx, Submit{})
	recv(t, svc.sends, "send call")

	for _, call := range archiver.calls {
		require.NotEqual(t, "message", call.Kind, "echo must not be archived before confirmation")
	}
}
