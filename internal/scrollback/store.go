// Package scrollback persists rooms and messages to a local SQLite cache so
// a fresh session starts with the timelines it had last time, before live
// sync takes over. The cache is an optimization: losing it loses nothing the
// transport cannot replay.
package scrollback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chime-im/chime/internal/protocol"
)

// DefaultMessageLimit bounds how many recent messages LoadRooms returns per
// room.
const DefaultMessageLimit = 200

// Store is the SQLite-backed scrollback cache.
type Store struct {
	db *sql.DB
}

// CachedRoom is one room restored from the cache, messages oldest first.
type CachedRoom struct {
	ID       protocol.RoomID
	Name     string
	Unread   int
	Messages []protocol.Message
}

// Open opens or creates the cache at path and ensures the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open scrollback cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect scrollback cache: %w", err)
	}
	store := &Store{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			unread INTEGER NOT NULL DEFAULT 0,
			first_seen TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			event_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			ts TEXT NOT NULL,
			redacted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS messages_room_ts_idx ON messages(room_id, ts)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize scrollback schema: %w", err)
		}
	}
	return nil
}

// SaveRoom upserts a room's name, preserving first-seen order for restore.
func (s *Store) SaveRoom(ctx context.Context, id protocol.RoomID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, unread, first_seen) VALUES (?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, string(id), name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save room %s: %w", id, err)
	}
	return nil
}

// SaveMessage upserts one message. Provisional local echoes are not cached;
// the confirmed echo arrives with a transport id and is cached then.
func (s *Store) SaveMessage(ctx context.Context, room protocol.RoomID, msg protocol.Message) error {
	if msg.Local {
		return nil
	}
	redacted := 0
	if msg.Redacted {
		redacted = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (event_id, room_id, sender, body, ts, redacted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET redacted = excluded.redacted
	`, string(msg.ID), string(room), string(msg.Sender), msg.Body,
		msg.Timestamp.UTC().Format(time.RFC3339Nano), redacted)
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

// MarkRedacted flips the redacted flag on a cached message, if present.
func (s *Store) MarkRedacted(ctx context.Context, target protocol.EventID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET redacted = 1 WHERE event_id = ?`, string(target))
	if err != nil {
		return fmt.Errorf("mark redacted %s: %w", target, err)
	}
	return nil
}

// SaveUnread records a room's unread count for restore.
func (s *Store) SaveUnread(ctx context.Context, room protocol.RoomID, count int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE rooms SET unread = ? WHERE id = ?`, count, string(room))
	if err != nil {
		return fmt.Errorf("save unread for %s: %w", room, err)
	}
	return nil
}

// LoadRooms restores all cached rooms in first-seen order, each with up to
// limit of its most recent messages, oldest first.
func (s *Store) LoadRooms(ctx context.Context, limit int) ([]CachedRoom, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, unread FROM rooms ORDER BY first_seen`)
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	defer rows.Close()

	var rooms []CachedRoom
	for rows.Next() {
		var room CachedRoom
		var id string
		if err := rows.Scan(&id, &room.Name, &room.Unread); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room.ID = protocol.RoomID(id)
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	for i := range rooms {
		msgs, err := s.loadMessages(ctx, rooms[i].ID, limit)
		if err != nil {
			return nil, err
		}
		rooms[i].Messages = msgs
	}
	return rooms, nil
}

func (s *Store) loadMessages(ctx context.Context, room protocol.RoomID, limit int) ([]protocol.Message, error) {
	// Newest N, re-sorted oldest first for replay.
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, sender, body, ts, redacted FROM (
			SELECT event_id, sender, body, ts, redacted
			FROM messages WHERE room_id = ? ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC
	`, string(room), limit)
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", room, err)
	}
	defer rows.Close()

	var msgs []protocol.Message
	for rows.Next() {
		var (
			id, sender, body, ts string
			redacted             int
		)
		if err := rows.Scan(&id, &sender, &body, &ts, &redacted); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of %s: %w", id, err)
		}
		msgs = append(msgs, protocol.Message{
			ID:        protocol.EventID(id),
			Sender:    protocol.UserID(sender),
			Body:      body,
			Timestamp: parsed,
			Redacted:  redacted != 0,
		})
	}
	return msgs, rows.Err()
}
