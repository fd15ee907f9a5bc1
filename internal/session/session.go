// Package session implements the SQLite-backed conversation store,
// grounded on original_source/src-c/gateway/session_store.c: same table
// names, same columns, same WAL pragmas. database/sql plus
// modernc.org/sqlite replace sqlite3_prepare_v2/sqlite3_bind_* with
// parameterized queries; encoding/json replaces the original's manual
// snprintf JSON assembly for session_store_get_history so message content
// is escaped correctly instead of interpolated raw.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  channel_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  FOREIGN KEY (session_id) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
`

// DefaultHistoryLimit mirrors the original's "limit > 0 ? limit : 50" guard.
const DefaultHistoryLimit = 50

// Message is one row of conversation history, newest-first from FetchHistory.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store guards SQLite access with a single mutex; WAL mode tolerates
// concurrent readers, but the gateway's write volume is low enough that a
// mutex is simpler than a connection-per-goroutine pool and avoids
// SQLITE_BUSY errors under modernc.org/sqlite's driver.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates/migrates the database at path and configures WAL +
// synchronous=NORMAL per the original's session_store_open.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: set wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func generateSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create inserts a new session row for channelID and returns its id, a
// 32-hex-character string matching the original's 16-byte urandom id.
func (s *Store) Create(ctx context.Context, channelID string) (string, error) {
	id, err := generateSessionID()
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, channel_id, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, channelID, now, now)
	if err != nil {
		return "", fmt.Errorf("session: create: %w", err)
	}
	return id, nil
}

// AppendMessage records one turn and bumps the session's updated_at.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	now := time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		sessionID, role, content, now); err != nil {
		return fmt.Errorf("session: append message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE id = ?", now, sessionID); err != nil {
		return fmt.Errorf("session: touch session: %w", err)
	}
	return nil
}

// FetchHistory returns up to limit messages for sessionID, newest first,
// matching the original's "ORDER BY created_at DESC LIMIT ?" with ties on
// created_at broken by the autoincrement id. limit <= 0 falls back to
// DefaultHistoryLimit.
func (s *Store) FetchHistory(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		sessionID, limit)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("session: fetch history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("session: scan history row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HistoryJSON renders FetchHistory's result as a JSON array, the Go
// replacement for the original's manual snprintf JSON builder — using
// encoding/json means message content is escaped correctly instead of
// interpolated raw into the buffer.
func (s *Store) HistoryJSON(ctx context.Context, sessionID string, limit int) ([]byte, error) {
	msgs, err := s.FetchHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(msgs)
}

// CountMessagesInSession mirrors session_store_get_message_count.
func (s *Store) CountMessagesInSession(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("session: count session messages: %w", err)
	}
	return count, nil
}

// CountSessions mirrors session_store_count_sessions.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return 0, fmt.Errorf("session: count sessions: %w", err)
	}
	return count, nil
}

// CountMessages mirrors session_store_count_messages.
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("session: count messages: %w", err)
	}
	return count, nil
}
