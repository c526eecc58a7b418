// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides session/transcript persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist; parent directories are
// created if needed. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL improves concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_key   TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			channel       TEXT NOT NULL,
			last_activity DATETIME NOT NULL,
			created_at    DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_activity
			ON sessions(last_activity);

		CREATE TABLE IF NOT EXISTS transcript (
			id          TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			sender      TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			FOREIGN KEY (session_key) REFERENCES sessions(session_key)
		);

		CREATE INDEX IF NOT EXISTS idx_transcript_session_created
			ON transcript(session_key, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// TouchSession creates or refreshes the session row.
func (s *SQLiteStore) TouchSession(ctx context.Context, key, agentID, channel string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_key, agent_id, channel, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET last_activity = excluded.last_activity
	`, key, agentID, channel, now, now)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// AppendTranscript records one message under a session.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, sessionKey, sender, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript (id, session_key, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), sessionKey, sender, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("appending transcript: %w", err)
	}
	return nil
}

// ListSessions returns sessions ordered by most recent activity.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key, agent_id, channel, last_activity, created_at
		FROM sessions
		ORDER BY last_activity DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.Key, &sess.AgentID, &sess.Channel, &sess.LastActivity, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetTranscript returns a session's messages, oldest first.
func (s *SQLiteStore) GetTranscript(ctx context.Context, sessionKey string, limit int) ([]*TranscriptEntry, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE session_key = ?`, sessionKey).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, sender, content, created_at
		FROM transcript
		WHERE session_key = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	defer rows.Close()

	var entries []*TranscriptEntry
	for rows.Next() {
		e := &TranscriptEntry{}
		if err := rows.Scan(&e.ID, &e.SessionKey, &e.Sender, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transcript entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
