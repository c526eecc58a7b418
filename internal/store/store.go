// ABOUTME: Store interface and data types for coven-relay persistence.
// ABOUTME: Defines Session and TranscriptEntry plus the Store operations.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Session is one conversation's persisted identity and activity record.
type Session struct {
	Key          string
	AgentID      string
	Channel      string
	LastActivity time.Time
	CreatedAt    time.Time
}

// TranscriptEntry is a single stored message within a session.
type TranscriptEntry struct {
	ID         string
	SessionKey string
	Sender     string
	Content    string
	CreatedAt  time.Time
}

// Store is the persistence boundary used by the inbound pipeline and the
// sessions.* gateway methods.
type Store interface {
	// TouchSession creates the session row if needed and bumps its
	// last-activity time.
	TouchSession(ctx context.Context, key, agentID, channel string) error

	// AppendTranscript records one message under a session.
	AppendTranscript(ctx context.Context, sessionKey, sender, content string) error

	// ListSessions returns sessions ordered by most recent activity.
	ListSessions(ctx context.Context, limit int) ([]*Session, error)

	// GetTranscript returns a session's messages, oldest first.
	// Returns ErrNotFound if the session does not exist.
	GetTranscript(ctx context.Context, sessionKey string, limit int) ([]*TranscriptEntry, error)

	Close() error
}
