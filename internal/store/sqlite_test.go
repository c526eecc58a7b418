// ABOUTME: Tests for the SQLite session and transcript store.
// ABOUTME: Runs against an in-memory database per test.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTouchSessionCreates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.TouchSession(ctx, "agent:a1:telegram:direct:42", "a1", "telegram"))

	sessions, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "agent:a1:telegram:direct:42", sessions[0].Key)
	assert.Equal(t, "a1", sessions[0].AgentID)
	assert.Equal(t, "telegram", sessions[0].Channel)
	assert.False(t, sessions[0].CreatedAt.IsZero())
}

func TestTouchSessionBumpsActivityOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.TouchSession(ctx, "k1", "a1", "telegram"))

	sessions, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	created := sessions[0].CreatedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.TouchSession(ctx, "k1", "a1", "telegram"))

	sessions, err = s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, created, sessions[0].CreatedAt)
	assert.True(t, sessions[0].LastActivity.After(created) || sessions[0].LastActivity.Equal(created))
}

func TestListSessionsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.TouchSession(ctx, "old", "a1", "telegram"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.TouchSession(ctx, "new", "a1", "slack"))

	sessions, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].Key, "most recent first")

	sessions, err = s.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestTranscriptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.TouchSession(ctx, "k1", "a1", "telegram"))
	require.NoError(t, s.AppendTranscript(ctx, "k1", "42", "hello"))
	require.NoError(t, s.AppendTranscript(ctx, "k1", "agent:a1", "hi there"))

	entries, err := s.GetTranscript(ctx, "k1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "42", entries[0].Sender)
	assert.Equal(t, "hello", entries[0].Content)
	assert.Equal(t, "agent:a1", entries[1].Sender)
	assert.NotEmpty(t, entries[0].ID)
}

func TestGetTranscriptUnknownSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTranscript(context.Background(), "nope", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetTranscriptEmptySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.TouchSession(ctx, "k1", "a1", "telegram"))

	entries, err := s.GetTranscript(ctx, "k1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
