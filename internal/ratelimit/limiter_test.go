// ABOUTME: Tests for the sliding-window failure limiter.
// ABOUTME: Covers the attempt cap, window expiry, resets, and key isolation.

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAllowsUnknownKey(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Close()

	assert.True(t, l.Check("1.2.3.4"))
}

func TestBlocksAfterMaxFailures(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Close()

	for i := 0; i < 2; i++ {
		l.RecordFailure("1.2.3.4")
		assert.True(t, l.Check("1.2.3.4"), "attempt %d should still be allowed", i+1)
	}
	l.RecordFailure("1.2.3.4")
	assert.False(t, l.Check("1.2.3.4"))
}

func TestResetRestoresAccess(t *testing.T) {
	l := New(2, time.Minute)
	defer l.Close()

	l.RecordFailure("key")
	l.RecordFailure("key")
	assert.False(t, l.Check("key"))

	l.Reset("key")
	assert.True(t, l.Check("key"))
}

func TestWindowElapseRestoresAccess(t *testing.T) {
	l := New(2, 20*time.Millisecond)
	defer l.Close()

	l.RecordFailure("key")
	l.RecordFailure("key")
	assert.False(t, l.Check("key"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.Check("key"))

	// A failure after the window starts a fresh count.
	l.RecordFailure("key")
	assert.True(t, l.Check("key"))
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Close()

	l.RecordFailure("blocked")
	assert.False(t, l.Check("blocked"))
	assert.True(t, l.Check("other"))
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	l := New(1, 10*time.Millisecond)
	defer l.Close()

	l.RecordFailure("a")
	l.RecordFailure("b")

	time.Sleep(40 * time.Millisecond)

	l.mu.Lock()
	remaining := len(l.attempts)
	l.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestCloseIsIdempotent(t *testing.T) {
	l := New(1, time.Minute)
	l.Close()
	l.Close()
}
