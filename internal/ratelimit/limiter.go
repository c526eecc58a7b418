// ABOUTME: Sliding-window failure counter keyed by client identity.
// ABOUTME: A background sweep evicts expired windows so the key map stays bounded.

package ratelimit

import (
	"sync"
	"time"
)

// Default limiter settings for authentication attempts.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 60 * time.Second
)

// entry tracks one key's failures within its current window.
type entry struct {
	count        int
	firstAttempt time.Time
}

// Limiter counts failed attempts per key within a sliding window.
// Check, RecordFailure, and Reset on the same key are linearizable.
type Limiter struct {
	mu          sync.Mutex
	attempts    map[string]*entry
	maxAttempts int
	window      time.Duration
	done        chan struct{}
	closed      bool
}

// New creates a limiter and starts its sweep goroutine.
func New(maxAttempts int, window time.Duration) *Limiter {
	l := &Limiter{
		attempts:    make(map[string]*entry),
		maxAttempts: maxAttempts,
		window:      window,
		done:        make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Check reports whether the key is currently allowed to attempt.
// A key with no record, or whose window has elapsed, is always allowed.
func (l *Limiter) Check(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.attempts[key]
	if !ok {
		return true
	}
	if time.Since(e.firstAttempt) > l.window {
		return true
	}
	return e.count < l.maxAttempts
}

// RecordFailure increments the key's counter, restarting the window if
// the previous one has elapsed. Entries are created lazily here.
func (l *Limiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.attempts[key]
	if !ok || now.Sub(e.firstAttempt) > l.window {
		l.attempts[key] = &entry{count: 1, firstAttempt: now}
		return
	}
	e.count++
}

// Reset clears a key's record, typically on successful authentication.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

// sweep periodically drops entries whose window has elapsed.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runSweep()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) runSweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, e := range l.attempts {
		if now.Sub(e.firstAttempt) > l.window {
			delete(l.attempts, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
