package importer

// limiter.go caps how many import sessions may be live at once. Slots are a
// buffered channel and the channel's fill level doubles as the active count,
// so no separate bookkeeping is needed. Callers that cannot get a slot
// within the configured wait receive ErrTooManySessions; WaitForDrain blocks
// until every slot is back, for graceful shutdown.

import (
	"context"
	"errors"
	"time"
)

// ErrTooManySessions is returned when all session slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManySessions = errors.New("too many concurrent import sessions, please try again later")

// Defaults for the session cap and the slot wait.
const (
	DefaultMaxConcurrentSessions = 25
	DefaultMaxWaitTime           = 10 * time.Second
)

// SessionLimiter controls how many import sessions may be live at once.
type SessionLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
}

// NewSessionLimiter creates a limiter allowing at most maxConcurrent live
// sessions. Zero or negative arguments pick the defaults.
func NewSessionLimiter(maxConcurrent int, maxWait time.Duration) *SessionLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSessions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &SessionLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire claims a session slot, waiting up to maxWait. Every successful
// Acquire must be paired with exactly one Release.
func (l *SessionLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManySessions
	}
}

// TryAcquire claims a slot without blocking.
func (l *SessionLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot.
func (l *SessionLimiter) Release() {
	<-l.slots
}

// ActiveCount returns the number of currently held slots.
func (l *SessionLimiter) ActiveCount() int {
	return len(l.slots)
}

// MaxConcurrent returns the configured session cap.
func (l *SessionLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// Available returns the number of free slots.
func (l *SessionLimiter) Available() int {
	return cap(l.slots) - len(l.slots)
}

// WaitForDrain blocks until all held slots are released or the context is
// cancelled.
func (l *SessionLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if len(l.slots) == 0 {
				return nil
			}
		}
	}
}
