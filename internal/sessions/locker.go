package sessions

import (
	"errors"
	"sync"
)

// ErrTurnInFlight is returned when a new turn arrives while the previous
// turn for the same conversation is still running.
var ErrTurnInFlight = errors.New("a turn is already in flight for this conversation")

// Locker serializes turns per conversation. A conversation admits one turn
// at a time; a second concurrent turn is rejected rather than queued, since
// the caller's newer message would otherwise execute against a stale
// transcript.
type Locker struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{active: make(map[string]bool)}
}

// Acquire claims the conversation for one turn. Returns ErrTurnInFlight when
// it is already claimed.
func (l *Locker) Acquire(conversationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[conversationID] {
		return ErrTurnInFlight
	}
	l.active[conversationID] = true
	return nil
}

// Release frees the conversation after a turn completes or suspends.
func (l *Locker) Release(conversationID string) {
	l.mu.Lock()
	delete(l.active, conversationID)
	l.mu.Unlock()
}
