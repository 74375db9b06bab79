// Package gateway exposes the conversation runtime over HTTP and
// websockets.
package gateway

import (
	"sync"

	"github.com/shepherd-ai/shepherd/pkg/models"
)

const subscriberBuffer = 32

// Broadcaster fans side-channel events out to websocket subscribers by
// conversation. It implements models.EventSink so the runtime can emit
// into it directly. Events for conversations nobody watches are dropped.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[chan models.Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan models.Event]struct{})}
}

// Emit delivers the event to every subscriber of its conversation. A
// subscriber that cannot keep up loses events rather than blocking the
// turn.
func (b *Broadcaster) Emit(event models.Event) {
	if event.ConversationID == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[event.ConversationID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers interest in one conversation's events. The returned
// cancel func must be called when the subscriber goes away.
func (b *Broadcaster) Subscribe(conversationID string) (<-chan models.Event, func()) {
	ch := make(chan models.Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[chan models.Event]struct{})
	}
	b.subs[conversationID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[conversationID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, conversationID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
