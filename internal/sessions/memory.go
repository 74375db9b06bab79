package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shepherd-ai/shepherd/pkg/models"
)

// MemoryStore keeps conversations in process memory. Snapshots are deep
// copied on the way in and out so callers can't mutate stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*models.Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*models.Conversation)}
}

func cloneConversation(conv *models.Conversation) (*models.Conversation, error) {
	data, err := json.Marshal(conv)
	if err != nil {
		return nil, fmt.Errorf("clone conversation: %w", err)
	}
	var out models.Conversation
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone conversation: %w", err)
	}
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	conv, ok := s.convs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneConversation(conv)
}

func (s *MemoryStore) Save(_ context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation ID is required")
	}
	snapshot, err := cloneConversation(conv)
	if err != nil {
		return err
	}
	snapshot.UpdatedAt = time.Now().UTC()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = snapshot.UpdatedAt
	}

	s.mu.Lock()
	s.convs[conv.ID] = snapshot
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.convs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListSuspended(_ context.Context) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Conversation
	for _, conv := range s.convs {
		if conv.Suspension == nil {
			continue
		}
		clone, err := cloneConversation(conv)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
