// Package sessions persists conversation state. Each conversation is stored
// as one snapshot written after every completed step, so a turn parked on a
// human approval can resume after a process restart.
package sessions

import (
	"context"
	"errors"

	"github.com/shepherd-ai/shepherd/pkg/models"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversations.
type Store interface {
	// Get returns the conversation with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Conversation, error)

	// Save writes a full conversation snapshot, creating or replacing it.
	Save(ctx context.Context, conv *models.Conversation) error

	// Delete removes a conversation. Deleting a missing conversation is
	// not an error.
	Delete(ctx context.Context, id string) error

	// ListSuspended returns conversations currently parked on a human
	// approval, for expiry sweeps.
	ListSuspended(ctx context.Context) ([]*models.Conversation, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
