package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shepherd-ai/shepherd/internal/agent"
	"github.com/shepherd-ai/shepherd/internal/observability"
	"github.com/shepherd-ai/shepherd/internal/profiles"
	"github.com/shepherd-ai/shepherd/internal/routing"
	"github.com/shepherd-ai/shepherd/internal/sessions"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// ErrConversationSuspended means a new message arrived while the
// conversation is parked on a pending approval.
var ErrConversationSuspended = errors.New("conversation awaiting approval")

// Runtime owns conversation state and dispatches turns to agents. One
// agent set is built per conversation on first contact and reused for its
// lifetime, so profile changes apply to new conversations only.
type Runtime struct {
	store   sessions.Store
	locker  *sessions.Locker
	source  profiles.Provider
	factory *Factory
	metrics *observability.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	agents map[string]*agentSet
}

func New(store sessions.Store, source profiles.Provider, factory *Factory, metrics *observability.Metrics, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		store:   store,
		locker:  sessions.NewLocker(),
		source:  source,
		factory: factory,
		metrics: metrics,
		logger:  logger.With("component", "runtime"),
		agents:  make(map[string]*agentSet),
	}
}

// TurnOutcome reports the result of one turn or approval resolution.
type TurnOutcome struct {
	ConversationID string
	Agent          string
	Result         *agent.TurnResult
}

// HandleTurn runs one conversational turn. An empty conversation ID
// starts a new conversation. agentOverride pins the turn to a named agent
// instead of routing.
func (r *Runtime) HandleTurn(ctx context.Context, conversationID, content, agentOverride string) (*TurnOutcome, error) {
	conv, created, err := r.loadOrCreate(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := r.locker.Acquire(conv.ID); err != nil {
		return nil, err
	}
	defer r.locker.Release(conv.ID)
	r.trackActive(1)
	defer r.trackActive(-1)

	if conv.Suspension != nil {
		return nil, fmt.Errorf("%w: conversation %s", ErrConversationSuspended, conv.ID)
	}

	set, err := r.agentsFor(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	conv.Messages = append(conv.Messages, &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleHuman,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})

	agentName, err := r.selectAgent(ctx, set, conv, agentOverride)
	if err != nil {
		return nil, err
	}

	controller, err := set.controller(agentName)
	if err != nil {
		return nil, err
	}

	// Persist the human message and routing state before the model round
	// so a crash mid-turn loses at most the reply.
	if err := r.store.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	if created {
		r.logger.Info("conversation started", "conversation_id", conv.ID)
	}

	requestID := uuid.NewString()
	result, runErr := controller.Run(ctx, conv, requestID)

	if err := r.store.Save(ctx, conv); err != nil {
		r.logger.Error("failed to persist conversation after turn",
			"conversation_id", conv.ID,
			"error", err)
		if runErr == nil {
			runErr = fmt.Errorf("save conversation: %w", err)
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	return &TurnOutcome{ConversationID: conv.ID, Agent: agentName, Result: result}, nil
}

// HandleApproval resolves a pending tool approval and resumes the
// suspended turn. Any answer other than "yes" cancels the batch.
func (r *Runtime) HandleApproval(ctx context.Context, conversationID, token, answer string) (*TurnOutcome, error) {
	conv, err := r.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := r.locker.Acquire(conv.ID); err != nil {
		return nil, err
	}
	defer r.locker.Release(conv.ID)
	r.trackActive(1)
	defer r.trackActive(-1)

	set, err := r.agentsFor(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	agentName := set.single()
	if conv.Selected != nil {
		agentName = conv.Selected.Name
	}
	controller, err := set.controller(agentName)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	result, runErr := controller.Resume(ctx, conv, requestID, token, answer)

	if err := r.store.Save(ctx, conv); err != nil {
		r.logger.Error("failed to persist conversation after approval",
			"conversation_id", conv.ID,
			"error", err)
		if runErr == nil {
			runErr = fmt.Errorf("save conversation: %w", err)
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	return &TurnOutcome{ConversationID: conv.ID, Agent: agentName, Result: result}, nil
}

// Conversation returns a stored conversation snapshot.
func (r *Runtime) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	return r.store.Get(ctx, id)
}

// Ready reports whether the runtime can serve turns.
func (r *Runtime) Ready(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *Runtime) selectAgent(ctx context.Context, set *agentSet, conv *models.Conversation, override string) (string, error) {
	if set.router == nil {
		// Single-agent mode: no routing decision exists, so Selected
		// stays nil and no routing telemetry is ever echoed.
		name := set.single()
		if override != "" && !strings.EqualFold(override, name) {
			return "", fmt.Errorf("%w: %s", routing.ErrUnknownAgent, override)
		}
		return name, nil
	}

	decision, err := set.router.Decide(ctx, conv, set.compactor.Window(conv), override)
	if err != nil {
		return "", err
	}
	conv.Selected = &models.SelectedAgent{Name: decision.Agent, Mode: decision.Mode}
	conv.Routing = decision.Memory
	return decision.Agent, nil
}

func (r *Runtime) loadOrCreate(ctx context.Context, id string) (*models.Conversation, bool, error) {
	if id != "" {
		conv, err := r.store.Get(ctx, id)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, sessions.ErrNotFound) {
			return nil, false, err
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &models.Conversation{
		ID:        id,
		CreatedAt: time.Now().UTC(),
	}, true, nil
}

// agentsFor builds the agent set for a conversation on first use.
func (r *Runtime) agentsFor(ctx context.Context, conversationID string) (*agentSet, error) {
	r.mu.Lock()
	if set, ok := r.agents[conversationID]; ok {
		r.mu.Unlock()
		return set, nil
	}
	r.mu.Unlock()

	profs, err := r.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	set, err := r.factory.Build(ctx, profs)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.agents[conversationID]; ok {
		set = existing
	} else {
		r.agents[conversationID] = set
	}
	r.mu.Unlock()
	return set, nil
}

func (r *Runtime) trackActive(delta float64) {
	if r.metrics != nil {
		r.metrics.ActiveConversations.Add(delta)
	}
}

// forget drops a conversation's cached agent set. Used after deletes.
func (r *Runtime) forget(conversationID string) {
	r.mu.Lock()
	delete(r.agents, conversationID)
	r.mu.Unlock()
}

// DeleteConversation removes stored state and the cached agent set.
func (r *Runtime) DeleteConversation(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.forget(id)
	return nil
}
