// Package routing selects which agent handles each conversation turn, either
// from an explicit caller override or by asking the model. Consecutive
// automatic selections of the same agent build a streak that turns into a
// sticky recommendation for the caller.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shepherd-ai/shepherd/internal/agent"
	"github.com/shepherd-ai/shepherd/internal/observability"
	"github.com/shepherd-ai/shepherd/internal/profiles"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// ErrUnknownAgent is returned when a manual override names an agent that is
// not available.
var ErrUnknownAgent = errors.New("unknown agent")

// DefaultStickyThreshold is the streak length that produces a pin
// recommendation.
const DefaultStickyThreshold = 3

// Decision is the outcome of one routing pass. Memory is the updated routing
// state; the caller stores it back on the conversation.
type Decision struct {
	Agent string
	Mode  models.SelectionMode

	// Memory replaces the conversation's routing memory.
	Memory models.RoutingMemory

	// Recommended is set when the selection streak reached the sticky
	// threshold.
	Recommended string
}

// Router picks the handling agent for a turn.
type Router struct {
	provider        agent.ModelProvider
	available       []*profiles.Profile
	fallback        string
	stickyThreshold int
	events          models.EventSink
	metrics         *observability.Metrics
	logger          *slog.Logger
}

// NewRouter builds a router over the available profiles. An empty fallback
// selects the first profile; a non-positive stickyThreshold selects the
// default.
func NewRouter(provider agent.ModelProvider, available []*profiles.Profile, fallback string, stickyThreshold int, events models.EventSink, metrics *observability.Metrics, logger *slog.Logger) *Router {
	if fallback == "" && len(available) > 0 {
		fallback = available[0].Name
	}
	if stickyThreshold <= 0 {
		stickyThreshold = DefaultStickyThreshold
	}
	if events == nil {
		events = models.DiscardEvents
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		provider:        provider,
		available:       available,
		fallback:        fallback,
		stickyThreshold: stickyThreshold,
		events:          events,
		metrics:         metrics,
		logger:          logger.With("component", "router"),
	}
}

// Decide routes one turn. window is the conversation's effective context;
// override, when non-empty, pins the agent manually and resets the routing
// memory without a model call.
func (r *Router) Decide(ctx context.Context, conv *models.Conversation, window []*models.Message, override string) (*Decision, error) {
	if override != "" {
		profile := r.findAgent(override)
		if profile == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, override)
		}
		decision := &Decision{
			Agent:  profile.Name,
			Mode:   models.SelectionManual,
			Memory: models.RoutingMemory{},
		}
		r.finish(conv, decision)
		return decision, nil
	}

	resp, err := r.provider.Complete(ctx, &agent.CompletionRequest{
		System:   r.routingPrompt(),
		Messages: routableWindow(window),
	})
	if err != nil {
		return nil, fmt.Errorf("routing decision: %w", err)
	}

	answer := strings.TrimSpace(resp.Content)
	selected := r.findAgent(answer)
	if selected == nil {
		r.logger.Warn("router produced unknown agent, using fallback",
			"answer", answer, "fallback", r.fallback)
		if r.metrics != nil {
			r.metrics.RoutingFallbacks.Inc()
		}
		selected = r.findAgent(r.fallback)
		if selected == nil {
			return nil, fmt.Errorf("%w: fallback %s", ErrUnknownAgent, r.fallback)
		}
	}

	memory := conv.Routing
	if memory.LastSelected == selected.Name {
		memory.Streak++
	} else {
		memory = models.RoutingMemory{LastSelected: selected.Name, Streak: 1}
	}

	decision := &Decision{
		Agent:  selected.Name,
		Mode:   models.SelectionAuto,
		Memory: memory,
	}
	if memory.Streak >= r.stickyThreshold {
		decision.Recommended = selected.Name
	}
	r.finish(conv, decision)
	return decision, nil
}

// finish applies bookkeeping common to both selection modes: telemetry,
// metrics and the routing event.
func (r *Router) finish(conv *models.Conversation, decision *Decision) {
	if r.metrics != nil {
		r.metrics.RoutingDecisions.WithLabelValues(decision.Agent, string(decision.Mode)).Inc()
	}
	r.logger.Info("agent selected",
		"conversation_id", conv.ID,
		"agent", decision.Agent,
		"mode", string(decision.Mode),
		"streak", decision.Memory.Streak,
		"recommended", decision.Recommended)

	r.events.Emit(models.Event{
		Kind:           models.EventRouting,
		ConversationID: conv.ID,
		Content: models.RoutingEvent{
			AgentName:     decision.Agent,
			SelectionMode: decision.Mode,
			Recommended:   decision.Recommended,
		}.Encode(),
	})
}

func (r *Router) findAgent(name string) *profiles.Profile {
	for _, profile := range r.available {
		if strings.EqualFold(profile.Name, name) {
			return profile
		}
	}
	return nil
}

func (r *Router) routingPrompt() string {
	var b strings.Builder
	b.WriteString("You are a routing assistant. Read the conversation and pick the single agent best suited to handle the user's latest request.\n\nAvailable agents:\n")
	for _, profile := range r.available {
		fmt.Fprintf(&b, "- %s: %s\n", profile.Name, profile.Description)
	}
	fmt.Fprintf(&b, "\nIf the request is ambiguous or could match multiple agents, default to %q.\nRespond with the agent name only.", r.fallback)
	return b.String()
}

// routableWindow drops tool traffic from the context the router sees; only
// human, assistant and system messages carry routing signal.
func routableWindow(window []*models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(window))
	for _, msg := range window {
		switch msg.Role {
		case models.RoleHuman, models.RoleAI, models.RoleSystem:
			if msg.Content != "" {
				out = append(out, msg)
			}
		}
	}
	return out
}
