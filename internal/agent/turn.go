package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shepherd-ai/shepherd/internal/observability"
	"github.com/shepherd-ai/shepherd/internal/profiles"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// Phase names the states a turn moves through.
type Phase string

const (
	PhaseAwaitingModel    Phase = "awaiting_model"
	PhaseToolsRequested   Phase = "tools_requested"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseToolsExecuted    Phase = "tools_executed"
	PhaseSummarizing      Phase = "summarizing"
	PhaseDone             Phase = "done"
)

// TurnConfig bounds turn execution.
type TurnConfig struct {
	// MaxToolRounds caps model/tool iterations within one turn.
	MaxToolRounds int

	// MaxTokens caps each completion. Zero uses the provider default.
	MaxTokens int
}

// DefaultTurnConfig returns production defaults.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{MaxToolRounds: 10}
}

// TurnResult is the outcome of running or resuming one turn.
type TurnResult struct {
	// Phase is PhaseDone or PhaseAwaitingApproval.
	Phase Phase

	// Reply is the final assistant message of a completed turn. Nil when
	// the turn suspended or was cancelled.
	Reply *models.Message

	// Suspension mirrors conv.Suspension when Phase is
	// PhaseAwaitingApproval.
	Suspension *models.Suspension

	// Cancelled is set when the human declined a gated call; the turn
	// ends without a further model response.
	Cancelled bool
}

// TurnController drives one agent through a full turn: model call, tool
// batches with approval suspension, and end-of-turn compaction. The
// controller is stateless across calls; everything durable lives on the
// Conversation.
type TurnController struct {
	provider  ModelProvider
	gateway   *Gateway
	compactor *Compactor
	profile   *profiles.Profile
	siblings  []*profiles.Profile
	config    TurnConfig
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewTurnController wires a controller for one agent. siblings are the other
// available agents, used only to teach the model where to redirect
// out-of-scope requests.
func NewTurnController(provider ModelProvider, gateway *Gateway, compactor *Compactor, profile *profiles.Profile, siblings []*profiles.Profile, config TurnConfig, metrics *observability.Metrics, logger *slog.Logger) *TurnController {
	if config.MaxToolRounds <= 0 {
		config.MaxToolRounds = DefaultTurnConfig().MaxToolRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnController{
		provider:  provider,
		gateway:   gateway,
		compactor: compactor,
		profile:   profile,
		siblings:  siblings,
		config:    config,
		metrics:   metrics,
		tracer:    otel.Tracer("shepherd/agent"),
		logger:    logger.With("component", "turn", "agent", profile.Name),
	}
}

// Profile returns the profile this controller serves.
func (t *TurnController) Profile() *profiles.Profile { return t.profile }

// Run executes a turn for the newest human message already appended to the
// conversation. The caller persists the conversation afterwards; when the
// result is PhaseAwaitingApproval the conversation carries the suspension.
func (t *TurnController) Run(ctx context.Context, conv *models.Conversation, requestID string) (*TurnResult, error) {
	if conv.Suspension != nil {
		return nil, turnErr(PhaseAwaitingApproval, fmt.Errorf("pending approval for call %s must be answered first", conv.Suspension.ToolCallID))
	}
	return t.run(ctx, conv, requestID, nil)
}

// Resume continues a turn parked on a human approval. token must match the
// suspension's resumption token; answer "yes" approves, anything else
// cancels.
func (t *TurnController) Resume(ctx context.Context, conv *models.Conversation, requestID, token, answer string) (*TurnResult, error) {
	if conv.Suspension == nil {
		return nil, ErrNotSuspended
	}
	if token != conv.Suspension.Token {
		return nil, ErrApprovalTokenMismatch
	}
	pending := &ApprovalAnswer{ToolCallID: conv.Suspension.ToolCallID, Answer: answer}
	conv.Suspension = nil
	return t.run(ctx, conv, requestID, pending)
}

func (t *TurnController) run(ctx context.Context, conv *models.Conversation, requestID string, pending *ApprovalAnswer) (*TurnResult, error) {
	ctx, span := t.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.String("agent.name", t.profile.Name),
		attribute.Bool("turn.resumed", pending != nil),
	))
	defer span.End()

	if pending != nil {
		last := conv.LastMessage()
		if last == nil || !last.HasToolCalls() {
			return nil, turnErr(PhaseAwaitingApproval, fmt.Errorf("transcript does not end in a tool-call request"))
		}
		outcome, err := t.runBatch(ctx, conv, last.ToolCalls, pending)
		if err != nil || outcome != nil {
			return outcome, err
		}
	}

	for round := 0; round < t.config.MaxToolRounds; round++ {
		aiMsg, err := completeWithRetry(ctx, t.provider, &CompletionRequest{
			System:    t.systemPrompt(),
			Messages:  t.compactor.Window(conv),
			Tools:     t.gateway.Descriptors(),
			MaxTokens: t.config.MaxTokens,
		}, t.metrics, t.logger)
		if err != nil {
			return nil, turnErr(PhaseAwaitingModel, err)
		}
		t.annotate(aiMsg, requestID)
		conv.Messages = append(conv.Messages, aiMsg)

		if !aiMsg.HasToolCalls() {
			if t.compactor.ShouldCompact(conv) {
				span.AddEvent("compaction", trace.WithAttributes(
					attribute.Int("transcript.length", len(conv.Messages))))
				if err := t.compactor.Compact(ctx, conv); err != nil {
					return nil, turnErr(PhaseSummarizing, err)
				}
			}
			return &TurnResult{Phase: PhaseDone, Reply: aiMsg}, nil
		}

		t.logger.Debug("model requested tools",
			"round", round, "calls", len(aiMsg.ToolCalls), "request_id", requestID)
		outcome, err := t.runBatch(ctx, conv, aiMsg.ToolCalls, nil)
		if err != nil || outcome != nil {
			return outcome, err
		}
	}

	return nil, turnErr(PhaseToolsRequested, ErrMaxToolRounds)
}

// runBatch executes one tool batch and folds its messages into the
// transcript. A nil, nil return means the turn should continue with another
// model round.
func (t *TurnController) runBatch(ctx context.Context, conv *models.Conversation, calls []models.ToolCall, pending *ApprovalAnswer) (*TurnResult, error) {
	batch, err := t.gateway.Execute(ctx, conv, calls, pending)
	if err != nil {
		return nil, turnErr(PhaseToolsRequested, err)
	}
	conv.Messages = append(conv.Messages, batch.Messages...)

	if batch.Suspension != nil {
		conv.Suspension = batch.Suspension
		return &TurnResult{Phase: PhaseAwaitingApproval, Suspension: batch.Suspension}, nil
	}
	if batch.Cancelled {
		// A declined mutation ends the turn immediately; no model round
		// and no compaction.
		return &TurnResult{Phase: PhaseDone, Cancelled: true}, nil
	}
	return nil, nil
}

func (t *TurnController) annotate(msg *models.Message, requestID string) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]string{}
	}
	if requestID != "" {
		msg.Metadata["request_id"] = requestID
	}
	msg.Metadata["agent"] = t.profile.Name
}

// systemPrompt joins the profile's instructions with the redirect note
// pointing at the other available agents.
func (t *TurnController) systemPrompt() string {
	prompt := t.profile.SystemPrompt
	if len(t.siblings) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nIf the user's request falls outside your scope, direct them to the appropriate specialized agent from this list:\n")
	for _, sibling := range t.siblings {
		if sibling.Name == t.profile.Name {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", sibling.Name, sibling.Description)
	}
	return b.String()
}
