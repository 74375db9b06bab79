package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shepherd-ai/shepherd/internal/mcp"
	"github.com/shepherd-ai/shepherd/internal/observability"
	"github.com/shepherd-ai/shepherd/internal/profiles"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// Toolbox is the set of tools available to one agent.
type Toolbox interface {
	// Descriptors lists the tools to advertise to the model.
	Descriptors() []mcp.ToolDescriptor

	// Invoke runs one tool. A result with IsError set reports an
	// operational failure from the tool; the error return covers
	// transport failures and unknown tools (ErrToolNotFound).
	Invoke(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
}

// ApprovalAnswer is the human's response to a pending confirmation.
type ApprovalAnswer struct {
	ToolCallID string
	Answer     string
}

// BatchResult is the outcome of executing one assistant message's tool calls.
type BatchResult struct {
	// Messages are the produced RoleTool messages, in call order.
	Messages []*models.Message

	// Suspension is non-nil when the batch stopped at a gated call.
	// Calls before it have executed; it and everything after have not.
	Suspension *models.Suspension

	// Cancelled is set when the human declined the gated call. The batch
	// short-circuits: remaining calls are skipped.
	Cancelled bool
}

// Gateway executes tool-call batches sequentially, enforcing the profile's
// human-approval rules and post-processing results into model content and
// side-channel events.
type Gateway struct {
	toolbox Toolbox
	profile *profiles.Profile
	events  models.EventSink
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewGateway builds a gateway for one agent.
func NewGateway(toolbox Toolbox, profile *profiles.Profile, events models.EventSink, metrics *observability.Metrics, logger *slog.Logger) *Gateway {
	if events == nil {
		events = models.DiscardEvents
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		toolbox: toolbox,
		profile: profile,
		events:  events,
		metrics: metrics,
		logger:  logger.With("component", "tools", "agent", profile.Name),
	}
}

// Descriptors exposes the toolbox catalog.
func (g *Gateway) Descriptors() []mcp.ToolDescriptor {
	return g.toolbox.Descriptors()
}

// Execute runs the calls in order. With a nil answer it starts at the first
// call; with an answer it resumes at the previously suspended call, applying
// the human's decision to it before continuing with the rest.
func (g *Gateway) Execute(ctx context.Context, conv *models.Conversation, calls []models.ToolCall, answer *ApprovalAnswer) (*BatchResult, error) {
	start := 0
	if answer != nil {
		idx := -1
		for i, call := range calls {
			if call.ID == answer.ToolCallID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, ErrNotSuspended
		}
		start = idx
	}

	result := &BatchResult{}
	for i := start; i < len(calls); i++ {
		call := calls[i]

		if answer != nil && i == start {
			if !approvalGranted(answer.Answer) {
				g.logger.Info("tool call cancelled by user", "tool", call.Name, "call_id", call.ID)
				if g.metrics != nil {
					g.metrics.Approvals.WithLabelValues("cancelled").Inc()
					g.metrics.ToolExecutions.WithLabelValues(call.Name, "cancelled").Inc()
				}
				result.Messages = append(result.Messages, g.toolMessage(call, models.CancellationNotice))
				result.Cancelled = true
				return result, nil
			}
			if g.metrics != nil {
				g.metrics.Approvals.WithLabelValues("approved").Inc()
			}
			// Approval telemetry: echo the active agent so callers that
			// track routing see the decision the approval belongs to.
			if conv.Selected != nil {
				g.emit(conv, models.EventRouting, models.RoutingEvent{
					AgentName:     conv.Selected.Name,
					SelectionMode: conv.Selected.Mode,
				}.Encode())
			}
		} else {
			payload, gated, err := renderConfirmation(g.profile, call, g.logger)
			if err != nil {
				return nil, err
			}
			if gated {
				suspension := &models.Suspension{
					ToolCallID: call.ID,
					Payload:    payload,
					Token:      uuid.NewString(),
					CreatedAt:  time.Now().UTC(),
				}
				g.emit(conv, models.EventConfirmation, payload)
				g.logger.Info("tool call awaiting approval", "tool", call.Name, "call_id", call.ID)
				result.Suspension = suspension
				return result, nil
			}
		}

		msg, failed := g.invoke(ctx, conv, call)
		result.Messages = append(result.Messages, msg)
		if failed {
			// A failed call invalidates the assumptions of the calls
			// queued behind it.
			break
		}
	}
	return result, nil
}

// invoke runs a single tool call. The returned flag marks failures that
// short-circuit the rest of the batch.
func (g *Gateway) invoke(ctx context.Context, conv *models.Conversation, call models.ToolCall) (*models.Message, bool) {
	start := time.Now()
	res, err := g.toolbox.Invoke(ctx, call.Name, call.Args)
	if g.metrics != nil {
		g.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		g.logger.Error("unexpected tool failure", "tool", call.Name, "call_id", call.ID, "error", err)
		if g.metrics != nil {
			g.metrics.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
		}
		return g.toolMessage(call, err.Error()), true
	}

	if res.IsError {
		content := res.Text()
		if content == "" {
			content = "tool execution failed"
		}
		g.logger.Warn("tool reported failure", "tool", call.Name, "call_id", call.ID, "error", content)
		if g.metrics != nil {
			g.metrics.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
		}
		return g.toolMessage(call, content), true
	}

	if g.metrics != nil {
		g.metrics.ToolExecutions.WithLabelValues(call.Name, "success").Inc()
	}
	return g.toolMessage(call, g.processResult(conv, res)), false
}

// processResult distills a tool result into model-facing content, diverting
// structured side-channel payloads into events:
//
//   - a "uiContext" key becomes an <mcp-response> event
//   - each entry of a "docLinks" list becomes an <mcp-doclink> event
//   - an "llm" key, when present, replaces the content seen by the model
//   - anything that is not a JSON object passes through verbatim
func (g *Gateway) processResult(conv *models.Conversation, res *mcp.ToolResult) string {
	raw := res.Text()
	if raw == "" {
		return ""
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}

	if ui, ok := decoded["uiContext"]; ok && ui != nil {
		if envelope, err := models.EncodeUIContext(ui); err == nil {
			g.emit(conv, models.EventUIContext, envelope)
		} else {
			g.logger.Warn("dropping unencodable ui context", "error", err)
		}
	}
	if links, ok := decoded["docLinks"].([]any); ok {
		for _, entry := range links {
			if link, ok := entry.(string); ok && link != "" {
				g.emit(conv, models.EventDocLink, models.EncodeDocLink(link))
			}
		}
	}

	if llm, ok := decoded["llm"]; ok {
		if s, isString := llm.(string); isString {
			return s
		}
		encoded, err := json.Marshal(llm)
		if err != nil {
			return raw
		}
		return string(encoded)
	}
	return raw
}

func (g *Gateway) toolMessage(call models.ToolCall, content string) *models.Message {
	return &models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
}

func (g *Gateway) emit(conv *models.Conversation, kind models.EventKind, content string) {
	event := models.Event{Kind: kind, Content: content}
	if conv != nil {
		event.ConversationID = conv.ID
	}
	g.events.Emit(event)
}
