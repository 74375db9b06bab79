package models

import (
	"encoding/json"
	"fmt"
)

// CancellationNotice is the literal tool-result content recorded when a human
// declines a gated tool call. Downstream prompts rely on the exact wording, so
// it must never change.
const CancellationNotice = "tool execution cancelled by the user"

// EventKind classifies side-channel events emitted alongside the transcript.
type EventKind string

const (
	// EventRouting carries an <agent-metadata> envelope.
	EventRouting EventKind = "routing"

	// EventConfirmation carries a <confirmation-response> envelope for a
	// gated tool call awaiting human approval.
	EventConfirmation EventKind = "confirmation"

	// EventUIContext carries an <mcp-response> envelope with structured
	// context extracted from a tool result.
	EventUIContext EventKind = "ui_context"

	// EventDocLink carries an <mcp-doclink> envelope with a single
	// documentation link extracted from a tool result.
	EventDocLink EventKind = "doc_link"
)

// Event is a side-channel notification delivered to the caller outside the
// message transcript. Content is the fully rendered wire envelope.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content"`
}

// EventSink receives side-channel events as they are produced. Emit must be
// safe for concurrent use; implementations should not block.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

// Emit calls f(event).
func (f EventSinkFunc) Emit(event Event) { f(event) }

// DiscardEvents is an EventSink that drops everything.
var DiscardEvents EventSink = EventSinkFunc(func(Event) {})

// RoutingEvent is the payload of an <agent-metadata> envelope, emitted after
// every routing decision.
type RoutingEvent struct {
	AgentName     string        `json:"agentName"`
	SelectionMode SelectionMode `json:"selectionMode"`

	// Recommended is set when the same agent has won enough consecutive
	// automatic decisions that the caller may pin it.
	Recommended string `json:"recommended,omitempty"`
}

// Encode renders the <agent-metadata> wire envelope.
func (e RoutingEvent) Encode() string {
	raw, _ := json.Marshal(e)
	return fmt.Sprintf("<agent-metadata>%s</agent-metadata>", raw)
}

// ConfirmationResource describes the object a gated tool call would touch.
type ConfirmationResource struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
}

// Confirmation is the payload of a <confirmation-response> envelope presented
// to the human before a gated tool call runs.
type Confirmation struct {
	// Payload is the create body or update patch, verbatim from the
	// tool-call arguments.
	Payload any `json:"payload"`

	// Type is the lowercase action kind, "create" or "update".
	Type string `json:"type"`

	Resource ConfirmationResource `json:"resource"`
}

// Encode renders the <confirmation-response> wire envelope.
func (c Confirmation) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode confirmation: %w", err)
	}
	return fmt.Sprintf("<confirmation-response>%s</confirmation-response>", raw), nil
}

// EncodeUIContext renders an <mcp-response> envelope around the given
// structured value.
func EncodeUIContext(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode ui context: %w", err)
	}
	return fmt.Sprintf("<mcp-response>%s</mcp-response>", raw), nil
}

// EncodeDocLink renders an <mcp-doclink> envelope around a single link.
func EncodeDocLink(link string) string {
	return fmt.Sprintf("<mcp-doclink>%s</mcp-doclink>", link)
}
