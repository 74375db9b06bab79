package models

import (
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	// RoleSystem marks instructions injected by the runtime, such as the
	// rolling conversation summary.
	RoleSystem Role = "system"

	// RoleHuman marks messages typed by the end user.
	RoleHuman Role = "human"

	// RoleAI marks assistant turns produced by a model provider.
	RoleAI Role = "ai"

	// RoleTool marks the result of a single tool invocation.
	RoleTool Role = "tool"
)

// SelectionMode records how the active agent for a conversation was chosen.
type SelectionMode string

const (
	// SelectionAuto means the router picked the agent from the conversation.
	SelectionAuto SelectionMode = "auto"

	// SelectionManual means the caller pinned the agent explicitly.
	SelectionManual SelectionMode = "manual"
)

// ToolCall is a single tool invocation requested by an assistant message.
type ToolCall struct {
	// ID is the provider-assigned call identifier, echoed back in the
	// matching tool result message.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Args holds the decoded invocation arguments.
	Args map[string]any `json:"args,omitempty"`
}

// Message is one entry in a conversation transcript.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Name carries the tool name for RoleTool messages.
	Name string `json:"name,omitempty"`

	// ToolCallID links a RoleTool message back to the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls are set on RoleAI messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Metadata carries per-message annotations such as the originating
	// request ID and the agent that produced the message.
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasToolCalls reports whether this message requests any tool execution.
func (m *Message) HasToolCalls() bool {
	return m != nil && len(m.ToolCalls) > 0
}

// Summary is the rolling compaction state of a conversation. Text summarizes
// the first CoveredCount transcript messages; messages past that index are
// still sent to the model verbatim.
type Summary struct {
	Text         string `json:"text,omitempty"`
	CoveredCount int    `json:"covered_count"`
}

// Empty reports whether no compaction has happened yet.
func (s Summary) Empty() bool {
	return s.CoveredCount == 0
}

// RoutingMemory tracks consecutive automatic routing decisions for one
// conversation. It backs the sticky-agent recommendation.
type RoutingMemory struct {
	// LastSelected is the agent chosen by the most recent automatic decision.
	LastSelected string `json:"last_selected,omitempty"`

	// Streak counts how many consecutive decisions selected LastSelected.
	Streak int `json:"streak"`
}

// SelectedAgent records the agent currently handling a conversation.
type SelectedAgent struct {
	Name string        `json:"name"`
	Mode SelectionMode `json:"mode"`
}

// Suspension is the persisted continuation of a turn that stopped at a
// gated tool call. It carries everything needed to resume after the human
// answers, including across a process restart.
type Suspension struct {
	// ToolCallID identifies the pending call within the last assistant
	// message of the transcript.
	ToolCallID string `json:"tool_call_id"`

	// Payload is the rendered confirmation prompt shown to the human.
	Payload string `json:"payload"`

	// Token must be presented with the approval answer.
	Token string `json:"token"`

	CreatedAt time.Time `json:"created_at"`
}

// Conversation is the full per-conversation state: the transcript plus the
// compaction, routing and suspension bookkeeping that survives restarts.
type Conversation struct {
	ID       string         `json:"id"`
	Messages []*Message     `json:"messages"`
	Summary  Summary        `json:"summary"`
	Selected *SelectedAgent `json:"selected,omitempty"`
	Routing  RoutingMemory  `json:"routing"`

	// Suspension is non-nil while a turn is parked awaiting approval.
	Suspension *Suspension `json:"suspension,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastMessage returns the newest transcript entry, or nil when empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// LastHumanMessage returns the newest RoleHuman entry, or nil.
func (c *Conversation) LastHumanMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleHuman {
			return c.Messages[i]
		}
	}
	return nil
}
