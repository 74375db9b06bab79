package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shepherd-ai/shepherd/internal/mcp"
	"github.com/shepherd-ai/shepherd/internal/profiles"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// fakeProvider replays a scripted sequence of responses or errors.
type fakeProvider struct {
	mu       sync.Mutex
	script   []fakeStep
	requests []*CompletionRequest
}

type fakeStep struct {
	msg *models.Message
	err error
}

func textReply(content string) fakeStep {
	return fakeStep{msg: &models.Message{Role: models.RoleAI, Content: content}}
}

func toolReply(calls ...models.ToolCall) fakeStep {
	return fakeStep{msg: &models.Message{Role: models.RoleAI, ToolCalls: calls}}
}

func failure(err error) fakeStep {
	return fakeStep{err: err}
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-1" }

func (p *fakeProvider) Complete(_ context.Context, req *CompletionRequest) (*models.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		return nil, fmt.Errorf("fake provider script exhausted")
	}
	step := p.script[0]
	p.script = p.script[1:]
	if step.err != nil {
		return nil, step.err
	}
	// Copy so transcript mutation doesn't corrupt the script.
	msg := *step.msg
	return &msg, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// fakeToolbox resolves tools against canned results keyed by tool name.
type fakeToolbox struct {
	mu      sync.Mutex
	results map[string]*mcp.ToolResult
	errs    map[string]error
	invoked []string
}

func newFakeToolbox() *fakeToolbox {
	return &fakeToolbox{
		results: make(map[string]*mcp.ToolResult),
		errs:    make(map[string]error),
	}
}

func (b *fakeToolbox) setText(tool, text string) {
	b.results[tool] = &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}
}

func (b *fakeToolbox) setError(tool, text string) {
	b.results[tool] = &mcp.ToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func (b *fakeToolbox) Descriptors() []mcp.ToolDescriptor {
	out := make([]mcp.ToolDescriptor, 0, len(b.results))
	for name := range b.results {
		out = append(out, mcp.ToolDescriptor{Name: name, InputSchema: json.RawMessage(`{"type":"object"}`)})
	}
	return out
}

func (b *fakeToolbox) Invoke(_ context.Context, name string, _ map[string]any) (*mcp.ToolResult, error) {
	b.mu.Lock()
	b.invoked = append(b.invoked, name)
	b.mu.Unlock()
	if err, ok := b.errs[name]; ok {
		return nil, err
	}
	if res, ok := b.results[name]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

func (b *fakeToolbox) invocations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.invoked...)
}

// captureSink collects emitted events.
type captureSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *captureSink) Emit(event models.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *captureSink) byKind(kind models.EventKind) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func testProfile() *profiles.Profile {
	return &profiles.Profile{
		Name:         "platform",
		Description:  "Manages clusters and workloads.",
		SystemPrompt: "You are a platform assistant.",
		Endpoint:     "rancher.local/mcp",
		Enabled:      true,
		ValidationRules: []profiles.ValidationRule{
			{ToolName: "create_resource", Kind: profiles.ActionCreate},
			{ToolName: "patch_resource", Kind: profiles.ActionUpdate},
			{ToolName: "delete_resource", Kind: profiles.ActionDelete},
		},
	}
}

func humanMsg(content string) *models.Message {
	return &models.Message{Role: models.RoleHuman, Content: content}
}

func conversationWith(messages ...*models.Message) *models.Conversation {
	return &models.Conversation{ID: "conv-1", Messages: messages}
}
