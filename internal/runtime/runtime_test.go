package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shepherd-ai/shepherd/internal/agent"
	"github.com/shepherd-ai/shepherd/internal/config"
	"github.com/shepherd-ai/shepherd/internal/mcp"
	"github.com/shepherd-ai/shepherd/internal/profiles"
	"github.com/shepherd-ai/shepherd/internal/routing"
	"github.com/shepherd-ai/shepherd/internal/sessions"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// scriptedProvider replays a fixed sequence of model responses.
type scriptedProvider struct {
	mu     sync.Mutex
	script []scriptedStep
	calls  int
}

type scriptedStep struct {
	msg *models.Message
	err error
}

func textStep(content string) scriptedStep {
	return scriptedStep{msg: &models.Message{Role: models.RoleAI, Content: content}}
}

func toolStep(calls ...models.ToolCall) scriptedStep {
	return scriptedStep{msg: &models.Message{Role: models.RoleAI, ToolCalls: calls}}
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) Complete(_ context.Context, _ *agent.CompletionRequest) (*models.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.script) {
		return nil, fmt.Errorf("script exhausted after %d calls", p.calls)
	}
	step := p.script[p.calls]
	p.calls++
	if step.err != nil {
		return nil, step.err
	}
	msg := *step.msg
	return &msg, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// toolServer answers the JSON-RPC methods the runtime uses during
// construction and tool execution.
func toolServer(t *testing.T, tools []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcp.JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			return
		}
		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{"protocolVersion": "2025-03-26"}
		case "tools/list":
			result = map[string]any{"tools": tools}
		case "tools/call":
			result = map[string]any{
				"content": []map[string]any{{"type": "text", "text": "ok"}},
				"isError": false,
			}
		default:
			t.Errorf("unexpected method %q", req.Method)
		}
		resp := mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
		resp.Result, _ = json.Marshal(result)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func testAgentProfile(name, endpoint string) *profiles.Profile {
	return &profiles.Profile{
		Name:         name,
		Description:  "Manages " + name + " workloads.",
		SystemPrompt: "You are the " + name + " assistant.",
		Endpoint:     strings.TrimPrefix(endpoint, "http://"),
		Enabled:      true,
		ValidationRules: []profiles.ValidationRule{
			{ToolName: "create_resource", Kind: profiles.ActionCreate},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Profiles.Insecure = true
	return cfg
}

func newRuntime(t *testing.T, provider agent.ModelProvider, profs ...*profiles.Profile) (*Runtime, *sessions.MemoryStore) {
	t.Helper()
	store := sessions.NewMemoryStore()
	factory := NewFactory(provider, nil, nil, nil, testConfig(), nil, nil)
	rt := New(store, profiles.StaticProvider(profs), factory, nil, nil)
	return rt, store
}

func defaultTools() []map[string]any {
	return []map[string]any{
		{"name": "get_pods", "description": "List pods"},
		{"name": "create_resource", "description": "Create a resource"},
	}
}

func TestToolboxFiltersByToolset(t *testing.T) {
	descriptors := []mcp.ToolDescriptor{
		{Name: "get_pods", Meta: map[string]any{"toolset": "clusters"}},
		{Name: "get_routes", Meta: map[string]any{"toolset": "mesh"}},
		{Name: "untagged"},
	}

	t.Run("empty toolset admits everything", func(t *testing.T) {
		box := newToolbox(nil, descriptors, "", nil)
		if len(box.Descriptors()) != 3 {
			t.Errorf("got %d tools, want 3", len(box.Descriptors()))
		}
	})

	t.Run("tagged toolset filters", func(t *testing.T) {
		box := newToolbox(nil, descriptors, "clusters", nil)
		got := box.Descriptors()
		if len(got) != 1 || got[0].Name != "get_pods" {
			t.Errorf("got %v, want only get_pods", got)
		}
	})

	t.Run("unknown tool rejected before transport", func(t *testing.T) {
		box := newToolbox(nil, descriptors, "clusters", nil)
		_, err := box.Invoke(t.Context(), "get_routes", nil)
		if !errors.Is(err, agent.ErrToolNotFound) {
			t.Errorf("expected ErrToolNotFound, got %v", err)
		}
	})
}

func TestFactoryBuildSingleAgent(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	factory := NewFactory(&scriptedProvider{}, nil, nil, nil, testConfig(), nil, nil)
	set, err := factory.Build(t.Context(), []*profiles.Profile{testAgentProfile("platform", server.URL)})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if set.router != nil {
		t.Error("single agent should not get a router")
	}
	if _, err := set.controller("platform"); err != nil {
		t.Errorf("controller(platform) error: %v", err)
	}
	if set.single() != "platform" {
		t.Errorf("single() = %q", set.single())
	}
}

func TestFactoryBuildSkipsFailedAgents(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	dead := toolServer(t, nil)
	dead.Close()

	factory := NewFactory(&scriptedProvider{}, nil, nil, nil, testConfig(), nil, nil)
	set, err := factory.Build(t.Context(), []*profiles.Profile{
		testAgentProfile("platform", server.URL),
		testAgentProfile("delivery", dead.URL),
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(set.profiles) != 1 || set.profiles[0].Name != "platform" {
		t.Fatalf("expected only platform to survive, got %v", set.profiles)
	}
	if set.router != nil {
		t.Error("one survivor should disable routing")
	}
}

func TestFactoryBuildNoSurvivors(t *testing.T) {
	dead := toolServer(t, nil)
	dead.Close()

	factory := NewFactory(&scriptedProvider{}, nil, nil, nil, testConfig(), nil, nil)
	_, err := factory.Build(t.Context(), []*profiles.Profile{testAgentProfile("platform", dead.URL)})
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("expected ErrNoAgentAvailable, got %v", err)
	}
}

func TestFactoryBuildEmptyToolset(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	profile := testAgentProfile("platform", server.URL)
	profile.Toolset = "nonexistent"

	factory := NewFactory(&scriptedProvider{}, nil, nil, nil, testConfig(), nil, nil)
	_, err := factory.Build(t.Context(), []*profiles.Profile{profile})
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("expected ErrNoAgentAvailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "nonexistent") {
		t.Errorf("error should name the toolset: %v", err)
	}
}

func TestHandleTurnSingleAgent(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	provider := &scriptedProvider{script: []scriptedStep{textStep("all pods healthy")}}
	rt, store := newRuntime(t, provider, testAgentProfile("platform", server.URL))

	outcome, err := rt.HandleTurn(t.Context(), "", "how are my pods?", "")
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}
	if outcome.Agent != "platform" {
		t.Errorf("agent = %q, want platform", outcome.Agent)
	}
	if outcome.Result.Reply == nil || outcome.Result.Reply.Content != "all pods healthy" {
		t.Errorf("unexpected reply: %+v", outcome.Result.Reply)
	}

	conv, err := store.Get(t.Context(), outcome.ConversationID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(conv.Messages))
	}
	if conv.Selected != nil {
		t.Errorf("no routing decision exists in single-agent mode, got %+v", conv.Selected)
	}
}

func TestSingleAgentApprovalEmitsNoRoutingTelemetry(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	provider := &scriptedProvider{script: []scriptedStep{
		toolStep(models.ToolCall{ID: "t1", Name: "create_resource", Args: map[string]any{
			"resource": map[string]any{"kind": "Deployment"},
			"name":     "api",
		}}),
		textStep("created"),
	}}

	var mu sync.Mutex
	var events []models.Event
	sink := models.EventSinkFunc(func(event models.Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	store := sessions.NewMemoryStore()
	factory := NewFactory(provider, nil, nil, sink, testConfig(), nil, nil)
	rt := New(store, profiles.StaticProvider{testAgentProfile("platform", server.URL)}, factory, nil, nil)

	outcome, err := rt.HandleTurn(t.Context(), "", "create the api deployment", "")
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}
	if outcome.Result.Suspension == nil {
		t.Fatal("expected a suspension")
	}

	resumed, err := rt.HandleApproval(t.Context(), outcome.ConversationID, outcome.Result.Suspension.Token, "yes")
	if err != nil {
		t.Fatalf("HandleApproval() error: %v", err)
	}
	if resumed.Result.Reply == nil {
		t.Fatalf("expected a reply after approval, got %+v", resumed.Result)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, event := range events {
		if event.Kind == models.EventRouting {
			t.Errorf("routing telemetry emitted without a router: %q", event.Content)
		}
	}
}

func TestHandleTurnRoutesBetweenAgents(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	// First completion answers the routing prompt, second the turn.
	provider := &scriptedProvider{script: []scriptedStep{
		textStep("delivery"),
		textStep("pipeline is green"),
	}}
	rt, store := newRuntime(t, provider,
		testAgentProfile("platform", server.URL),
		testAgentProfile("delivery", server.URL),
	)

	outcome, err := rt.HandleTurn(t.Context(), "", "did the deploy finish?", "")
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}
	if outcome.Agent != "delivery" {
		t.Errorf("agent = %q, want delivery", outcome.Agent)
	}

	conv, err := store.Get(t.Context(), outcome.ConversationID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conv.Selected == nil || conv.Selected.Mode != models.SelectionAuto {
		t.Errorf("unexpected selection: %+v", conv.Selected)
	}
	if conv.Routing.LastSelected != "delivery" || conv.Routing.Streak != 1 {
		t.Errorf("routing memory not persisted: %+v", conv.Routing)
	}
}

func TestHandleTurnManualOverride(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	provider := &scriptedProvider{script: []scriptedStep{textStep("working on it")}}
	rt, _ := newRuntime(t, provider,
		testAgentProfile("platform", server.URL),
		testAgentProfile("delivery", server.URL),
	)

	outcome, err := rt.HandleTurn(t.Context(), "", "check the rollout", "delivery")
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}
	if outcome.Agent != "delivery" {
		t.Errorf("agent = %q, want delivery", outcome.Agent)
	}
	// Only the turn itself should hit the model; no routing round.
	if provider.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", provider.callCount())
	}
}

func TestHandleTurnUnknownOverride(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	rt, _ := newRuntime(t, &scriptedProvider{}, testAgentProfile("platform", server.URL))

	_, err := rt.HandleTurn(t.Context(), "", "hello", "imaginary")
	if !errors.Is(err, routing.ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestHandleTurnRejectsSecondConcurrentTurn(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	provider := &scriptedProvider{script: []scriptedStep{textStep("first"), textStep("second")}}
	rt, _ := newRuntime(t, provider, testAgentProfile("platform", server.URL))

	outcome, err := rt.HandleTurn(t.Context(), "", "first message", "")
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}

	// Simulate a racing turn by holding the lock ourselves.
	if err := rt.locker.Acquire(outcome.ConversationID); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	_, err = rt.HandleTurn(t.Context(), outcome.ConversationID, "second message", "")
	if !errors.Is(err, sessions.ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}
	rt.locker.Release(outcome.ConversationID)
}

func TestApprovalRoundTrip(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	provider := &scriptedProvider{script: []scriptedStep{
		toolStep(models.ToolCall{ID: "t1", Name: "create_resource", Args: map[string]any{
			"resource": map[string]any{"kind": "Deployment"},
			"name":     "api",
		}}),
		textStep("created the deployment"),
	}}
	rt, store := newRuntime(t, provider, testAgentProfile("platform", server.URL))

	outcome, err := rt.HandleTurn(t.Context(), "", "create the api deployment", "")
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}
	if outcome.Result.Phase != agent.PhaseAwaitingApproval {
		t.Fatalf("phase = %q, want awaiting approval", outcome.Result.Phase)
	}
	if outcome.Result.Suspension == nil {
		t.Fatal("expected a suspension")
	}

	// A new message cannot start while the approval is pending.
	if _, err := rt.HandleTurn(t.Context(), outcome.ConversationID, "anything", ""); !errors.Is(err, ErrConversationSuspended) {
		t.Fatalf("expected ErrConversationSuspended, got %v", err)
	}

	resumed, err := rt.HandleApproval(t.Context(), outcome.ConversationID, outcome.Result.Suspension.Token, "yes")
	if err != nil {
		t.Fatalf("HandleApproval() error: %v", err)
	}
	if resumed.Result.Reply == nil || resumed.Result.Reply.Content != "created the deployment" {
		t.Errorf("unexpected reply after approval: %+v", resumed.Result.Reply)
	}

	conv, err := store.Get(t.Context(), outcome.ConversationID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conv.Suspension != nil {
		t.Error("suspension should be cleared after resolution")
	}
}

func TestApprovalDeclineCancelsBatch(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	provider := &scriptedProvider{script: []scriptedStep{
		toolStep(models.ToolCall{ID: "t1", Name: "create_resource", Args: map[string]any{
			"resource": map[string]any{"kind": "Deployment"},
		}}),
	}}
	rt, store := newRuntime(t, provider, testAgentProfile("platform", server.URL))

	outcome, err := rt.HandleTurn(t.Context(), "", "create it", "")
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}

	resumed, err := rt.HandleApproval(t.Context(), outcome.ConversationID, outcome.Result.Suspension.Token, "no")
	if err != nil {
		t.Fatalf("HandleApproval() error: %v", err)
	}
	if !resumed.Result.Cancelled {
		t.Error("decline should cancel the batch")
	}

	conv, err := store.Get(t.Context(), outcome.ConversationID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	last := conv.LastMessage()
	if last == nil || last.Content != models.CancellationNotice {
		t.Errorf("expected cancellation notice, got %+v", last)
	}
}

func TestPrunerExpiresStaleApprovals(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	provider := &scriptedProvider{script: []scriptedStep{
		toolStep(models.ToolCall{ID: "t1", Name: "create_resource", Args: map[string]any{
			"resource": map[string]any{"kind": "Deployment"},
		}}),
	}}
	rt, store := newRuntime(t, provider, testAgentProfile("platform", server.URL))

	outcome, err := rt.HandleTurn(t.Context(), "", "create it", "")
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}

	// Backdate the suspension past the TTL.
	conv, err := store.Get(t.Context(), outcome.ConversationID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	conv.Suspension.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := store.Save(t.Context(), conv); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	pruner, err := NewPruner(rt, store, 10*time.Minute, "@every 1m", nil, nil)
	if err != nil {
		t.Fatalf("NewPruner() error: %v", err)
	}
	pruner.sweep()

	conv, err = store.Get(t.Context(), outcome.ConversationID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conv.Suspension != nil {
		t.Error("expired suspension should be cleared")
	}
	last := conv.LastMessage()
	if last == nil || last.Content != models.CancellationNotice {
		t.Errorf("expected cancellation notice, got %+v", last)
	}
}

func TestPrunerKeepsFreshApprovals(t *testing.T) {
	server := toolServer(t, defaultTools())
	defer server.Close()

	provider := &scriptedProvider{script: []scriptedStep{
		toolStep(models.ToolCall{ID: "t1", Name: "create_resource", Args: map[string]any{
			"resource": map[string]any{"kind": "Deployment"},
		}}),
	}}
	rt, store := newRuntime(t, provider, testAgentProfile("platform", server.URL))

	outcome, err := rt.HandleTurn(t.Context(), "", "create it", "")
	if err != nil {
		t.Fatalf("HandleTurn() error: %v", err)
	}

	pruner, err := NewPruner(rt, store, time.Hour, "@every 1m", nil, nil)
	if err != nil {
		t.Fatalf("NewPruner() error: %v", err)
	}
	pruner.sweep()

	conv, err := store.Get(t.Context(), outcome.ConversationID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conv.Suspension == nil {
		t.Error("fresh suspension should survive the sweep")
	}
}
