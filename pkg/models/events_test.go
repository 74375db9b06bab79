package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRoutingEventEncode(t *testing.T) {
	tests := []struct {
		name  string
		event RoutingEvent
		want  string
	}{
		{
			name:  "auto selection",
			event: RoutingEvent{AgentName: "platform", SelectionMode: SelectionAuto},
			want:  `<agent-metadata>{"agentName":"platform","selectionMode":"auto"}</agent-metadata>`,
		},
		{
			name:  "manual selection",
			event: RoutingEvent{AgentName: "fleet", SelectionMode: SelectionManual},
			want:  `<agent-metadata>{"agentName":"fleet","selectionMode":"manual"}</agent-metadata>`,
		},
		{
			name:  "sticky recommendation",
			event: RoutingEvent{AgentName: "fleet", SelectionMode: SelectionAuto, Recommended: "fleet"},
			want:  `<agent-metadata>{"agentName":"fleet","selectionMode":"auto","recommended":"fleet"}</agent-metadata>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfirmationEncode(t *testing.T) {
	c := Confirmation{
		Payload: map[string]any{"metadata": map[string]any{"name": "web"}},
		Type:    "create",
		Resource: ConfirmationResource{
			Name:      "web",
			Kind:      "Deployment",
			Cluster:   "local",
			Namespace: "default",
		},
	}

	got, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !strings.HasPrefix(got, "<confirmation-response>") || !strings.HasSuffix(got, "</confirmation-response>") {
		t.Fatalf("missing envelope tags: %q", got)
	}

	body := strings.TrimSuffix(strings.TrimPrefix(got, "<confirmation-response>"), "</confirmation-response>")
	var decoded Confirmation
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("envelope body is not valid JSON: %v", err)
	}
	if decoded.Type != "create" {
		t.Errorf("type = %q, want %q", decoded.Type, "create")
	}
	if decoded.Resource.Kind != "Deployment" {
		t.Errorf("resource kind = %q, want %q", decoded.Resource.Kind, "Deployment")
	}
}

func TestEncodeDocLink(t *testing.T) {
	got := EncodeDocLink("https://docs.example.com/deployments")
	want := "<mcp-doclink>https://docs.example.com/deployments</mcp-doclink>"
	if got != want {
		t.Errorf("EncodeDocLink() = %q, want %q", got, want)
	}
}

func TestConversationLastMessages(t *testing.T) {
	conv := &Conversation{
		ID: "c1",
		Messages: []*Message{
			{Role: RoleHuman, Content: "list my clusters"},
			{Role: RoleAI, Content: "you have two clusters"},
			{Role: RoleTool, Content: "{}"},
		},
	}

	if got := conv.LastMessage(); got == nil || got.Role != RoleTool {
		t.Errorf("LastMessage() = %+v, want tool message", got)
	}
	if got := conv.LastHumanMessage(); got == nil || got.Content != "list my clusters" {
		t.Errorf("LastHumanMessage() = %+v, want first human message", got)
	}

	empty := &Conversation{ID: "c2"}
	if got := empty.LastMessage(); got != nil {
		t.Errorf("LastMessage() on empty conversation = %+v, want nil", got)
	}
}

func TestSummaryEmpty(t *testing.T) {
	if !(Summary{}).Empty() {
		t.Error("zero summary should be empty")
	}
	if (Summary{Text: "recap", CoveredCount: 4}).Empty() {
		t.Error("populated summary should not be empty")
	}
}
