// Package runtime assembles profiles, tool servers, routing and turn
// control into a running conversation engine.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shepherd-ai/shepherd/internal/agent"
	"github.com/shepherd-ai/shepherd/internal/mcp"
)

// mcpToolbox exposes a filtered view of one tool server to the agent.
type mcpToolbox struct {
	client *mcp.Client
	tools  []mcp.ToolDescriptor
	known  map[string]struct{}
}

// newToolbox filters the advertised tools down to the profile's toolset.
// An empty toolset admits every tool; otherwise only tools whose metadata
// tag equals it exactly survive.
func newToolbox(client *mcp.Client, descriptors []mcp.ToolDescriptor, toolset string, logger *slog.Logger) *mcpToolbox {
	if logger == nil {
		logger = slog.Default()
	}

	box := &mcpToolbox{
		client: client,
		known:  make(map[string]struct{}),
	}
	for _, d := range descriptors {
		if toolset != "" && d.Toolset() != toolset {
			logger.Debug("tool excluded by toolset filter",
				"tool", d.Name,
				"toolset", toolset)
			continue
		}
		box.tools = append(box.tools, d)
		box.known[d.Name] = struct{}{}
	}
	return box
}

func (b *mcpToolbox) Descriptors() []mcp.ToolDescriptor {
	return b.tools
}

func (b *mcpToolbox) Invoke(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	if _, ok := b.known[name]; !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrToolNotFound, name)
	}
	return b.client.CallTool(ctx, name, args)
}
