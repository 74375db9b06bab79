package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

const protocolVersion = "2025-03-26"

// Client talks to one MCP tool server.
type Client struct {
	transport *HTTPTransport
	logger    *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// NewClient builds a client for the given server configuration.
func NewClient(config TransportConfig, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: NewHTTPTransport(config, logger),
		logger:    logger.With("endpoint", config.Endpoint),
	}, nil
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ensureInitialized performs the MCP initialize handshake once per client.
func (c *Client) ensureInitialized(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "shepherd", Version: "1.0.0"},
	}
	if _, err := c.transport.Call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	c.initialized = true
	c.logger.Debug("tool server initialized")
	return nil
}

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	var payload struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	return payload.Tools, nil
}

// CallTool invokes one tool. A result with IsError set reports an operational
// failure from the tool itself; the returned Go error covers transport and
// protocol failures only.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}

	var toolResult ToolResult
	if err := json.Unmarshal(result, &toolResult); err != nil {
		return nil, fmt.Errorf("decode result for %s: %w", name, err)
	}
	return &toolResult, nil
}
