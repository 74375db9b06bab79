// Package mcp implements a Model Context Protocol client for HTTP tool
// servers: JSON-RPC 2.0 requests with per-server authentication.
package mcp

import (
	"encoding/json"
	"strings"
)

// JSONRPCRequest is a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ToolDescriptor describes one tool advertised by a server.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	// Meta carries server-defined annotations, including the toolset tag.
	Meta map[string]any `json:"_meta,omitempty"`
}

// Toolset returns the descriptor's toolset tag. Absent or non-string
// metadata yields "", which never matches a configured filter.
func (d ToolDescriptor) Toolset() string {
	if d.Meta == nil {
		return ""
	}
	if s, ok := d.Meta["toolset"].(string); ok {
		return s
	}
	return ""
}

// ContentBlock is one element of a tool result payload.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the outcome of one tool invocation. IsError marks an
// operational failure reported by the tool itself, as opposed to a
// transport-level error.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text returns the result's first text block, or all text blocks joined when
// the first is not text. An empty result yields "".
func (r *ToolResult) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	if r.Content[0].Type == "text" {
		return r.Content[0].Text
	}
	var parts []string
	for _, block := range r.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
