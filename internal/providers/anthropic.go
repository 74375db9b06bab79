package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/shepherd-ai/shepherd/internal/agent"
	"github.com/shepherd-ai/shepherd/internal/mcp"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// AnthropicConfig holds connection settings for the Anthropic backend.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(options...),
		model:  config.Model,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Model() string { return p.model }

// Complete performs a single non-streaming messages round.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*models.Message, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}

	// System prompts live outside the message list in this API. History
	// system messages are folded into the same block.
	if system := collectSystemText(req.System, req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: completion failed: %w", err)
	}

	return messageFromAnthropicContent(resp.Content)
}

func collectSystemText(system string, messages []*models.Message) string {
	text := system
	for _, msg := range messages {
		if msg.Role != models.RoleSystem || msg.Content == "" {
			continue
		}
		if text != "" {
			text += "\n\n"
		}
		text += msg.Content
	}
	return text
}

func convertAnthropicMessages(messages []*models.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case models.RoleTool:
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		default:
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAI {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result
}

func convertAnthropicTools(tools []mcp.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
			}
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, param)
	}

	return result, nil
}

// messageFromAnthropicContent converts response content blocks into an
// internal assistant message. A tool_use block whose input fails to decode
// as a JSON object is a malformed tool call, which callers treat as
// retryable.
func messageFromAnthropicContent(blocks []anthropic.ContentBlockUnion) (*models.Message, error) {
	msg := &models.Message{Role: models.RoleAI}

	for _, block := range blocks {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("%w: tool %s input: %v", agent.ErrMalformedToolCall, block.Name, err)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}

	return msg, nil
}
