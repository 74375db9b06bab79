// Package providers contains model backends implementing agent.ModelProvider.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/shepherd-ai/shepherd/internal/agent"
	"github.com/shepherd-ai/shepherd/internal/mcp"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// OpenAIProvider talks to the OpenAI chat completions API (or any
// compatible endpoint via BaseURL).
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// OpenAIConfig holds connection settings for the OpenAI backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Model() string { return p.model }

// Complete performs a single non-streaming chat completion round.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*models.Message, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: convertOpenAIMessages(req.System, req.Messages),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if isToolParseFailure(err) {
			return nil, fmt.Errorf("%w: %v", agent.ErrMalformedToolCall, err)
		}
		return nil, fmt.Errorf("openai: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: completion returned no choices")
	}

	return messageFromOpenAIChoice(resp.Choices[0].Message)
}

func convertOpenAIMessages(system string, messages []*models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case models.RoleHuman:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case models.RoleAI:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: encodeArgs(tc.Args),
						},
					}
				}
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		}
	}

	return result
}

func convertOpenAITools(tools []mcp.ToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil || schema == nil {
			// Keep the other tools working when one ships a bad schema.
			schema = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}

	return result
}

func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// messageFromOpenAIChoice converts an API response message into an internal
// assistant message. Arguments that fail to decode as a JSON object are a
// malformed tool call, which callers treat as retryable.
func messageFromOpenAIChoice(choice openai.ChatCompletionMessage) (*models.Message, error) {
	msg := &models.Message{
		Role:    models.RoleAI,
		Content: choice.Content,
	}

	for _, tc := range choice.ToolCalls {
		args := map[string]any{}
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: tool %s arguments: %v", agent.ErrMalformedToolCall, tc.Function.Name, err)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	return msg, nil
}

// isToolParseFailure reports whether an API-side error indicates the model
// produced tool call arguments the server could not parse.
func isToolParseFailure(err error) bool {
	text := strings.ToLower(err.Error())
	if !strings.Contains(text, "tool") {
		return false
	}
	return strings.Contains(text, "parse") || strings.Contains(text, "invalid")
}
