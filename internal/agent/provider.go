// Package agent runs conversation turns: model invocation with bounded
// retry, history compaction, tool execution behind human-approval gates, and
// the state machine tying them together.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shepherd-ai/shepherd/internal/mcp"
	"github.com/shepherd-ai/shepherd/internal/observability"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// CompletionRequest is one model invocation.
type CompletionRequest struct {
	// System is the instruction block, kept separate from the transcript.
	System string

	// Messages is the effective context window, oldest first.
	Messages []*models.Message

	// Tools advertises the invocable tools. Empty disables tool calling.
	Tools []mcp.ToolDescriptor

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// ModelProvider adapts one LLM backend. Complete returns a RoleAI message;
// tool-call payloads that cannot be decoded yield ErrMalformedToolCall.
type ModelProvider interface {
	// Name identifies the backend ("openai", "anthropic").
	Name() string

	// Model is the configured model identifier.
	Model() string

	Complete(ctx context.Context, req *CompletionRequest) (*models.Message, error)
}

// maxModelAttempts bounds model invocations per logical call: the original
// attempt plus one retry for malformed tool-call payloads.
const maxModelAttempts = 2

// completeWithRetry invokes the provider, retrying once when the response
// carried an undecodable tool call. All other failures surface immediately,
// and a second malformed payload surfaces as-is.
func completeWithRetry(ctx context.Context, provider ModelProvider, req *CompletionRequest, metrics *observability.Metrics, logger *slog.Logger) (*models.Message, error) {
	var lastErr error
	for attempt := 1; attempt <= maxModelAttempts; attempt++ {
		start := time.Now()
		msg, err := provider.Complete(ctx, req)
		if metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			metrics.ModelRequests.WithLabelValues(provider.Name(), provider.Model(), status).Inc()
			metrics.ModelRequestDuration.WithLabelValues(provider.Name(), provider.Model()).Observe(time.Since(start).Seconds())
		}
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, ErrMalformedToolCall) || attempt == maxModelAttempts {
			return nil, err
		}

		logger.Warn("retrying model call after malformed tool-call payload",
			"provider", provider.Name(), "attempt", attempt, "error", err)
		if metrics != nil {
			metrics.ModelRetries.WithLabelValues(provider.Name()).Inc()
		}
		lastErr = err
	}
	return nil, lastErr
}
