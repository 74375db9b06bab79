package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shepherd-ai/shepherd/internal/observability"
	"github.com/shepherd-ai/shepherd/pkg/models"
)

// DefaultCompactionThreshold is the uncovered message count at which the
// transcript gets summarized.
const DefaultCompactionThreshold = 7

const (
	summaryNotePrefix = "Conversation summary: "

	createSummaryPrompt = "Create a summary of the conversation above:"

	extendSummaryPreamble = "This is a summary of the conversation to date: "
	extendSummaryPrompt   = "Extend the summary by taking into account the new messages above:"
)

// Compactor maintains the rolling summary of a conversation. Compaction
// replaces already summarized history with a single system note while the
// transcript itself stays intact in the store.
type Compactor struct {
	provider  ModelProvider
	threshold int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewCompactor builds a compactor. A non-positive threshold selects the
// default.
func NewCompactor(provider ModelProvider, threshold int, metrics *observability.Metrics, logger *slog.Logger) *Compactor {
	if threshold <= 0 {
		threshold = DefaultCompactionThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		provider:  provider,
		threshold: threshold,
		metrics:   metrics,
		logger:    logger.With("component", "compaction"),
	}
}

// uncovered returns the messages not yet covered by the summary, clamping a
// covered count that exceeds the transcript.
func (c *Compactor) uncovered(conv *models.Conversation) []*models.Message {
	covered := conv.Summary.CoveredCount
	if covered < 0 {
		covered = 0
	}
	if covered > len(conv.Messages) {
		covered = len(conv.Messages)
	}
	return conv.Messages[covered:]
}

// Window builds the effective model context: the summary note, when one
// exists, followed by the uncovered transcript tail.
func (c *Compactor) Window(conv *models.Conversation) []*models.Message {
	tail := c.uncovered(conv)
	if conv.Summary.Empty() {
		return tail
	}
	window := make([]*models.Message, 0, len(tail)+1)
	window = append(window, &models.Message{
		ID:      uuid.NewString(),
		Role:    models.RoleSystem,
		Content: summaryNotePrefix + conv.Summary.Text,
	})
	return append(window, tail...)
}

// ShouldCompact reports whether the uncovered tail has reached the
// threshold.
func (c *Compactor) ShouldCompact(conv *models.Conversation) bool {
	return len(c.uncovered(conv)) >= c.threshold
}

// Compact summarizes the uncovered tail and advances the covered count to
// the full transcript length. Below the threshold it is a no-op, which makes
// back-to-back calls idempotent. The transcript is never modified.
func (c *Compactor) Compact(ctx context.Context, conv *models.Conversation) error {
	tail := c.uncovered(conv)
	if len(tail) < c.threshold {
		return nil
	}

	kind := "create"
	prompt := make([]*models.Message, 0, len(tail)+2)
	if !conv.Summary.Empty() {
		kind = "extend"
		prompt = append(prompt, &models.Message{
			Role:    models.RoleSystem,
			Content: extendSummaryPreamble + conv.Summary.Text,
		})
	}
	prompt = append(prompt, tail...)
	instruction := createSummaryPrompt
	if kind == "extend" {
		instruction = extendSummaryPrompt
	}
	prompt = append(prompt, &models.Message{Role: models.RoleHuman, Content: instruction})

	start := time.Now()
	resp, err := completeWithRetry(ctx, c.provider, &CompletionRequest{Messages: flattenForSummary(prompt)}, c.metrics, c.logger)
	if err != nil {
		return fmt.Errorf("summarize conversation %s: %w", conv.ID, err)
	}

	conv.Summary = models.Summary{
		Text:         resp.Content,
		CoveredCount: len(conv.Messages),
	}
	if c.metrics != nil {
		c.metrics.Compactions.WithLabelValues(kind).Inc()
	}
	c.logger.Info("conversation compacted",
		"conversation_id", conv.ID,
		"kind", kind,
		"covered", conv.Summary.CoveredCount,
		"duration", time.Since(start))
	return nil
}

// flattenForSummary rewrites tool transcript entries into plain text so the
// summarization call never replays tool-call structures to the provider.
func flattenForSummary(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.Role == models.RoleTool:
			out = append(out, &models.Message{
				Role:    models.RoleHuman,
				Content: fmt.Sprintf("[tool %s result] %s", msg.Name, msg.Content),
			})
		case msg.HasToolCalls():
			names := make([]string, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				names = append(names, call.Name)
			}
			content := msg.Content
			if content != "" {
				content += "\n"
			}
			out = append(out, &models.Message{
				Role:    models.RoleAI,
				Content: fmt.Sprintf("%s[invoked tools: %s]", content, strings.Join(names, ", ")),
			})
		default:
			out = append(out, msg)
		}
	}
	return out
}
