package conversation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Summarizer produces a summary over conversation messages, typically by
// calling the agent's conversation_summary_model provider.
type Summarizer func(ctx context.Context, tenantID, conversationID uuid.UUID, summaryModel *string, messages []Message) (summaryText string, err error)

// Coordinator schedules summarization and snapshot creation off the
// request's critical path: callers invoke MaybeSnapshot once a
// conversation's context has been loaded, and it summarizes and snapshots
// in a background goroutine without the caller waiting on any of it (§4.9
// snapshot trigger, "must not block the user-visible response").
type Coordinator struct {
	manager   *Manager
	summarize Summarizer
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(manager *Manager, summarize Summarizer, logger *slog.Logger) *Coordinator {
	return &Coordinator{manager: manager, summarize: summarize, logger: logger}
}

// MaybeSnapshot checks whether loaded's token estimate has reached
// tokenLimit and, if so, kicks off summarization and snapshot creation in a
// detached goroutine. It returns immediately in all cases.
func (c *Coordinator) MaybeSnapshot(tenantID, conversationID uuid.UUID, summaryModel *string, loaded *LoadedContext, tokenLimit int) {
	if loaded.TokenEstimate < tokenLimit || len(loaded.Messages) == 0 {
		return
	}

	messages := append([]Message(nil), loaded.Messages...)

	go func() {
		ctx := context.Background()
		summaryText, err := c.summarize(ctx, tenantID, conversationID, summaryModel, messages)
		if err != nil {
			c.logger.Error("summarizing conversation", "error", err, "conversation_id", conversationID)
			return
		}

		if _, err := c.manager.CreateSnapshot(ctx, tenantID, conversationID, summaryText, len(messages)); err != nil {
			c.logger.Error("creating conversation snapshot", "error", err, "conversation_id", conversationID)
		}
	}()
}
