package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wisbric/promptgate/internal/config"
	"github.com/wisbric/promptgate/pkg/conversation"
	"github.com/wisbric/promptgate/pkg/provider"
)

// defaultSummaryModel is used when an agent has no conversation_summary_model
// configured.
const defaultSummaryModel = "gpt-4o-mini"

// newSummarizer builds the conversation.Summarizer the Coordinator uses to
// generate snapshot summaries off the response-critical path (§4.9). It
// proxies a single non-streaming chat-completion call through the
// OpenAI-compatible adapter using the process-wide fallback credentials,
// since the Coordinator only has a tenant/conversation ID to work with, not
// a resolved per-tenant provider_config (see DESIGN.md).
func newSummarizer(cfg *config.Config) conversation.Summarizer {
	return func(ctx context.Context, tenantID, conversationID uuid.UUID, summaryModel *string, messages []conversation.Message) (string, error) {
		adapterCfg, err := json.Marshal(provider.OpenAIConfig{
			BaseURL: "https://api.openai.com",
			APIKey:  cfg.OpenAIAPIKey,
		})
		if err != nil {
			return "", fmt.Errorf("summarizer: encoding adapter config: %w", err)
		}
		adapter, err := provider.NewOpenAIAdapter(adapterCfg)
		if err != nil {
			return "", fmt.Errorf("summarizer: building adapter: %w", err)
		}

		model := defaultSummaryModel
		if summaryModel != nil && *summaryModel != "" {
			model = *summaryModel
		}

		var transcript strings.Builder
		for _, m := range messages {
			fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
		}

		body, err := json.Marshal(map[string]any{
			"model": model,
			"messages": []map[string]string{
				{"role": "system", "content": "Summarize the following conversation concisely, preserving facts and decisions needed to continue it later."},
				{"role": "user", "content": transcript.String()},
			},
		})
		if err != nil {
			return "", fmt.Errorf("summarizer: encoding request: %w", err)
		}

		resp, err := adapter.Proxy(&provider.Request{Path: "/v1/chat/completions", Method: "POST", Body: body})
		if err != nil {
			return "", fmt.Errorf("summarizer: calling provider: %w", err)
		}
		if resp.Streaming {
			return "", fmt.Errorf("summarizer: unexpected streaming response")
		}

		summary := gjson.GetBytes(resp.Body, "choices.0.message.content").String()
		if summary == "" {
			return "", fmt.Errorf("summarizer: empty summary in provider response")
		}
		return summary, nil
	}
}
