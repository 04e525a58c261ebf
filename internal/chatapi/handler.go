// Package chatapi implements the core chat-completion proxy endpoint,
// wiring the agent-merge engine (C5), provider adapters (C6), the SSE
// pass-through pipe (C7), the MCP round-trip (C8), the conversation
// manager (C9), and the trace recorder (C10) into a single request
// pipeline.
package chatapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wisbric/promptgate/internal/httpserver"
	"github.com/wisbric/promptgate/internal/telemetry"
	"github.com/wisbric/promptgate/pkg/conversation"
	"github.com/wisbric/promptgate/pkg/mcp"
	"github.com/wisbric/promptgate/pkg/mergeengine"
	"github.com/wisbric/promptgate/pkg/provider"
	"github.com/wisbric/promptgate/pkg/sse"
	"github.com/wisbric/promptgate/pkg/tenant"
	"github.com/wisbric/promptgate/pkg/trace"
)

// Handler serves POST /v1/chat/completions.
type Handler struct {
	logger       *slog.Logger
	mcpCaller    *mcp.Caller
	conversation *conversation.Manager
	coordinator  *conversation.Coordinator
	tracer       *trace.Recorder
}

// New creates a Handler. conversationMgr and coordinator may be nil when
// the gateway is running without conversation support configured.
func New(logger *slog.Logger, mcpCaller *mcp.Caller, conversationMgr *conversation.Manager, coordinator *conversation.Coordinator, tracer *trace.Recorder) *Handler {
	return &Handler{
		logger:       logger,
		mcpCaller:    mcpCaller,
		conversation: conversationMgr,
		coordinator:  coordinator,
		tracer:       tracer,
	}
}

// chatExtensions are the custom fields §6 says are consumed by C9 and
// stripped before proxying.
type chatExtensions struct {
	ConversationID string `json:"conversation_id"`
	PartitionID    string `json:"partition_id"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := httpserver.RequestIDFromContext(r.Context())

	tc := tenant.FromContext(r.Context())
	if tc == nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "missing tenant context")
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	var ext chatExtensions
	_ = json.Unmarshal(rawBody, &ext)

	body, convCtx, err := h.injectConversation(r.Context(), tc, rawBody, ext)
	if err != nil {
		h.logger.Error("loading conversation context", "error", err, "request_id", requestID)
		// Conversation failures degrade to a plain proxy call rather than
		// failing the whole request.
		body = rawBody
		convCtx = nil
	}

	mergedBody, err := mergeengine.Apply(body, tc)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed to apply agent configuration")
		return
	}

	p, err := provider.New(tc.ResolvedProviderConfig)
	if err != nil {
		h.logger.Error("selecting provider", "error", err, "request_id", requestID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "no provider configured")
		return
	}

	req := &provider.Request{
		Path:   r.URL.Path,
		Method: r.Method,
		Body:   mergedBody,
		Header: r.Header,
	}

	resp, err := p.Proxy(req)
	if err != nil {
		h.logger.Error("proxying to provider", "error", err, "request_id", requestID)
		httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", "provider request failed")
		return
	}

	if resp.Streaming {
		h.serveStream(w, r.Context(), tc, requestID, mergedBody, resp, convCtx, start)
		return
	}

	h.serveJSON(w, r.Context(), tc, requestID, r.URL.Path, mergedBody, resp, p, convCtx, start)
}

// conversationState carries what's needed to store the exchange and decide
// on a snapshot, once the provider has responded.
type conversationState struct {
	tenantID       uuid.UUID
	conversationID uuid.UUID
	userContent    string
	summaryModel   *string
}

// injectConversation loads conversation history (if enabled and requested)
// and splices it into the outgoing body ahead of the caller's new message
// (§4.9). The conversation_id/partition_id extension fields are stripped
// from the body regardless of whether conversations are enabled.
func (h *Handler) injectConversation(ctx context.Context, tc *tenant.Context, body []byte, ext chatExtensions) ([]byte, *conversationState, error) {
	body, _ = sjson.DeleteBytes(body, "conversation_id")
	body, _ = sjson.DeleteBytes(body, "partition_id")

	if h.conversation == nil || !tc.AgentConfig.ConversationsEnabled || ext.ConversationID == "" {
		return body, nil, nil
	}

	var partitionID *uuid.UUID
	if ext.PartitionID != "" {
		id, err := h.conversation.GetOrCreatePartition(ctx, tc.TenantID, ext.PartitionID)
		if err != nil {
			return body, nil, err
		}
		partitionID = &id
	}

	convResult, err := h.conversation.GetOrCreateConversation(ctx, tc.TenantID, partitionID, ext.ConversationID, tc.AgentID)
	if err != nil {
		return body, nil, err
	}

	loaded, err := h.conversation.LoadContext(ctx, tc.TenantID, convResult.ID)
	if err != nil {
		return body, nil, err
	}

	if h.coordinator != nil {
		h.coordinator.MaybeSnapshot(tc.TenantID, convResult.ID, tc.AgentConfig.ConversationSummaryModel, loaded, tc.AgentConfig.ConversationTokenLimit)
	}

	userContent := gjson.GetBytes(body, "messages.@reverse.0.content").String()

	body, err = spliceInjectedMessages(body, conversation.BuildInjection(loaded))
	if err != nil {
		return body, nil, err
	}

	return body, &conversationState{
		tenantID:       tc.TenantID,
		conversationID: convResult.ID,
		userContent:    userContent,
		summaryModel:   tc.AgentConfig.ConversationSummaryModel,
	}, nil
}

// spliceInjectedMessages prepends injected ahead of body's existing
// "messages" array, in order, leaving every caller-supplied message intact
// (§4.9 build_injection: summary first, then history, then the caller's
// turn). It is a no-op if injected is empty.
func spliceInjectedMessages(body []byte, injected []conversation.InjectedMessage) ([]byte, error) {
	if len(injected) == 0 {
		return body, nil
	}

	var existing []json.RawMessage
	if err := json.Unmarshal([]byte(gjson.GetBytes(body, "messages").Raw), &existing); err != nil {
		return body, err
	}

	merged := make([]json.RawMessage, 0, len(injected)+len(existing))
	for _, msg := range injected {
		raw, err := json.Marshal(msg)
		if err != nil {
			return body, err
		}
		merged = append(merged, raw)
	}
	merged = append(merged, existing...)

	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return body, err
	}
	return sjson.SetRawBytes(body, "messages", mergedRaw)
}

func (h *Handler) serveJSON(w http.ResponseWriter, ctx context.Context, tc *tenant.Context, requestID, path string, requestBody []byte, resp *provider.Response, p provider.Provider, convCtx *conversationState, start time.Time) {
	finalBody := resp.Body
	didCallMCP := false

	if h.mcpCaller != nil && len(tc.ResolvedMCPEndpoints) > 0 {
		result, err := h.mcpCaller.Apply(ctx, requestBody, resp.Body, tc.ResolvedMCPEndpoints)
		if err != nil {
			h.logger.Error("mcp round-trip", "error", err, "request_id", requestID)
		} else if result.DidCallMCP {
			didCallMCP = true
			followUp, err := p.Proxy(&provider.Request{Path: path, Method: http.MethodPost, Body: result.FollowUpBody})
			if err != nil {
				h.logger.Error("mcp follow-up provider call", "error", err, "request_id", requestID)
			} else {
				finalBody = followUp.Body
				resp = followUp
			}
		}
	}
	telemetry.MCPCallsTotal.WithLabelValues(mcpOutcome(didCallMCP)).Inc()

	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(statusOrDefault(resp.StatusCode))
	_, _ = w.Write(finalBody)

	assistantContent := gjson.GetBytes(finalBody, "choices.0.message.content").String()
	h.recordTrace(tc, requestID, requestBody, finalBody, resp.StatusCode, start)
	h.storeConversationTurn(convCtx, assistantContent)
}

func (h *Handler) serveStream(w http.ResponseWriter, ctx context.Context, tc *tenant.Context, requestID string, requestBody []byte, resp *provider.Response, convCtx *conversationState, start time.Time) {
	defer resp.Stream.Close()

	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(statusOrDefault(resp.StatusCode))

	err := sse.Pipe(w, resp.Stream, func(capture *sse.Capture) {
		h.recordTrace(tc, requestID, requestBody, []byte(capture.Content), resp.StatusCode, start)
		h.storeConversationTurn(convCtx, capture.Content)
	})
	if err != nil {
		h.logger.Error("piping sse stream", "error", err, "request_id", requestID)
	}
}

// recordTrace enqueues a trace entry without blocking the response path
// (§4.10). It is a no-op if no recorder is configured.
func (h *Handler) recordTrace(tc *tenant.Context, requestID string, requestBody, responseBody []byte, statusCode int, start time.Time) {
	if h.tracer == nil {
		return
	}
	latency := time.Since(start).Milliseconds()
	status := statusCode
	h.tracer.Record(trace.Entry{
		TenantID:     tc.TenantID,
		RequestID:    requestID,
		Model:        gjson.GetBytes(requestBody, "model").String(),
		Provider:     providerName(tc),
		Endpoint:     "/v1/chat/completions",
		RequestBody:  requestBody,
		ResponseBody: responseBody,
		LatencyMS:    latency,
		StatusCode:   &status,
	})
}

// storeConversationTurn persists the exchange asynchronously so it never
// adds latency to the response already flushed to the client.
func (h *Handler) storeConversationTurn(convCtx *conversationState, assistantContent string) {
	if h.conversation == nil || convCtx == nil {
		return
	}
	go func() {
		ctx := context.Background()
		if err := h.conversation.StoreMessages(ctx, convCtx.tenantID, convCtx.conversationID, convCtx.userContent, assistantContent, nil); err != nil {
			h.logger.Error("storing conversation messages", "error", err, "conversation_id", convCtx.conversationID)
		}
	}()
}

func providerName(tc *tenant.Context) string {
	if tc.ResolvedProviderConfig == nil {
		return "unknown"
	}
	return tc.ResolvedProviderConfig.Provider
}

func statusOrDefault(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

func mcpOutcome(didCall bool) string {
	if didCall {
		return "called"
	}
	return "skipped"
}
