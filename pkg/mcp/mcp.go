// Package mcp implements the Model Context Protocol tool-call round-trip
// (C8): detecting tool calls in a provider's JSON response, fanning them
// out to the matching MCP endpoints in parallel, and building the
// follow-up request body for a single (non-recursive) re-invocation of the
// provider.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wisbric/promptgate/pkg/tenant"
)

// DefaultCallTimeout bounds a single MCP endpoint call.
const DefaultCallTimeout = 10 * time.Second

// Caller fans tool calls out to MCP endpoints.
type Caller struct {
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a Caller with the given per-endpoint timeout. A timeout of
// zero uses DefaultCallTimeout.
func New(timeout time.Duration) *Caller {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Caller{httpClient: &http.Client{}, timeout: timeout}
}

// Result is the outcome of applying the round-trip to a provider response.
type Result struct {
	// DidCallMCP reports whether any tool call matched a known endpoint
	// (§4.8 step 3).
	DidCallMCP bool
	// FollowUpBody is the request body to re-send to the provider when
	// DidCallMCP is true; nil otherwise.
	FollowUpBody []byte
}

// Apply inspects providerResponseBody for tool_calls, fans out matched
// calls to endpoints in parallel, and builds the follow-up request body on
// originalRequestBody. It applies only to non-streaming JSON responses;
// callers must not invoke it for a streaming Response (§4.8).
func (c *Caller) Apply(ctx context.Context, originalRequestBody, providerResponseBody []byte, endpoints []tenant.MCPEndpoint) (*Result, error) {
	toolCalls := gjson.GetBytes(providerResponseBody, "choices.0.message.tool_calls")
	if !toolCalls.IsArray() || len(toolCalls.Array()) == 0 {
		return &Result{DidCallMCP: false}, nil
	}

	endpointByName := make(map[string]tenant.MCPEndpoint, len(endpoints))
	for _, ep := range endpoints {
		endpointByName[ep.Name] = ep
	}

	type call struct {
		id        string
		name      string
		arguments string
		endpoint  tenant.MCPEndpoint
	}

	var matched []call
	for _, tc := range toolCalls.Array() {
		name := tc.Get("function.name").String()
		ep, ok := endpointByName[name]
		if !ok {
			continue
		}
		matched = append(matched, call{
			id:        tc.Get("id").String(),
			name:      name,
			arguments: tc.Get("function.arguments").String(),
			endpoint:  ep,
		})
	}

	if len(matched) == 0 {
		return &Result{DidCallMCP: false}, nil
	}

	toolMessages := make([]json.RawMessage, len(matched))
	var wg sync.WaitGroup
	for i, m := range matched {
		wg.Add(1)
		go func(i int, m call) {
			defer wg.Done()
			toolMessages[i] = c.callOne(ctx, m.id, m.name, m.arguments, m.endpoint)
		}(i, m)
	}
	wg.Wait()

	assistantMessage := []byte(gjson.GetBytes(providerResponseBody, "choices.0.message").Raw)
	followUp, err := buildFollowUpBody(originalRequestBody, assistantMessage, toolMessages)
	if err != nil {
		return nil, fmt.Errorf("mcp: building follow-up body: %w", err)
	}

	return &Result{DidCallMCP: true, FollowUpBody: followUp}, nil
}

// callOne performs a single JSON-RPC tools/call and returns the resulting
// tool message, never erroring: transport/parse failures degrade to an
// error-shaped tool message so the round-trip continues (§4.8 step 5).
func (c *Caller) callOne(ctx context.Context, toolCallID, name, rawArguments string, endpoint tenant.MCPEndpoint) json.RawMessage {
	id := toolCallID
	if id == "" {
		id = uuid.New().String()
	}

	arguments := parseArguments(rawArguments)

	if len(endpoint.Schema) > 0 {
		if err := validateArguments(endpoint.Schema, arguments); err != nil {
			return errorToolMessage(toolCallID, fmt.Errorf("arguments failed schema validation: %w", err))
		}
	}

	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": arguments,
		},
		"id": id,
	})
	if err != nil {
		return errorToolMessage(toolCallID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(reqBody))
	if err != nil {
		return errorToolMessage(toolCallID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errorToolMessage(toolCallID, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return errorToolMessage(toolCallID, err)
	}

	content := rpcResp.Result
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}

	msg, err := json.Marshal(map[string]any{
		"role":         "tool",
		"tool_call_id": toolCallID,
		"content":      string(content),
	})
	if err != nil {
		return errorToolMessage(toolCallID, err)
	}
	return msg
}

// validateArguments checks arguments against an endpoint's declared JSON
// Schema, if it has one, so a malformed tool call produces a clean
// {error,detail} tool message instead of surfacing as an opaque downstream
// failure from the endpoint itself.
func validateArguments(schema, arguments json.RawMessage) error {
	compiled, err := jsonschema.CompileString("mcp_endpoint_schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(arguments, &v); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}

	return compiled.Validate(v)
}

// parseArguments parses raw as JSON if it's a JSON-encoded string; on
// failure it falls back to an empty object (§4.8 step 4).
func parseArguments(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	return json.RawMessage(`{}`)
}

func errorToolMessage(toolCallID string, callErr error) json.RawMessage {
	msg, err := json.Marshal(map[string]any{
		"role":         "tool",
		"tool_call_id": toolCallID,
		"content":      fmt.Sprintf(`{"error":"MCP call failed","detail":%q}`, callErr.Error()),
	})
	if err != nil {
		return json.RawMessage(`{"role":"tool","content":"{\"error\":\"MCP call failed\"}"}`)
	}
	return msg
}

// buildFollowUpBody appends assistantMessage and every tool message to
// originalRequestBody's "messages" array (§4.8 step 6).
func buildFollowUpBody(originalRequestBody, assistantMessage json.RawMessage, toolMessages []json.RawMessage) ([]byte, error) {
	body := originalRequestBody

	var err error
	body, err = sjson.SetRawBytes(body, "messages.-1", assistantMessage)
	if err != nil {
		return nil, err
	}
	for _, tm := range toolMessages {
		body, err = sjson.SetRawBytes(body, "messages.-1", tm)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}
