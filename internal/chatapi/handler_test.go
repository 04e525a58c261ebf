package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wisbric/promptgate/pkg/conversation"
	"github.com/wisbric/promptgate/pkg/tenant"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTenantContext(t *testing.T, providerURL string) *tenant.Context {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"base_url": providerURL, "api_key": "sk-test"})
	if err != nil {
		t.Fatal(err)
	}
	return &tenant.Context{
		AgentID:       uuid.New(),
		TenantID:      uuid.New(),
		AgentName:     "test-agent",
		MergePolicies: tenant.DefaultMergePolicy(),
		AgentConfig:   tenant.DefaultAgentConfig(),
		ResolvedProviderConfig: &tenant.ProviderConfig{
			Provider: "openai",
			Raw:      raw,
		},
	}
}

func TestServeHTTPNonStreamingProxiesUpstreamResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello back"}}]}`))
	}))
	defer upstream.Close()

	h := New(testLogger(), nil, nil, nil, nil)
	tc := newTenantContext(t, upstream.URL)
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req = req.WithContext(tenant.NewContext(req.Context(), tc))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response not valid JSON: %v", err)
	}
}

func TestServeHTTPMissingTenantContextReturns500(t *testing.T) {
	h := New(testLogger(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestServeHTTPBadProviderConfigReturns500(t *testing.T) {
	h := New(testLogger(), nil, nil, nil, nil)

	tc := &tenant.Context{
		AgentID:       uuid.New(),
		TenantID:      uuid.New(),
		MergePolicies: tenant.DefaultMergePolicy(),
		AgentConfig:   tenant.DefaultAgentConfig(),
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{"messages":[]}`)))
	req = req.WithContext(tenant.NewContext(req.Context(), tc))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body = %s", rec.Code, rec.Body.String())
	}
}

func TestInjectConversationNoopWhenConversationsDisabled(t *testing.T) {
	h := New(testLogger(), nil, nil, nil, nil)
	tc := &tenant.Context{
		TenantID:      uuid.New(),
		AgentID:       uuid.New(),
		MergePolicies: tenant.DefaultMergePolicy(),
		AgentConfig:   tenant.DefaultAgentConfig(), // ConversationsEnabled: false
	}

	body := []byte(`{"messages":[{"role":"user","content":"hi"}],"conversation_id":"ext-1"}`)
	out, state, err := h.injectConversation(context.Background(), tc, body, chatExtensions{ConversationID: "ext-1"})
	if err != nil {
		t.Fatalf("injectConversation() error: %v", err)
	}
	if state != nil {
		t.Error("state should be nil when conversations are disabled")
	}
	if strings.Contains(string(out), "conversation_id") {
		t.Error("conversation_id extension field should be stripped from the body")
	}
}

func TestSpliceInjectedMessagesPrependsInOrderAndPreservesExisting(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"what about now"}]}`)
	injected := []conversation.InjectedMessage{
		{Role: "system", Content: "Previous conversation summary:\nthey discussed pricing"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}

	out, err := spliceInjectedMessages(body, injected)
	if err != nil {
		t.Fatalf("spliceInjectedMessages() error: %v", err)
	}

	messages := gjson.GetBytes(out, "messages").Array()
	if len(messages) != 4 {
		t.Fatalf("len(messages) = %d, want 4, body = %s", len(messages), out)
	}

	wantContent := []string{
		"Previous conversation summary:\nthey discussed pricing",
		"hello",
		"hi there",
		"what about now",
	}
	for i, want := range wantContent {
		if got := messages[i].Get("content").String(); got != want {
			t.Errorf("messages[%d].content = %q, want %q", i, got, want)
		}
	}

	if got := messages[3].Get("role").String(); got != "user" {
		t.Errorf("messages[3].role = %q, want user (the caller's original message)", got)
	}

	if got := gjson.GetBytes(out, "model").String(); got != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o (other top-level fields must survive)", got)
	}
}

func TestSpliceInjectedMessagesNoopWhenEmpty(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	out, err := spliceInjectedMessages(body, nil)
	if err != nil {
		t.Fatalf("spliceInjectedMessages() error: %v", err)
	}
	if string(out) != string(body) {
		t.Errorf("body = %s, want unchanged %s", out, body)
	}
}

func TestStatusOrDefault(t *testing.T) {
	if got := statusOrDefault(0); got != http.StatusOK {
		t.Errorf("statusOrDefault(0) = %d, want 200", got)
	}
	if got := statusOrDefault(404); got != 404 {
		t.Errorf("statusOrDefault(404) = %d, want 404", got)
	}
}

func TestMCPOutcome(t *testing.T) {
	if mcpOutcome(true) != "called" {
		t.Error(`mcpOutcome(true) should be "called"`)
	}
	if mcpOutcome(false) != "skipped" {
		t.Error(`mcpOutcome(false) should be "skipped"`)
	}
}

func TestProviderName(t *testing.T) {
	if got := providerName(&tenant.Context{}); got != "unknown" {
		t.Errorf("providerName(nil config) = %q, want unknown", got)
	}
	tc := &tenant.Context{ResolvedProviderConfig: &tenant.ProviderConfig{Provider: "azure"}}
	if got := providerName(tc); got != "azure" {
		t.Errorf("providerName() = %q, want azure", got)
	}
}
