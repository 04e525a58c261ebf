package provider

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIAdapterForwardsAndStripsHeaders(t *testing.T) {
	var gotAuth, gotOrigin, gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotOrigin = r.Header.Get("Origin")
		gotHost = r.Header.Get("Host")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a, err := NewOpenAIAdapter([]byte(`{"base_url":"` + srv.URL + `","api_key":"sk-real"}`))
	if err != nil {
		t.Fatalf("NewOpenAIAdapter() error: %v", err)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer gateway-key")
	h.Set("Origin", "https://browser.example")
	h.Set("Host", "gateway.internal")

	resp, err := a.Proxy(&Request{Path: "/v1/chat/completions", Method: http.MethodPost, Body: []byte(`{}`), Header: h})
	if err != nil {
		t.Fatalf("Proxy() error: %v", err)
	}
	if resp.Streaming {
		t.Fatal("Proxy() returned Streaming=true for a JSON response")
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if gotAuth != "Bearer sk-real" {
		t.Errorf("upstream Authorization = %q, want Bearer sk-real", gotAuth)
	}
	if gotOrigin != "" {
		t.Errorf("upstream Origin = %q, want stripped", gotOrigin)
	}
	_ = gotHost
}

func TestOpenAIAdapterDetectsStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {}\n\n"))
	}))
	defer srv.Close()

	a, _ := NewOpenAIAdapter([]byte(`{"base_url":"` + srv.URL + `","api_key":"sk-real"}`))
	resp, err := a.Proxy(&Request{Path: "/v1/chat/completions", Method: http.MethodPost, Body: []byte(`{}`), Header: http.Header{}})
	if err != nil {
		t.Fatalf("Proxy() error: %v", err)
	}
	if !resp.Streaming {
		t.Error("Proxy() did not detect text/event-stream as streaming")
	}
	resp.Stream.Close()
}

func TestAzureAdapterBuildsDeploymentURL(t *testing.T) {
	var gotPath, gotAPIKey, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAPIKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a, err := NewAzureAdapter([]byte(`{"endpoint":"` + srv.URL + `","deployment":"gpt-4-prod","api_version":"2024-02-01","api_key":"azure-key"}`))
	if err != nil {
		t.Fatalf("NewAzureAdapter() error: %v", err)
	}

	_, err = a.Proxy(&Request{Path: "/v1/chat/completions", Method: http.MethodPost, Body: []byte(`{}`), Header: http.Header{}})
	if err != nil {
		t.Fatalf("Proxy() error: %v", err)
	}
	if gotPath != "/openai/deployments/gpt-4-prod/chat/completions" {
		t.Errorf("path = %q, want deployment path", gotPath)
	}
	if gotQuery != "api-version=2024-02-01" {
		t.Errorf("query = %q, want api-version=2024-02-01", gotQuery)
	}
	if gotAPIKey != "azure-key" {
		t.Errorf("api-key header = %q, want azure-key", gotAPIKey)
	}
}

func TestAzureAdapterNormalizesErrorShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","code":"429"}}`))
	}))
	defer srv.Close()

	a, _ := NewAzureAdapter([]byte(`{"endpoint":"` + srv.URL + `","deployment":"d","api_version":"v","api_key":"k"}`))
	resp, err := a.Proxy(&Request{Path: "/x", Method: http.MethodPost, Body: []byte(`{}`), Header: http.Header{}})
	if err != nil {
		t.Fatalf("Proxy() error: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("StatusCode = %d, want 429", resp.StatusCode)
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := jsonUnmarshal(resp.Body, &envelope); err != nil {
		t.Fatalf("unmarshal normalized body: %v", err)
	}
	if envelope.Error.Type != "rate_limit_error" {
		t.Errorf("error.type = %q, want rate_limit_error", envelope.Error.Type)
	}
	if envelope.Error.Message != "slow down" {
		t.Errorf("error.message = %q, want slow down", envelope.Error.Message)
	}
}

func TestAzureErrorTypeMapping(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "authentication_error"},
		{http.StatusForbidden, "permission_error"},
		{http.StatusNotFound, "not_found_error"},
		{http.StatusTooManyRequests, "rate_limit_error"},
		{http.StatusInternalServerError, "server_error"},
		{http.StatusBadRequest, "invalid_request_error"},
	}
	for _, tt := range tests {
		if got := azureErrorType(tt.status); got != tt.want {
			t.Errorf("azureErrorType(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestOllamaAdapterNormalizesNDJSONToSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(`{"message":{"content":"hi"}}` + "\n"))
		w.Write([]byte(`{"message":{"content":" there"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	a, _ := NewOllamaAdapter([]byte(`{"base_url":"` + srv.URL + `"}`))
	resp, err := a.Proxy(&Request{Path: "/v1/chat/completions", Method: http.MethodPost, Body: []byte(`{}`), Header: http.Header{}})
	if err != nil {
		t.Fatalf("Proxy() error: %v", err)
	}
	if !resp.Streaming {
		t.Fatal("Proxy() did not mark ndjson response as streaming")
	}

	rawOut, err := io.ReadAll(resp.Stream)
	if err != nil {
		t.Fatalf("reading normalized stream: %v", err)
	}
	out := string(rawOut)
	resp.Stream.Close()

	if !containsAll(out, `data: {"message":{"content":"hi"}}`, `data: {"message":{"content":" there"},"done":true}`, "data: [DONE]") {
		t.Errorf("normalized SSE output = %q, missing expected frames", out)
	}
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func containsAll(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
