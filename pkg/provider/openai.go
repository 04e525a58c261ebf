package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OpenAIConfig is the opaque provider_config shape for the
// OpenAI-compatible adapter.
type OpenAIConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// OpenAIAdapter proxies to any OpenAI-compatible upstream: base_url +
// request.path, Authorization: Bearer <key> (§4.6).
type OpenAIAdapter struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIAdapter builds an adapter from a raw provider_config JSON blob.
func NewOpenAIAdapter(rawConfig json.RawMessage) (*OpenAIAdapter, error) {
	var cfg OpenAIConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("openai adapter: decoding provider_config: %w", err)
	}
	return &OpenAIAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (a *OpenAIAdapter) Proxy(req *Request) (*Response, error) {
	url := a.cfg.BaseURL + req.Path

	upstream, err := http.NewRequest(req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("openai adapter: building request: %w", err)
	}
	upstream.Header = cloneForwardHeader(req.Header)
	upstream.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	upstream.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(upstream)
	if err != nil {
		return nil, fmt.Errorf("openai adapter: calling upstream: %w", err)
	}

	if isStreaming(resp.Header) {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Streaming: true, Stream: resp.Body}, nil
	}
	defer resp.Body.Close()

	body, err := readAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai adapter: reading response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
