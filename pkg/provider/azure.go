package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AzureConfig is the opaque provider_config shape for the Azure adapter.
type AzureConfig struct {
	Endpoint   string `json:"endpoint"`
	Deployment string `json:"deployment"`
	APIVersion string `json:"api_version"`
	APIKey     string `json:"api_key"`
}

// AzureAdapter proxies to Azure OpenAI: endpoint + deployment path, api-key
// header auth, and OpenAI-shaped error normalization (§4.6).
type AzureAdapter struct {
	cfg        AzureConfig
	httpClient *http.Client
}

// NewAzureAdapter builds an adapter from a raw provider_config JSON blob.
func NewAzureAdapter(rawConfig json.RawMessage) (*AzureAdapter, error) {
	var cfg AzureConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("azure adapter: decoding provider_config: %w", err)
	}
	return &AzureAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (a *AzureAdapter) Proxy(req *Request) (*Response, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.cfg.Endpoint, a.cfg.Deployment, a.cfg.APIVersion)

	upstream, err := http.NewRequest(req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("azure adapter: building request: %w", err)
	}
	upstream.Header = cloneForwardHeader(req.Header)
	upstream.Header.Set("api-key", a.cfg.APIKey)
	upstream.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(upstream)
	if err != nil {
		return nil, fmt.Errorf("azure adapter: calling upstream: %w", err)
	}

	if isStreaming(resp.Header) {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Streaming: true, Stream: resp.Body}, nil
	}
	defer resp.Body.Close()

	body, err := readAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure adapter: reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		body = normalizeAzureError(resp.StatusCode, body)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// azureErrorType maps an HTTP status to the OpenAI error "type" field
// (§4.6).
func azureErrorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	default:
		if status >= 500 {
			return "server_error"
		}
		return "invalid_request_error"
	}
}

// normalizeAzureError rewrites an Azure error body into the OpenAI error
// envelope shape: {error:{message,type,code,param}}.
func normalizeAzureError(status int, body []byte) []byte {
	var azureShape struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
			Param   string `json:"param"`
		} `json:"error"`
	}
	message := string(body)
	code := ""
	param := ""
	if err := json.Unmarshal(body, &azureShape); err == nil && azureShape.Error.Message != "" {
		message = azureShape.Error.Message
		code = azureShape.Error.Code
		param = azureShape.Error.Param
	}

	normalized, err := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    azureErrorType(status),
			"code":    code,
			"param":   param,
		},
	})
	if err != nil {
		return body
	}
	return normalized
}
