package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig is the opaque provider_config shape for the Ollama adapter.
type OllamaConfig struct {
	BaseURL string `json:"base_url"`
}

// OllamaAdapter proxies to a local or self-hosted Ollama instance's
// /api/chat endpoint. Ollama requires no auth header and streams
// newline-delimited JSON rather than SSE; this adapter re-frames each line
// as a `data: {...}\n\n` event so C7 can pipe it like any other stream.
// Only the framing changes: the payload stays Ollama's own chunk JSON
// (message.content), which C7's capture does not read, so the captured
// content of an Ollama stream is empty.
type OllamaAdapter struct {
	cfg        OllamaConfig
	httpClient *http.Client
}

// NewOllamaAdapter builds an adapter from a raw provider_config JSON blob.
func NewOllamaAdapter(rawConfig json.RawMessage) (*OllamaAdapter, error) {
	var cfg OllamaConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("ollama adapter: decoding provider_config: %w", err)
	}
	return &OllamaAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}, nil
}

func (a *OllamaAdapter) Proxy(req *Request) (*Response, error) {
	url := a.cfg.BaseURL + "/api/chat"

	upstream, err := http.NewRequest(req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("ollama adapter: building request: %w", err)
	}
	upstream.Header = cloneForwardHeader(req.Header)
	upstream.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(upstream)
	if err != nil {
		return nil, fmt.Errorf("ollama adapter: calling upstream: %w", err)
	}

	// Ollama signals streaming via the request's "stream" field, not
	// Content-Type, and normally replies with application/x-ndjson.
	if isNDJSON(resp.Header) {
		header := resp.Header.Clone()
		header.Set("Content-Type", "text/event-stream")
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     header,
			Streaming:  true,
			Stream:     &ndjsonToSSEReader{body: resp.Body, scanner: bufio.NewScanner(resp.Body)},
		}, nil
	}
	defer resp.Body.Close()

	body, err := readAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama adapter: reading response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func isNDJSON(header http.Header) bool {
	ct := header.Get("Content-Type")
	return ct == "" || bytes.Contains([]byte(ct), []byte("ndjson")) || bytes.Contains([]byte(ct), []byte("application/json"))
}

// ndjsonToSSEReader wraps an Ollama newline-delimited JSON body, emitting
// each line as an SSE event (`data: <line>\n\n`) and a terminal
// `data: [DONE]\n\n` once the body is exhausted, so C7 can parse it with
// the same event-boundary scan it uses for genuine SSE streams.
type ndjsonToSSEReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	pending bytes.Buffer
	done    bool
}

func (r *ndjsonToSSEReader) Read(p []byte) (int, error) {
	for r.pending.Len() == 0 && !r.done {
		if r.scanner.Scan() {
			line := bytes.TrimSpace(r.scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			r.pending.WriteString("data: ")
			r.pending.Write(line)
			r.pending.WriteString("\n\n")
			continue
		}
		if err := r.scanner.Err(); err != nil {
			return 0, err
		}
		r.pending.WriteString("data: [DONE]\n\n")
		r.done = true
	}
	return r.pending.Read(p)
}

func (r *ndjsonToSSEReader) Close() error {
	return r.body.Close()
}
