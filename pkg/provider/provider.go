// Package provider implements the single Provider.Proxy contract the
// gateway uses to forward a chat request to an upstream model provider,
// with one adapter per provider family (C6).
package provider

import (
	"io"
	"net/http"
	"strings"
)

// Request is the normalized inbound request an adapter proxies upstream.
type Request struct {
	// Path is the original inbound request path, e.g. "/v1/chat/completions".
	Path string
	// Method is the HTTP method, typically POST.
	Method string
	// Body is the (already agent-merged) outgoing request body.
	Body []byte
	// Header is the subset of inbound headers worth forwarding, before
	// hop-by-hop/browser-only stripping.
	Header http.Header
}

// Response is what an adapter returns. Exactly one of Stream or Body is
// populated, selected by Streaming.
type Response struct {
	StatusCode int
	Header     http.Header

	// Streaming is true when the upstream Content-Type is text/event-stream;
	// the caller should hand Stream to the SSE pass-through pipe (C7).
	Streaming bool
	Stream    io.ReadCloser

	// Body is the raw upstream response body for non-streaming responses.
	Body []byte
}

// Provider proxies a single chat request to an upstream model provider.
type Provider interface {
	Proxy(req *Request) (*Response, error)
}

// hopByHopHeaders are stripped before forwarding a request upstream (§4.6).
var hopByHopHeaders = []string{"host", "content-length", "transfer-encoding"}

// browserOnlyHeaders are stripped before forwarding a request upstream
// (§4.6) — they leak information about the gateway's own caller, not the
// upstream's.
var browserOnlyHeaders = []string{"origin", "referer"}

// cloneForwardHeader copies h, stripping hop-by-hop and browser-only
// headers, and the Authorization/x-api-key headers the caller used to
// authenticate to the gateway (the adapter sets its own upstream auth).
func cloneForwardHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		lower := strings.ToLower(k)
		if containsFold(hopByHopHeaders, lower) || containsFold(browserOnlyHeaders, lower) {
			continue
		}
		if lower == "authorization" || lower == "x-api-key" {
			continue
		}
		out[k] = v
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// isStreaming reports whether a response Content-Type indicates an SSE
// stream (§4.6).
func isStreaming(header http.Header) bool {
	return strings.Contains(header.Get("Content-Type"), "text/event-stream")
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
