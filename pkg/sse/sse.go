// Package sse implements the SSE pass-through pipe (C7): a back-pressured
// transform that forwards every inbound byte immediately to the client
// while building a parsed capture of the stream's content alongside it.
package sse

import (
	"bytes"
	"encoding/json"
	"io"
)

// Capture accumulates the parsed view of an SSE stream as it is piped
// through (§4.7).
type Capture struct {
	Content string
	Chunks  []json.RawMessage
	Usage   json.RawMessage
}

// chunkDelta is the subset of an OpenAI-shaped SSE event this package
// extracts content and usage from.
type chunkDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

// Flusher is satisfied by http.ResponseWriter when the underlying
// transport supports immediate flush.
type Flusher interface {
	Flush()
}

// Pipe reads src and writes every chunk to dst as soon as it arrives,
// flushing dst after each write if it implements Flusher. In parallel it
// feeds the same bytes into an event parser; parse failures never affect
// the forwarded stream (§4.7). onComplete is invoked exactly once, with
// the accumulated Capture, when src is exhausted.
//
// The read-then-write-then-parse loop is itself the back-pressure
// mechanism: a paused downstream client blocks the write, which blocks the
// next upstream read, with no intermediate buffer to hide the stall.
func Pipe(dst io.Writer, src io.Reader, onComplete func(*Capture)) error {
	flusher, _ := dst.(Flusher)

	var parseBuf bytes.Buffer
	var capture Capture

	buf := make([]byte, 4096)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := dst.Write(chunk); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}

			parseBuf.Write(chunk)
			drainEvents(&parseBuf, &capture)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return readErr
		}
	}

	if onComplete != nil {
		onComplete(&capture)
	}
	return nil
}

// drainEvents scans buf for complete "\n\n"-terminated SSE events,
// parsing each and folding it into capture. Any bytes after the last
// boundary remain in buf for the next call.
func drainEvents(buf *bytes.Buffer, capture *Capture) {
	for {
		data := buf.Bytes()
		idx := bytes.Index(data, []byte("\n\n"))
		if idx < 0 {
			return
		}

		event := data[:idx]
		buf.Next(idx + 2)

		parseEvent(event, capture)
	}
}

// parseEvent parses a single SSE event's data: payload and folds it into
// capture. [DONE] sentinels and malformed lines are skipped silently
// (§4.7 point 3).
func parseEvent(event []byte, capture *Capture) {
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSpace(line)
		payload, ok := cutDataPrefix(line)
		if !ok {
			continue
		}
		if bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}

		var delta chunkDelta
		if err := json.Unmarshal(payload, &delta); err != nil {
			continue
		}

		capture.Chunks = append(capture.Chunks, json.RawMessage(append([]byte(nil), payload...)))
		for _, choice := range delta.Choices {
			capture.Content += choice.Delta.Content
		}
		if len(delta.Usage) > 0 && string(delta.Usage) != "null" {
			capture.Usage = delta.Usage
		}
	}
}

func cutDataPrefix(line []byte) ([]byte, bool) {
	const prefix = "data:"
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(prefix):]), true
}

