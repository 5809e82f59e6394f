package llm

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// defaultConnectTimeout bounds connection establishment. The overall
// request deadline is left unbounded for streaming reads.
const defaultConnectTimeout = 30 * time.Second

// newStreamingClient builds an http.Client suitable for long-lived
// streaming responses: a bounded connect, no overall deadline.
func newStreamingClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
		},
	}
}

// ParseSSELine parses a Server-Sent Events line and returns the data payload.
// Returns empty string if the line is not a data line or is the [DONE] marker.
func ParseSSELine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return ""
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return ""
	}
	return data
}

// sseEvent is one framed server-sent event: an optional event name plus
// the joined data payload.
type sseEvent struct {
	name string
	data string
}

// sseReader frames a raw SSE byte stream into events. Events are
// delimited by a blank line; "event:" lines name the event and "data:"
// lines carry payload. A bare "data: [DONE]" event reports done.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r *bufio.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &sseReader{scanner: sc}
}

// next returns the next framed event. done is true on [DONE] or
// transport end; err carries a read failure.
func (r *sseReader) next() (ev sseEvent, done bool, err error) {
	var name string
	var data []string
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			if len(data) == 0 && name == "" {
				continue // leading blank line between events
			}
			break
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// Comment lines and unknown fields are ignored per the SSE spec.
	}
	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, false, err
	}
	if len(data) == 0 && name == "" {
		return sseEvent{}, true, nil
	}
	joined := strings.Join(data, "\n")
	if joined == "[DONE]" {
		return sseEvent{}, true, nil
	}
	return sseEvent{name: name, data: joined}, false, nil
}

// toolCallAccumulator merges streamed tool-call fragments keyed by index.
// Argument deltas are appended as raw strings; the buffer is never parsed
// until the stream has delivered every fragment for that index.
type toolCallAccumulator struct {
	calls map[int]*ToolCall
	count int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*ToolCall)}
}

// add merges one delta into the accumulator.
func (a *toolCallAccumulator) add(delta ToolCallDelta) {
	tc, exists := a.calls[delta.Index]
	if !exists {
		tc = &ToolCall{ID: delta.ID, Type: "function"}
		tc.Function.Name = delta.Name
		a.calls[delta.Index] = tc
		a.count++
	} else {
		if delta.ID != "" {
			tc.ID = delta.ID
		}
		if delta.Name != "" {
			tc.Function.Name = delta.Name
		}
	}
	tc.Function.Arguments += delta.Arguments
}

func (a *toolCallAccumulator) empty() bool {
	return a.count == 0
}

// flush returns the accumulated calls in index order.
func (a *toolCallAccumulator) flush() []ToolCall {
	var calls []ToolCall
	for i := 0; len(calls) < a.count; i++ {
		if tc, ok := a.calls[i]; ok {
			calls = append(calls, *tc)
		}
	}
	return calls
}

// emitter delivers events to a stream consumer, observing cancellation
// at every send. The terminal event is always delivered so that every
// opened stream ends with exactly one EventEnd.
type emitter struct {
	ch  chan<- StreamEvent
	ctx context.Context
}

// send delivers a non-terminal event. Returns false once the context is
// cancelled; the caller should stop producing and emit a cancelled end.
func (e *emitter) send(ev StreamEvent) bool {
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// end delivers the terminal event unconditionally. Consumers drain the
// channel even after cancelling, so this does not block indefinitely.
func (e *emitter) end(ev StreamEvent) {
	e.ch <- ev
}

// cancelledEnd is the terminal event emitted when the context was
// cancelled mid-stream.
func (e *emitter) cancelledEnd() {
	e.end(endEvent(StopCancelled, nil, nil))
}

// logParseSkip records a malformed mid-stream event. The stream itself
// continues until the transport ends.
func logParseSkip(provider, data string, err error) {
	slog.Debug("skipping malformed stream event",
		"provider", provider,
		"error", err,
		"data", truncateForLog(data))
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
