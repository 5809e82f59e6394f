package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ollama implements Backend for a local Ollama server. Ollama streams
// newline-delimited JSON rather than SSE and requires no auth.
type Ollama struct {
	Model   string
	BaseURL string
	Timeout time.Duration
	Debug   bool

	client *http.Client
}

// Ollama wire types.

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []Tool          `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

// ollamaToolCall carries arguments as a JSON object, unlike the OpenAI
// dialect's string.
type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaChunk struct {
	Message struct {
		Role      string           `json:"role"`
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error,omitempty"`
}

// NewOllama creates a backend for a local Ollama server.
func NewOllama(model, baseURL string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		Model:   model,
		BaseURL: baseURL,
		Timeout: defaultConnectTimeout,
		client:  newStreamingClient(defaultConnectTimeout),
	}
}

// Name returns the provider label.
func (o *Ollama) Name() string {
	return "ollama"
}

func (o *Ollama) convertMessages(messages []Message) []ollamaMessage {
	result := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{Role: msg.Role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			otc := ollamaToolCall{}
			otc.Function.Name = tc.Function.Name
			otc.Function.Arguments = args
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		result = append(result, om)
	}
	return result
}

func (o *Ollama) buildRequest(req Request) ([]byte, error) {
	model := req.Options.Model
	if model == "" {
		model = o.Model
	}
	body := ollamaRequest{
		Model:    model,
		Messages: o.convertMessages(req.Messages),
		Stream:   true,
		Tools:    req.Tools,
	}
	opts := map[string]any{}
	if req.Options.Temperature > 0 {
		opts["temperature"] = req.Options.Temperature
	}
	if req.Options.MaxTokens > 0 {
		opts["num_predict"] = req.Options.MaxTokens
	}
	if len(opts) > 0 {
		body.Options = opts
	}
	return json.Marshal(body)
}

// Stream opens a streaming chat and emits canonical events. Each line
// of the response body is one JSON object.
func (o *Ollama) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	jsonBody, err := o.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := o.BaseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, o.withDebug(networkError(err), url, jsonBody)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, o.withDebug(httpStatusError(resp.StatusCode, body), url, jsonBody)
	}

	events := make(chan StreamEvent)

	go func() {
		defer close(events)
		defer resp.Body.Close()

		em := &emitter{ch: events, ctx: ctx}
		if !em.send(StreamEvent{Type: EventStart}) {
			em.cancelledEnd()
			return
		}

		var calls []ToolCall
		doneReason := ""

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				if ctx.Err() != nil {
					em.cancelledEnd()
					return
				}
				em.end(endEvent(StopError, nil, o.withDebug(networkError(err), url, jsonBody)))
				return
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			var chunk ollamaChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				logParseSkip("ollama", line, err)
				continue
			}

			if chunk.Error != "" {
				em.end(endEvent(StopError, nil, o.withDebug(&StreamError{
					Kind:    ErrProvider,
					Message: chunk.Error,
				}, url, jsonBody)))
				return
			}

			if chunk.Message.Content != "" {
				if !em.send(StreamEvent{Type: EventText, Text: chunk.Message.Content}) {
					em.cancelledEnd()
					return
				}
			}

			for _, otc := range chunk.Message.ToolCalls {
				args, _ := json.Marshal(otc.Function.Arguments)
				tc := ToolCall{
					// Ollama assigns no call ids; generate client-side.
					ID:   "call_" + uuid.NewString()[:8],
					Type: "function",
				}
				tc.Function.Name = otc.Function.Name
				tc.Function.Arguments = string(args)
				calls = append(calls, tc)
				if !em.send(StreamEvent{Type: EventToolCallDelta, Delta: ToolCallDelta{
					Index:     len(calls) - 1,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}}) {
					em.cancelledEnd()
					return
				}
			}

			if chunk.Done {
				doneReason = chunk.DoneReason
				break
			}
		}

		if ctx.Err() != nil {
			em.cancelledEnd()
			return
		}

		switch {
		case len(calls) > 0:
			em.end(endEvent(StopToolUse, calls, nil))
		case doneReason == "length":
			em.end(endEvent(StopLength, nil, nil))
		default:
			em.end(endEvent(StopComplete, nil, nil))
		}
	}()

	return events, nil
}

func (o *Ollama) withDebug(err *StreamError, url string, body []byte) *StreamError {
	if o.Debug {
		err.URL = url
		err.RequestBody = string(body)
	}
	return err
}
