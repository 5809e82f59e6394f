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
)

// OpenAI implements Backend for the OpenAI chat-completions dialect.
// OpenRouter, Ollama's OpenAI-compatible endpoint and Z.AI reuse this
// dialect with small deviations (see openrouter.go, zai.go).
type OpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Debug   bool

	// provider label, defaults to "openai"
	Label string

	// extra request headers (OpenRouter referer/title)
	Headers map[string]string

	// role used to carry the system prompt; some providers reject
	// "system" and want it restated under another role
	SystemRole string

	// round temperature to one decimal before serializing
	RoundTemperature bool

	// env var named in the auth-missing message
	KeyEnvVar string

	client *http.Client
}

// OpenAI-compatible wire types.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// chatMessage uses *string for Content so assistant messages that carry
// only tool calls serialize content as null.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type chatStreamChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string          `json:"role,omitempty"`
			Content   string          `json:"content,omitempty"`
			ToolCalls []wireCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error json.RawMessage `json:"error,omitempty"`
}

type wireCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// NewOpenAI creates a backend for api.openai.com or any server speaking
// the same dialect. An empty baseURL selects the official endpoint.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    baseURL,
		Timeout:    defaultConnectTimeout,
		Label:      "openai",
		SystemRole: RoleSystem,
		KeyEnvVar:  "OPENAI_API_KEY",
		client:     newStreamingClient(defaultConnectTimeout),
	}
}

// Name returns the provider label.
func (o *OpenAI) Name() string {
	return o.Label
}

// convertMessages translates canonical messages to the chat-completions
// shape, remapping the system role where the provider demands it.
func (o *OpenAI) convertMessages(messages []Message) []chatMessage {
	result := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		if role == RoleSystem && o.SystemRole != RoleSystem {
			role = o.SystemRole
		}
		cm := chatMessage{
			Role:       role,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role == RoleAssistant && len(msg.ToolCalls) > 0 && msg.Content == "" {
			cm.Content = nil
		} else {
			content := msg.Content
			cm.Content = &content
		}
		result = append(result, cm)
	}
	return result
}

// buildRequest serializes the canonical request into this dialect.
func (o *OpenAI) buildRequest(req Request) ([]byte, error) {
	model := req.Options.Model
	if model == "" {
		model = o.Model
	}
	body := chatRequest{
		Model:     model,
		Messages:  o.convertMessages(req.Messages),
		Stream:    true,
		MaxTokens: req.Options.MaxTokens,
	}
	if len(req.Tools) > 0 {
		body.Tools = req.Tools
		body.ToolChoice = "auto"
	}
	if req.Options.Temperature > 0 {
		t := req.Options.Temperature
		if o.RoundTemperature {
			t = roundTemp(t)
		}
		body.Temperature = &t
	}
	return json.Marshal(body)
}

// Stream opens a streaming chat completion and emits canonical events.
func (o *OpenAI) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if o.APIKey == "" {
		return nil, authMissingError(o.Label, o.KeyEnvVar)
	}

	jsonBody, err := o.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := o.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range o.Headers {
		httpReq.Header.Set(k, v)
	}

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

		acc := newToolCallAccumulator()
		stop := StopComplete
		sawFinish := false

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

			if isDoneLine(line) {
				break
			}
			data := ParseSSELine(line)
			if data == "" {
				continue
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logParseSkip(o.Label, data, err)
				continue
			}

			if len(chunk.Error) > 0 {
				em.end(endEvent(StopError, nil, o.withDebug(&StreamError{
					Kind:    ErrProvider,
					Message: parseProviderMessage([]byte(data)),
				}, url, jsonBody)))
				return
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				if !em.send(StreamEvent{Type: EventText, Text: choice.Delta.Content}) {
					em.cancelledEnd()
					return
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				delta := ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}
				acc.add(delta)
				if !em.send(StreamEvent{Type: EventToolCallDelta, Delta: delta}) {
					em.cancelledEnd()
					return
				}
			}

			if choice.FinishReason != nil {
				sawFinish = true
				stop = mapFinishReason(*choice.FinishReason)
			}
		}

		if ctx.Err() != nil {
			em.cancelledEnd()
			return
		}

		// A completed accumulator means tool use even if the provider
		// ended the transport without a finish_reason chunk.
		if !acc.empty() && (!sawFinish || stop == StopToolUse) {
			em.end(endEvent(StopToolUse, acc.flush(), nil))
			return
		}
		em.end(endEvent(stop, nil, nil))
	}()

	return events, nil
}

// isDoneLine reports whether a raw SSE line is the [DONE] sentinel.
func isDoneLine(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")) == "[DONE]"
}

func mapFinishReason(reason string) StopReason {
	switch reason {
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopLength
	default:
		return StopComplete
	}
}

// withDebug attaches the request body and URL to an error when debug
// mode is active.
func (o *OpenAI) withDebug(err *StreamError, url string, body []byte) *StreamError {
	if o.Debug {
		err.URL = url
		err.RequestBody = string(body)
	}
	return err
}

func roundTemp(t float64) float64 {
	return float64(int(t*10+0.5)) / 10
}
