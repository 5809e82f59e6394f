// Native Claude API support with tool calling.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const anthropicVersion = "2023-06-01"

// Anthropic implements Backend for the Claude messages API.
type Anthropic struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Debug   bool

	client *http.Client
}

// Anthropic wire types.

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContentBlock
}

type anthropicContentBlock struct {
	Type      string `json:"type"`                  // "text", "tool_use", "tool_result"
	Text      string `json:"text,omitempty"`        // for text blocks
	ID        string `json:"id,omitempty"`          // for tool_use blocks
	Name      string `json:"name,omitempty"`        // for tool_use blocks
	Input     any    `json:"input,omitempty"`       // for tool_use blocks
	ToolUseID string `json:"tool_use_id,omitempty"` // for tool_result blocks
	Content   string `json:"content,omitempty"`     // for tool_result blocks (result text)
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index,omitempty"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropic creates a backend for the Claude API.
func NewAnthropic(apiKey, model, baseURL string) *Anthropic {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &Anthropic{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		Timeout: defaultConnectTimeout,
		client:  newStreamingClient(defaultConnectTimeout),
	}
}

// Name returns the provider label.
func (a *Anthropic) Name() string {
	return "anthropic"
}

// convertMessages splits out the system prompt and translates the rest
// into content blocks. Tool results travel as user messages carrying
// tool_result blocks.
func (a *Anthropic) convertMessages(messages []Message) (string, []anthropicMessage) {
	var systemPrompt string
	var out []anthropicMessage

	for _, msg := range messages {
		switch {
		case msg.Role == RoleSystem:
			systemPrompt = msg.Content

		case msg.Role == RoleTool:
			out = append(out, anthropicMessage{
				Role: RoleUser,
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case msg.Role == RoleAssistant && len(msg.ToolCalls) > 0:
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			out = append(out, anthropicMessage{Role: RoleAssistant, Content: blocks})

		default:
			out = append(out, anthropicMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	return systemPrompt, out
}

func convertToolsToAnthropic(tools []Tool) []anthropicTool {
	result := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		result = append(result, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return result
}

func (a *Anthropic) buildRequest(req Request) ([]byte, error) {
	systemPrompt, msgs := a.convertMessages(req.Messages)
	model := req.Options.Model
	if model == "" {
		model = a.Model
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192 // the messages API requires max_tokens
	}
	body := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  msgs,
		Stream:    true,
	}
	if len(req.Tools) > 0 {
		body.Tools = convertToolsToAnthropic(req.Tools)
	}
	if req.Options.Temperature > 0 {
		t := req.Options.Temperature
		body.Temperature = &t
	}
	return json.Marshal(body)
}

// Stream opens a streaming message and emits canonical events. The
// messages API frames its stream as named SSE events; dispatch is by
// the payload's type field, which mirrors the event name.
func (a *Anthropic) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if a.APIKey == "" {
		return nil, authMissingError("anthropic", "ANTHROPIC_API_KEY")
	}

	jsonBody, err := a.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := a.BaseURL + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, a.withDebug(networkError(err), url, jsonBody)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, a.withDebug(httpStatusError(resp.StatusCode, body), url, jsonBody)
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
		// index of the content block currently streaming tool input,
		// -1 when the open block is text
		currentTool := -1
		toolIndex := -1
		stop := StopComplete

		sse := newSSEReader(bufio.NewReader(resp.Body))
		for {
			ev, done, err := sse.next()
			if err != nil {
				if ctx.Err() != nil {
					em.cancelledEnd()
					return
				}
				em.end(endEvent(StopError, nil, a.withDebug(networkError(err), url, jsonBody)))
				return
			}
			if done {
				break
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(ev.data), &event); err != nil {
				logParseSkip("anthropic", ev.data, err)
				continue
			}

			switch event.Type {
			case "error":
				msg := "provider error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				em.end(endEvent(StopError, nil, a.withDebug(&StreamError{
					Kind:    ErrProvider,
					Message: msg,
				}, url, jsonBody)))
				return

			case "content_block_start":
				if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
					currentTool = event.Index
					toolIndex++
					delta := ToolCallDelta{
						Index: toolIndex,
						ID:    event.ContentBlock.ID,
						Name:  event.ContentBlock.Name,
					}
					acc.add(delta)
					if !em.send(StreamEvent{Type: EventToolCallDelta, Delta: delta}) {
						em.cancelledEnd()
						return
					}
				}

			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				switch event.Delta.Type {
				case "text_delta":
					if !em.send(StreamEvent{Type: EventText, Text: event.Delta.Text}) {
						em.cancelledEnd()
						return
					}
				case "input_json_delta":
					if currentTool != event.Index {
						continue
					}
					delta := ToolCallDelta{Index: toolIndex, Arguments: event.Delta.PartialJSON}
					acc.add(delta)
					if !em.send(StreamEvent{Type: EventToolCallDelta, Delta: delta}) {
						em.cancelledEnd()
						return
					}
				}

			case "content_block_stop":
				if currentTool == event.Index {
					currentTool = -1
				}

			case "message_delta":
				if event.Delta != nil {
					stop = mapAnthropicStopReason(event.Delta.StopReason)
				}

			case "message_stop":
				if ctx.Err() != nil {
					em.cancelledEnd()
					return
				}
				if stop == StopToolUse || (!acc.empty() && stop == StopComplete) {
					em.end(endEvent(StopToolUse, acc.flush(), nil))
					return
				}
				em.end(endEvent(stop, nil, nil))
				return
			}
		}

		// Transport ended without message_stop.
		if ctx.Err() != nil {
			em.cancelledEnd()
			return
		}
		if !acc.empty() {
			em.end(endEvent(StopToolUse, acc.flush(), nil))
			return
		}
		em.end(endEvent(stop, nil, nil))
	}()

	return events, nil
}

func mapAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopLength
	default:
		return StopComplete
	}
}

func (a *Anthropic) withDebug(err *StreamError, url string, body []byte) *StreamError {
	if a.Debug {
		err.URL = url
		err.RequestBody = string(body)
	}
	return err
}
