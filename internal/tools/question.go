package tools

import (
	"context"
	"encoding/json"
)

// PromptFunc asks the user a free-form question and returns their
// answer. Implementations must be safe to call from tool goroutines.
type PromptFunc func(question string) (string, bool)

// AskUserTool lets the model ask the user a clarifying question
// mid-turn. The answer is returned as the tool result.
type AskUserTool struct {
	BaseTool
	PromptFn PromptFunc
}

// NewAskUserTool creates a new interactive question tool.
func NewAskUserTool(promptFn PromptFunc) *AskUserTool {
	return &AskUserTool{
		PromptFn: promptFn,
		BaseTool: BaseTool{
			Def: ToolDefinition{
				Name:        "ask_user",
				Description: "Ask the user a clarifying question and wait for their answer. Use sparingly, only when you cannot proceed without more information.",
				Parameters: &JSONSchema{
					Type: "object",
					Properties: map[string]*JSONSchema{
						"question": {
							Type:        "string",
							Description: "The question to put to the user",
						},
					},
					Required: []string{"question"},
				},
			},
		},
	}
}

// Execute asks the question through the configured prompt surface.
func (t *AskUserTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	question, _ := args["question"].(string)

	if t.PromptFn == nil {
		return Failure(ErrKindExecution, "no interactive prompt surface is available")
	}

	type outcome struct {
		answer   string
		answered bool
	}
	ch := make(chan outcome, 1)
	go func() {
		answer, answered := t.PromptFn(question)
		ch <- outcome{answer, answered}
	}()

	select {
	case out := <-ch:
		if !out.answered {
			return Failure(ErrKindExecution, "user declined to answer")
		}
		body, _ := json.Marshal(map[string]string{"answer": out.answer})
		return ToolResult{Success: true, Output: string(body)}
	case <-ctx.Done():
		return Failure(ErrKindExecution, "question cancelled")
	}
}
