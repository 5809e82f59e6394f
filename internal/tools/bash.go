package tools

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// defaultShellTimeout bounds a single shell invocation.
const defaultShellTimeout = 300 * time.Second

// BashTool executes shell commands.
type BashTool struct {
	BaseTool
	ConfirmFn ConfirmFunc
	Timeout   time.Duration
}

// NewBashTool creates a new shell command tool.
func NewBashTool(confirmFn ConfirmFunc) *BashTool {
	return &BashTool{
		ConfirmFn: confirmFn,
		Timeout:   defaultShellTimeout,
		BaseTool: BaseTool{
			Def: ToolDefinition{
				Name:        "run_command",
				Description: "Execute a shell command and return its combined output",
				Parameters: &JSONSchema{
					Type: "object",
					Properties: map[string]*JSONSchema{
						"command": {
							Type:        "string",
							Description: "The shell command to execute",
						},
						"timeout_seconds": {
							Type:        "integer",
							Description: "Optional timeout override in seconds",
						},
					},
					Required: []string{"command"},
				},
			},
		},
	}
}

// Execute runs the shell command.
func (t *BashTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	command, _ := args["command"].(string)

	if t.ConfirmFn != nil {
		if !t.ConfirmFn(fmt.Sprintf("Run command: %s", command)) {
			return Failure(ErrKindExecution, "user denied command execution")
		}
	}

	timeout := t.Timeout
	if override, ok := args["timeout_seconds"].(float64); ok && override > 0 {
		timeout = time.Duration(override) * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()

	if execCtx.Err() == context.DeadlineExceeded {
		return Failure(ErrKindTimeout, fmt.Sprintf("command timed out after %s", timeout))
	}

	if err != nil {
		res := Failure(ErrKindExecution, err.Error())
		res.Output = string(output)
		return res
	}

	result := string(output)
	if result == "" {
		result = "(no output)"
	}
	return ToolResult{Success: true, Output: result}
}
