package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileTool writes content to a file.
type WriteFileTool struct {
	BaseTool
	ConfirmFn ConfirmFunc
}

// NewWriteFileTool creates a new write file tool.
func NewWriteFileTool(confirmFn ConfirmFunc) *WriteFileTool {
	return &WriteFileTool{
		ConfirmFn: confirmFn,
		BaseTool: BaseTool{
			Def: ToolDefinition{
				Name:        "write_file",
				Description: "Write content to a file at the specified path, creating parent directories as needed",
				Parameters: &JSONSchema{
					Type: "object",
					Properties: map[string]*JSONSchema{
						"path": {
							Type:        "string",
							Description: "The path to the file to write",
						},
						"content": {
							Type:        "string",
							Description: "The content to write to the file",
						},
					},
					Required: []string{"path", "content"},
				},
			},
		},
	}
}

// Execute writes content to the file.
func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	if t.ConfirmFn != nil {
		prompt := fmt.Sprintf("Write to file: %s (%d bytes)", path, len(content))
		if !t.ConfirmFn(prompt) {
			return Failure(ErrKindExecution, "user denied write permission")
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Failure(ErrKindExecution, fmt.Sprintf("failed to create directory: %v", err))
		}
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return Failure(ErrKindExecution, fmt.Sprintf("failed to write file: %v", err))
	}

	return ToolResult{
		Success: true,
		Output:  fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path),
	}
}
