package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// ListDirTool lists files in a directory.
type ListDirTool struct {
	BaseTool
}

// NewListDirTool creates a new list directory tool.
func NewListDirTool() *ListDirTool {
	return &ListDirTool{
		BaseTool: BaseTool{
			Def: ToolDefinition{
				Name:        "list_directory",
				Description: "List files and directories at the specified path",
				Parameters: &JSONSchema{
					Type: "object",
					Properties: map[string]*JSONSchema{
						"path": {
							Type:        "string",
							Description: "The directory path to list (defaults to current directory)",
						},
					},
					Required: []string{},
				},
			},
		},
	}
}

// Execute lists the directory contents as a JSON entries array so the
// model gets a structure it can reason over.
func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return Failure(ErrKindExecution, fmt.Sprintf("failed to list directory: %v", err))
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}

	out, err := json.Marshal(map[string]any{"entries": names})
	if err != nil {
		return Failure(ErrKindExecution, err.Error())
	}
	return ToolResult{Success: true, Output: string(out)}
}
