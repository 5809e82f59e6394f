package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EditTool performs surgical string replacement in files.
type EditTool struct {
	BaseTool
	ConfirmFn ConfirmFunc
}

// NewEditTool creates a new edit file tool.
func NewEditTool(confirmFn ConfirmFunc) *EditTool {
	return &EditTool{
		ConfirmFn: confirmFn,
		BaseTool: BaseTool{
			Def: ToolDefinition{
				Name:        "edit_file",
				Description: "Make a surgical text replacement in a file. The old_string must match exactly and be unique in the file. Use this instead of write_file for modifying existing files.",
				Parameters: &JSONSchema{
					Type: "object",
					Properties: map[string]*JSONSchema{
						"path": {
							Type:        "string",
							Description: "The path to the file to edit",
						},
						"old_string": {
							Type:        "string",
							Description: "The exact text to find and replace (must be unique in file)",
						},
						"new_string": {
							Type:        "string",
							Description: "The text to replace old_string with",
						},
					},
					Required: []string{"path", "old_string", "new_string"},
				},
			},
		},
	}
}

// Execute performs the replacement.
func (t *EditTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	path, _ := args["path"].(string)
	oldString, _ := args["old_string"].(string)
	newString, _ := args["new_string"].(string)

	fileInfo, err := os.Stat(path)
	if err != nil {
		return Failure(ErrKindExecution, fmt.Sprintf("failed to stat file: %v", err))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Failure(ErrKindExecution, fmt.Sprintf("failed to read file: %v", err))
	}
	fileContent := string(content)

	count := strings.Count(fileContent, oldString)
	switch {
	case count == 0:
		return Failure(ErrKindExecution, "old_string not found in file. Make sure you're using the exact text from the file.")
	case count > 1:
		return Failure(ErrKindExecution, fmt.Sprintf("old_string appears %d times in file. It must be unique. Add more surrounding context to make it unique.", count))
	case oldString == newString:
		return Failure(ErrKindExecution, "old_string and new_string are identical. No changes needed.")
	}

	if t.ConfirmFn != nil {
		prompt := fmt.Sprintf("Edit file %s:\n%s", path, diffPreview(oldString, newString))
		if !t.ConfirmFn(prompt) {
			return Failure(ErrKindExecution, "user denied edit permission")
		}
	}

	newContent := strings.Replace(fileContent, oldString, newString, 1)
	if err := os.WriteFile(path, []byte(newContent), fileInfo.Mode()); err != nil {
		return Failure(ErrKindExecution, fmt.Sprintf("failed to write file: %v", err))
	}

	oldLines := strings.Count(oldString, "\n") + 1
	newLines := strings.Count(newString, "\n") + 1
	return ToolResult{
		Success: true,
		Output:  fmt.Sprintf("Successfully edited %s: replaced %d lines with %d lines", path, oldLines, newLines),
	}
}

// diffPreview renders a short before/after view for the confirmation
// prompt.
func diffPreview(oldString, newString string) string {
	var sb strings.Builder
	writeSide := func(marker string, text string) {
		const maxLines = 5
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			if i >= maxLines {
				sb.WriteString(fmt.Sprintf("\n  ... (%d more lines)", len(lines)-maxLines))
				break
			}
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(marker + " " + line)
		}
	}
	writeSide("-", oldString)
	sb.WriteString("\n")
	writeSide("+", newString)
	return sb.String()
}
